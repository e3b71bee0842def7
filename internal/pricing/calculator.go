package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"seasonbook/internal/config"
	"seasonbook/internal/domain"
	"seasonbook/internal/models"

	"github.com/rs/zerolog"
)

// Round2 rounds a money amount to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// baseStrategy computes the base price and the multiplier applied to the nominal rate.
type baseStrategy func(c *Calculator, req models.PriceRequest, days int) (price, multiplier float64)

// Calculator prices a booking request. It is pure apart from the loyalty and demand lookups.
type Calculator struct {
	cfg     config.PricingConfig
	loyalty domain.LoyaltyProvider
	demand  domain.DemandProvider
	clock   domain.Clock
	logger  zerolog.Logger
	base    map[models.BookingType]baseStrategy
}

type Option func(*Calculator)

func WithLoyalty(p domain.LoyaltyProvider) Option {
	return func(c *Calculator) { c.loyalty = p }
}

func WithDemand(p domain.DemandProvider) Option {
	return func(c *Calculator) { c.demand = p }
}

func WithClock(clock domain.Clock) Option {
	return func(c *Calculator) { c.clock = clock }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger.With().Str("component", "pricing").Logger()
		}
	}
}

func NewCalculator(cfg config.PricingConfig, opts ...Option) *Calculator {
	c := &Calculator{
		cfg:    cfg,
		clock:  domain.SystemClock{},
		logger: zerolog.Nop(),
	}
	c.base = map[models.BookingType]baseStrategy{
		models.TypeCourse:   courseBase,
		models.TypeActivity: activityBase,
		models.TypeMaterial: materialBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func courseBase(c *Calculator, req models.PriceRequest, _ int) (float64, float64) {
	m := 1 - bandRate(c.cfg.GroupAdjustment, req.ParticipantCount)
	return req.PerPersonRate * float64(req.ParticipantCount) * m, m
}

func activityBase(c *Calculator, req models.PriceRequest, days int) (float64, float64) {
	m := 1 - bandRate(c.cfg.DurationDiscount, days)
	return req.PerPersonRate * float64(req.ParticipantCount) * m, m
}

func materialBase(_ *Calculator, req models.PriceRequest, days int) (float64, float64) {
	return req.DailyRate * float64(days), 1
}

// bandRate returns the discount of the highest band whose threshold is reached.
// Bands are sorted by descending threshold.
func bandRate(bands []config.Band, value int) float64 {
	for _, b := range bands {
		if value >= b.Min {
			return b.Discount
		}
	}
	return 0
}

func calcErr(reason string, err error) error {
	return &domain.PriceCalculationError{Reason: reason, Err: err}
}

// Calculate runs the pricing pipeline: base, extras, equipment, insurance,
// discounts, tax, dynamic adjustment. Every component is rounded to cents and
// the total is the sum of the rounded components.
func (c *Calculator) Calculate(ctx context.Context, req models.PriceRequest) (*models.PriceBreakdown, error) {
	strategy, ok := c.base[req.Type]
	if !ok {
		return nil, calcErr(fmt.Sprintf("unknown booking type %q", req.Type), nil)
	}
	if req.StartDate.IsZero() {
		return nil, calcErr("start date is required", nil)
	}
	end := req.EndDate
	if end.IsZero() {
		end = req.StartDate
	}
	if models.DateOnly(end).Before(models.DateOnly(req.StartDate)) {
		return nil, calcErr("end date before start date", nil)
	}
	startAt, err := startInstant(req.StartDate, req.StartTime)
	if err != nil {
		return nil, calcErr("malformed start time", err)
	}
	if req.PerPersonRate < 0 || req.DailyRate < 0 {
		return nil, calcErr("negative rate", nil)
	}
	if req.ParticipantCount < 1 {
		req.ParticipantCount = 1
	}

	days := models.DaysInclusive(req.StartDate, end)
	p := &models.PriceBreakdown{
		Type:             req.Type,
		PerPersonRate:    req.PerPersonRate,
		ParticipantCount: req.ParticipantCount,
		RentalDays:       days,
		Currency:         c.currency(),
	}

	base, multiplier := strategy(c, req, days)
	p.BasePrice = Round2(base)
	p.BaseMultiplier = multiplier

	p.ExtrasPrice = extrasTotal(req.Extras)
	p.EquipmentPrice = equipmentTotal(req.Equipment, days)
	p.InsurancePrice = c.insurance(req, p.BasePrice+p.ExtrasPrice+p.EquipmentPrice)
	p.Subtotal = Round2(p.BasePrice + p.ExtrasPrice + p.EquipmentPrice + p.InsurancePrice)

	if err := c.discounts(ctx, req, p); err != nil {
		return nil, err
	}

	p.TaxRate = c.taxRate(req.Scope)
	p.TaxAmount = Round2(p.TaxRate * (p.Subtotal - p.DiscountAmount))
	p.TotalBeforeDynamic = Round2(p.Subtotal - p.DiscountAmount + p.TaxAmount)

	c.dynamic(ctx, req, startAt, p)

	p.TotalPrice = Round2(p.BasePrice + p.ExtrasPrice + p.EquipmentPrice + p.InsurancePrice -
		p.DiscountAmount + p.TaxAmount + p.DynamicAdjustment)
	if p.TotalPrice <= 0 {
		return nil, calcErr(fmt.Sprintf("total %.2f is not positive", p.TotalPrice), nil)
	}
	return p, nil
}

func (c *Calculator) currency() string {
	if c.cfg.Currency == "" {
		return models.DefaultCurrency
	}
	return c.cfg.Currency
}

func startInstant(date time.Time, clock string) (time.Time, error) {
	d := models.DateOnly(date)
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return d, nil
	}
	t, err := time.Parse(models.TimeLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

func extrasTotal(extras []models.BookingExtra) float64 {
	var sum float64
	for _, e := range extras {
		if !e.Active {
			continue
		}
		qty := e.Quantity
		if qty < 1 {
			qty = 1
		}
		sum += e.UnitPrice * float64(qty)
	}
	return Round2(sum)
}

func equipmentTotal(items []models.BookingEquipment, days int) float64 {
	var sum float64
	for _, e := range items {
		rentalDays := e.RentalDays
		if rentalDays < 1 {
			rentalDays = days
		}
		sum += e.DailyRate * float64(rentalDays)
	}
	return Round2(sum)
}

func (c *Calculator) insurance(req models.PriceRequest, insured float64) float64 {
	if !req.HasInsurance {
		return 0
	}
	if req.InsuranceAmount != nil {
		return Round2(*req.InsuranceAmount)
	}
	if c.cfg.InsuranceFixed > 0 {
		return Round2(c.cfg.InsuranceFixed)
	}
	return Round2(c.cfg.InsuranceRate * insured)
}

// discounts are each computed against the subtotal and summed without a global cap.
func (c *Calculator) discounts(ctx context.Context, req models.PriceRequest, p *models.PriceBreakdown) error {
	today := models.DateOnly(c.clock.Now())
	daysUntil := int(models.DateOnly(req.StartDate).Sub(today).Hours() / 24)

	d := &p.Discounts
	d.EarlyBird = Round2(p.Subtotal * bandRate(c.cfg.EarlyBird, daysUntil))
	d.Group = Round2(p.Subtotal * bandRate(c.cfg.GroupDiscount, req.ParticipantCount))

	if c.loyalty != nil && req.ClientID > 0 {
		rate, err := c.loyalty.LoyaltyRate(ctx, req.Scope, req.ClientID)
		if err != nil {
			// loyalty is a bonus; a lookup failure must not block pricing
			c.logger.Warn().Err(err).Int64("client_id", req.ClientID).Msg("loyalty lookup failed")
		} else if rate > 0 {
			d.Loyalty = Round2(p.Subtotal * rate)
		}
	}

	if code := strings.ToUpper(strings.TrimSpace(req.PromoCode)); code != "" {
		promo, ok := c.lookupPromo(code)
		if !ok {
			return domain.NewValidationError("promo_code", "unknown promo code %q", req.PromoCode)
		}
		value := p.Subtotal*promo.Percent + promo.Amount
		if promo.MaxValue > 0 && value > promo.MaxValue {
			value = promo.MaxValue
		}
		d.Promo = Round2(value)
	}

	p.DiscountAmount = Round2(d.EarlyBird + d.Group + d.Loyalty + d.Promo)
	return nil
}

func (c *Calculator) lookupPromo(code string) (config.PromoCode, bool) {
	for k, v := range c.cfg.PromoCodes {
		if strings.EqualFold(k, code) {
			return v, true
		}
	}
	return config.PromoCode{}, false
}

func (c *Calculator) taxRate(scope models.Scope) float64 {
	if rate, ok := c.cfg.SchoolTaxRates[scope.SchoolID]; ok {
		return rate
	}
	return c.cfg.GlobalTaxRate()
}

// dynamic adds total × (m − 1) for each active multiplier.
func (c *Calculator) dynamic(ctx context.Context, req models.PriceRequest, startAt time.Time, p *models.PriceBreakdown) {
	dyn := &p.Dynamic
	dyn.DemandMultiplier, dyn.SeasonalMultiplier, dyn.LastMinuteMultiplier = 1, 1, 1

	cfg := c.cfg.Dynamic
	if !cfg.Enabled {
		return
	}

	if c.demand != nil && req.CourseID != nil && len(cfg.Demand) > 0 {
		occ, err := c.demand.Occupancy(ctx, req.Scope, *req.CourseID, req.StartDate)
		if err != nil {
			c.logger.Warn().Err(err).Int64("course_id", *req.CourseID).Msg("demand lookup failed")
		} else {
			for _, band := range cfg.Demand {
				if occ >= band.Min {
					dyn.DemandMultiplier = positive(band.Multiplier)
					break
				}
			}
		}
	}

	dyn.SeasonalMultiplier = seasonalMultiplier(cfg.Seasonal, req.StartDate.Month())

	hoursUntil := startAt.Sub(c.clock.Now()).Hours()
	if hoursUntil >= 0 {
		for _, band := range cfg.LastMinute {
			if hoursUntil < float64(band.WithinHours) {
				dyn.LastMinuteMultiplier = positive(band.Multiplier)
				break
			}
		}
	}

	total := p.TotalBeforeDynamic
	dyn.Demand = Round2(total * (dyn.DemandMultiplier - 1))
	dyn.Seasonal = Round2(total * (dyn.SeasonalMultiplier - 1))
	dyn.LastMinute = Round2(total * (dyn.LastMinuteMultiplier - 1))
	p.DynamicAdjustment = Round2(dyn.Demand + dyn.Seasonal + dyn.LastMinute)
}

func seasonalMultiplier(cfg config.SeasonalConfig, month time.Month) float64 {
	in := func(months []int) bool {
		for _, m := range months {
			if time.Month(m) == month {
				return true
			}
		}
		return false
	}
	switch {
	case in(cfg.PeakMonths):
		return positive(cfg.PeakMultiplier)
	case in(cfg.ShoulderMonths):
		return positive(cfg.ShoulderMultiplier)
	case in(cfg.OffSeasonMonths):
		return positive(cfg.OffSeasonMultiplier)
	}
	return 1
}

func positive(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}
