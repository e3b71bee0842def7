package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"seasonbook/internal/domain"
	"seasonbook/internal/events"
	"seasonbook/internal/metrics"
	"seasonbook/internal/models"
	"seasonbook/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const referenceAttempts = 5

// BookingService orchestrates validation, availability, pricing, persistence and
// status changes for bookings of one season and school at a time.
type BookingService struct {
	repo       domain.Repository
	checker    domain.AvailabilityChecker
	calculator domain.PriceCalculator
	workflow   domain.StatusChanger
	locker     domain.ResourceLocker
	publisher  domain.EventPublisher
	damageRate float64
	clock      domain.Clock
	logger     zerolog.Logger

	newReference func() string
}

type Option func(*BookingService)

// WithLocker closes the check-then-persist window on shared resources.
func WithLocker(l domain.ResourceLocker) Option { return func(s *BookingService) { s.locker = l } }

func WithPublisher(p domain.EventPublisher) Option {
	return func(s *BookingService) { s.publisher = p }
}

func WithClock(c domain.Clock) Option { return func(s *BookingService) { s.clock = c } }

func WithDamageFeeRate(rate float64) Option { return func(s *BookingService) { s.damageRate = rate } }

func WithLogger(l *zerolog.Logger) Option {
	return func(s *BookingService) {
		if l != nil {
			s.logger = l.With().Str("component", "booking_service").Logger()
		}
	}
}

func NewBookingService(repo domain.Repository, checker domain.AvailabilityChecker, calculator domain.PriceCalculator, workflow domain.StatusChanger, opts ...Option) *BookingService {
	s := &BookingService{
		repo:         repo,
		checker:      checker,
		calculator:   calculator,
		workflow:     workflow,
		damageRate:   models.DefaultDamageFeeRate,
		clock:        domain.SystemClock{},
		logger:       zerolog.Nop(),
		newReference: newReference,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newReference() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return models.ReferencePrefix + strings.ToUpper(token[:8])
}

// CreateBooking validates the input, checks availability when a course, monitor or
// equipment is involved, prices the booking and persists it with its nested items.
func (s *BookingService) CreateBooking(ctx context.Context, scope models.Scope, in models.BookingInput) (*models.Booking, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	b, err := s.newBooking(scope, in)
	if err != nil {
		return nil, err
	}

	r, err := s.resolveRates(ctx, b, in.PerPersonRate, in.DailyRate, nil)
	if err != nil {
		return nil, err
	}
	if err := s.prepareEquipment(ctx, b, false); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, repository.BookingLockKeys(b))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureAvailable(ctx, b); err != nil {
		return nil, err
	}
	price, err := s.price(ctx, b, r, in.InsuranceAmount)
	if err != nil {
		return nil, err
	}
	b.ApplyPrice(price)

	if err := s.insert(ctx, b); err != nil {
		return nil, err
	}
	unlock()

	metrics.IncBookingCreated(string(b.Type))
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("reference", b.Reference).
		Int64("season_id", scope.SeasonID).
		Int64("school_id", scope.SchoolID).
		Float64("total_price", b.TotalPrice).
		Msg("booking created")
	s.publish(events.EventBookingCreated, b, "")

	return s.load(ctx, scope, b.ID)
}

func (s *BookingService) newBooking(scope models.Scope, in models.BookingInput) (*models.Booking, error) {
	b := &models.Booking{
		SeasonID:         scope.SeasonID,
		SchoolID:         scope.SchoolID,
		Type:             in.Type,
		ClientID:         in.ClientID,
		CourseID:         in.CourseID,
		MonitorID:        in.MonitorID,
		ParticipantCount: in.ParticipantCount,
		StartDate:        models.DateOnly(in.StartDate),
		EndDate:          models.DateOnly(in.EndDate),
		StartTime:        strings.TrimSpace(in.StartTime),
		EndTime:          strings.TrimSpace(in.EndTime),
		Status:           models.StatusPending,
		HasInsurance:     in.HasInsurance || in.InsuranceAmount != nil,
		PromoCode:        strings.TrimSpace(in.PromoCode),
		Notes:            in.Notes,
		Extras:           append([]models.BookingExtra(nil), in.Extras...),
		Equipment:        append([]models.BookingEquipment(nil), in.Equipment...),
	}

	if !b.Type.Valid() {
		return nil, domain.NewValidationError("type", "unknown booking type %q", in.Type)
	}
	if b.ClientID <= 0 {
		return nil, domain.NewValidationError("client_id", "is required")
	}
	if in.StartDate.IsZero() {
		return nil, domain.NewValidationError("start_date", "is required")
	}
	if in.EndDate.IsZero() {
		b.EndDate = b.StartDate
	}
	if err := s.validateSchedule(b, true); err != nil {
		return nil, err
	}
	if err := validateItems(b); err != nil {
		return nil, err
	}
	return b, nil
}

// validateSchedule checks the fields every create and update must satisfy.
// The past-start check applies only when the start date is being set.
func (s *BookingService) validateSchedule(b *models.Booking, startSet bool) error {
	if startSet && b.StartDate.Before(models.DateOnly(s.clock.Now())) {
		return domain.NewValidationError("start_date", "must not be in the past")
	}
	if b.EndDate.Before(b.StartDate) {
		return domain.NewValidationError("end_date", "must not be before start_date")
	}
	if err := validateClock("start_time", b.StartTime); err != nil {
		return err
	}
	if err := validateClock("end_time", b.EndTime); err != nil {
		return err
	}
	if b.ParticipantCount < 0 {
		return domain.NewValidationError("participant_count", "must be positive")
	}
	if b.ParticipantCount == 0 {
		b.ParticipantCount = 1
	}
	if (b.Type == models.TypeCourse || b.Type == models.TypeActivity) && b.CourseID == nil {
		return domain.NewValidationError("course_id", "is required for %s bookings", b.Type)
	}
	return nil
}

func validateClock(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(models.TimeLayout, value); err != nil {
		return domain.NewValidationError(field, "must be HH:MM, got %q", value)
	}
	return nil
}

func validateItems(b *models.Booking) error {
	for i := range b.Extras {
		e := &b.Extras[i]
		if strings.TrimSpace(e.Name) == "" {
			return domain.NewValidationError("extras", "item %d has no name", i)
		}
		if e.UnitPrice < 0 || e.Quantity < 0 {
			return domain.NewValidationError("extras", "%s: price and quantity must not be negative", e.Name)
		}
		e.Recalculate()
	}
	for i := range b.Equipment {
		e := &b.Equipment[i]
		if strings.TrimSpace(e.EquipmentType) == "" {
			return domain.NewValidationError("equipment", "item %d has no equipment_type", i)
		}
		if e.DailyRate < 0 {
			return domain.NewValidationError("equipment", "%s: daily rate must not be negative", e.EquipmentType)
		}
	}
	b.HasEquipment = len(b.Equipment) > 0
	return nil
}

func validateScope(scope models.Scope) error {
	if !scope.Valid() {
		return domain.NewValidationError("scope", "season_id and school_id are required")
	}
	return nil
}

// rates are the nominal prices the calculator multiplies.
type rates struct {
	perPerson float64
	daily     float64
}

// resolveRates reads the course price unless overridden. previous, when set, is the stored
// booking whose base price yields the material daily rate.
func (s *BookingService) resolveRates(ctx context.Context, b *models.Booking, perPerson, daily *float64, previous *models.Booking) (rates, error) {
	var r rates
	if b.CourseID != nil {
		course, err := s.repo.GetCourse(ctx, b.Scope(), *b.CourseID)
		if err != nil {
			return r, domain.FromStore("get course", "course", *b.CourseID, err)
		}
		if b.Type != models.TypeMaterial && course.Kind != "" && course.Kind != string(b.Type) {
			return r, domain.NewValidationError("course_id", "course %d is a %s, not a %s", course.ID, course.Kind, b.Type)
		}
		r.perPerson = course.PricePerPerson
	}
	if perPerson != nil {
		r.perPerson = *perPerson
	}

	switch {
	case daily != nil:
		r.daily = *daily
	case previous != nil && previous.Type == models.TypeMaterial:
		r.daily = previous.BasePrice / float64(previous.RentalDays())
	}
	return r, nil
}

// prepareEquipment fills rates and names from the inventory and sizes every unit to the
// booking's rental days. With resize, stored units are resized to the current dates too.
func (s *BookingService) prepareEquipment(ctx context.Context, b *models.Booking, resize bool) error {
	days := b.RentalDays()
	inventory := make(map[string]*models.EquipmentInventory)

	for i := range b.Equipment {
		e := &b.Equipment[i]
		if e.DailyRate == 0 || e.Name == "" {
			inv, ok := inventory[e.EquipmentType]
			if !ok {
				var err error
				inv, err = s.repo.GetEquipmentInventory(ctx, b.Scope(), e.EquipmentType)
				if err != nil {
					if errors.Is(err, domain.ErrRecordNotFound) {
						return &domain.NotFoundError{Entity: "equipment", Reference: e.EquipmentType}
					}
					return domain.FromStore("get equipment inventory", "equipment", 0, err)
				}
				inventory[e.EquipmentType] = inv
			}
			if e.DailyRate == 0 {
				e.DailyRate = inv.DailyRate
			}
			if e.Name == "" {
				e.Name = inv.Name
			}
		}
		if e.RentalDays == 0 || resize {
			e.RentalDays = days
		}
		e.Recalculate()
	}
	b.HasEquipment = len(b.Equipment) > 0
	return nil
}

func (s *BookingService) ensureAvailable(ctx context.Context, b *models.Booking) error {
	if !b.HasSchedulableResource() {
		return nil
	}
	result, err := s.checker.Check(ctx, b.AvailabilityRequest())
	if err != nil {
		return err
	}
	if !result.Available {
		for _, c := range result.Conflicts {
			metrics.IncAvailabilityConflict(c.Type)
		}
		return &domain.AvailabilityError{Conflicts: result.Conflicts, Suggestions: result.Suggestions}
	}
	return nil
}

func (s *BookingService) price(ctx context.Context, b *models.Booking, r rates, insurance *float64) (*models.PriceBreakdown, error) {
	started := time.Now()
	defer func() { metrics.ObservePriceDuration(time.Since(started)) }()

	return s.calculator.Calculate(ctx, models.PriceRequest{
		Scope:            b.Scope(),
		Type:             b.Type,
		ClientID:         b.ClientID,
		CourseID:         b.CourseID,
		ParticipantCount: b.ParticipantCount,
		PerPersonRate:    r.perPerson,
		DailyRate:        r.daily,
		StartDate:        b.StartDate,
		EndDate:          b.EndDate,
		StartTime:        b.StartTime,
		Extras:           b.Extras,
		Equipment:        b.Equipment,
		HasInsurance:     b.HasInsurance,
		InsuranceAmount:  insurance,
		PromoCode:        b.PromoCode,
	})
}

// insert assigns a fresh reference and retries when it collides with an existing one.
func (s *BookingService) insert(ctx context.Context, b *models.Booking) error {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		b.Reference = s.newReference()
		err := s.repo.CreateBooking(ctx, b)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrDuplicateReference) {
			s.logger.Debug().Str("reference", b.Reference).Msg("booking reference collision, regenerating")
			continue
		}
		return s.systemError("create booking", err)
	}
	return s.systemError("create booking", fmt.Errorf("no unique reference after %d attempts", referenceAttempts))
}

// UpdateBooking applies a partial edit. Availability is re-checked only when the schedule
// or the occupied resources change, and the price is recomputed only when a price input changes.
func (s *BookingService) UpdateBooking(ctx context.Context, scope models.Scope, id int64, upd models.BookingUpdate) (*models.Booking, error) {
	current, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, &domain.StatusTransitionError{BookingID: id, From: current.Status, Reason: "booking is closed for edits"}
	}
	if upd.Version != 0 && upd.Version != current.Version {
		return nil, fmt.Errorf("update booking %d: %w", id, domain.ErrConcurrentModification)
	}

	b := cloneBooking(current)
	ch := applyUpdate(b, upd)
	if ch.schedule || ch.price {
		if err := s.validateSchedule(b, !b.StartDate.Equal(current.StartDate)); err != nil {
			return nil, err
		}
	}
	if err := validateItems(b); err != nil {
		return nil, err
	}
	if ch.equipment || ch.dates {
		if err := s.prepareEquipment(ctx, b, ch.dates); err != nil {
			return nil, err
		}
	}

	if ch.schedule && b.HasSchedulableResource() {
		keys := append(repository.BookingLockKeys(current), repository.BookingLockKeys(b)...)
		unlock, err := s.lock(ctx, keys)
		if err != nil {
			return nil, err
		}
		defer unlock()

		if err := s.ensureAvailable(ctx, b); err != nil {
			return nil, err
		}
	}

	if ch.price {
		r, err := s.resolveRates(ctx, b, upd.PerPersonRate, upd.DailyRate, current)
		if err != nil {
			return nil, err
		}
		price, err := s.price(ctx, b, r, upd.InsuranceAmount)
		if err != nil {
			return nil, err
		}
		b.ApplyPrice(price)
	}

	opts := models.SyncOptions{Extras: upd.Extras != nil, Equipment: ch.equipment || ch.dates}
	if err := s.repo.UpdateBooking(ctx, b, opts); err != nil {
		return nil, s.storeError("update booking", "booking", id, err)
	}

	s.logger.Info().
		Int64("booking_id", id).
		Str("reference", b.Reference).
		Bool("rescheduled", ch.schedule).
		Bool("repriced", ch.price).
		Msg("booking updated")
	s.publish(events.EventBookingUpdated, b, "")

	return s.load(ctx, scope, id)
}

type changes struct {
	schedule  bool
	price     bool
	dates     bool
	equipment bool
}

func applyUpdate(b *models.Booking, upd models.BookingUpdate) changes {
	var ch changes

	if upd.CourseID != nil && !sameID(b.CourseID, upd.CourseID) {
		b.CourseID = upd.CourseID
		ch.schedule, ch.price = true, true
	}
	if upd.MonitorID != nil && !sameID(b.MonitorID, upd.MonitorID) {
		b.MonitorID = upd.MonitorID
		ch.schedule = true
	}
	if upd.ParticipantCount != nil && *upd.ParticipantCount != b.ParticipantCount {
		b.ParticipantCount = *upd.ParticipantCount
		ch.schedule, ch.price = true, true
	}
	if upd.StartDate != nil && !models.DateOnly(*upd.StartDate).Equal(b.StartDate) {
		b.StartDate = models.DateOnly(*upd.StartDate)
		ch.dates = true
	}
	if upd.EndDate != nil && !models.DateOnly(*upd.EndDate).Equal(b.EndDate) {
		b.EndDate = models.DateOnly(*upd.EndDate)
		ch.dates = true
	}
	if ch.dates {
		ch.schedule, ch.price = true, true
	}
	if upd.StartTime != nil && strings.TrimSpace(*upd.StartTime) != b.StartTime {
		b.StartTime = strings.TrimSpace(*upd.StartTime)
		ch.schedule, ch.price = true, true
	}
	if upd.EndTime != nil && strings.TrimSpace(*upd.EndTime) != b.EndTime {
		b.EndTime = strings.TrimSpace(*upd.EndTime)
		ch.schedule = true
	}
	if upd.HasInsurance != nil && *upd.HasInsurance != b.HasInsurance {
		b.HasInsurance = *upd.HasInsurance
		ch.price = true
	}
	if upd.InsuranceAmount != nil {
		b.HasInsurance = true
		ch.price = true
	}
	if upd.PromoCode != nil && strings.TrimSpace(*upd.PromoCode) != b.PromoCode {
		b.PromoCode = strings.TrimSpace(*upd.PromoCode)
		ch.price = true
	}
	if upd.PerPersonRate != nil || upd.DailyRate != nil {
		ch.price = true
	}
	if upd.Notes != nil {
		b.Notes = *upd.Notes
	}
	if upd.Extras != nil {
		b.Extras = append([]models.BookingExtra(nil), (*upd.Extras)...)
		ch.price = true
	}
	if upd.Equipment != nil {
		b.Equipment = append([]models.BookingEquipment(nil), (*upd.Equipment)...)
		ch.equipment = true
		ch.schedule, ch.price = true, true
	}
	return ch
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneBooking(b *models.Booking) *models.Booking {
	out := *b
	out.Extras = append([]models.BookingExtra(nil), b.Extras...)
	out.Equipment = append([]models.BookingEquipment(nil), b.Equipment...)
	out.Payments = append([]models.BookingPayment(nil), b.Payments...)
	return &out
}

// UpdateBookingStatus moves the booking through the workflow.
func (s *BookingService) UpdateBookingStatus(ctx context.Context, scope models.Scope, id int64, status models.Status, reason string) (*models.Booking, error) {
	b, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.workflow.ChangeStatus(ctx, b, status, reason); err != nil {
		return nil, err
	}
	return s.load(ctx, scope, id)
}

// DeleteBooking cancels a pending or confirmed booking and tombstones it. The row and
// its reference are kept.
func (s *BookingService) DeleteBooking(ctx context.Context, scope models.Scope, id int64, reason string) (bool, error) {
	b, err := s.load(ctx, scope, id)
	if err != nil {
		return false, err
	}
	if b.Status != models.StatusPending && b.Status != models.StatusConfirmed {
		return false, &domain.StatusTransitionError{
			BookingID: id,
			From:      b.Status,
			To:        models.StatusCancelled,
			Reason:    "only pending or confirmed bookings can be deleted",
		}
	}
	if reason == "" {
		reason = "booking deleted"
	}

	cancelled, err := s.workflow.ChangeStatus(ctx, b, models.StatusCancelled, reason)
	if err != nil {
		return false, err
	}
	if err := s.repo.TombstoneBooking(ctx, scope, id, s.clock.Now()); err != nil {
		return false, s.storeError("tombstone booking", "booking", id, err)
	}

	s.logger.Info().Int64("booking_id", id).Str("reference", b.Reference).Msg("booking deleted")
	s.publish(events.EventBookingDeleted, cancelled, b.Status)
	return true, nil
}

func (s *BookingService) FindBookingByID(ctx context.Context, scope models.Scope, id int64) (*models.Booking, error) {
	return s.load(ctx, scope, id)
}

func (s *BookingService) FindBookingByReference(ctx context.Context, scope models.Scope, reference string) (*models.Booking, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	reference = strings.ToUpper(strings.TrimSpace(reference))
	if reference == "" {
		return nil, domain.NewValidationError("reference", "is required")
	}
	b, err := s.repo.GetBookingByReference(ctx, scope, reference)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{Entity: "booking", Reference: reference}
		}
		return nil, s.storeError("get booking by reference", "booking", 0, err)
	}
	return b, nil
}

// GetBookings lists bookings of the scope, newest first.
func (s *BookingService) GetBookings(ctx context.Context, scope models.Scope, filter models.BookingFilter) (*models.BookingPage, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, domain.NewValidationError("status", "unknown status %q", st)
		}
	}
	page, err := s.repo.ListBookings(ctx, scope, filter)
	if err != nil {
		return nil, s.storeError("list bookings", "booking", 0, err)
	}
	return page, nil
}

// SearchBookings matches query against reference and notes on top of filter.
func (s *BookingService) SearchBookings(ctx context.Context, scope models.Scope, query string, filter models.BookingFilter) (*models.BookingPage, error) {
	filter.Search = strings.TrimSpace(query)
	return s.GetBookings(ctx, scope, filter)
}

func (s *BookingService) GetBookingStats(ctx context.Context, scope models.Scope) (*models.BookingStats, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	stats, err := s.repo.GetStats(ctx, scope, s.clock.Now())
	if err != nil {
		return nil, s.storeError("booking stats", "booking", 0, err)
	}
	return stats, nil
}

// CheckAvailability runs the checker without creating anything.
func (s *BookingService) CheckAvailability(ctx context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error) {
	if err := validateScope(req.Scope); err != nil {
		return nil, err
	}
	return s.checker.Check(ctx, req)
}

// CalculatePrice quotes a booking input without persisting it.
func (s *BookingService) CalculatePrice(ctx context.Context, scope models.Scope, in models.BookingInput) (*models.PriceBreakdown, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	b, err := s.newBooking(scope, in)
	if err != nil {
		return nil, err
	}
	r, err := s.resolveRates(ctx, b, in.PerPersonRate, in.DailyRate, nil)
	if err != nil {
		return nil, err
	}
	if err := s.prepareEquipment(ctx, b, false); err != nil {
		return nil, err
	}
	return s.price(ctx, b, r, in.InsuranceAmount)
}

func (s *BookingService) load(ctx context.Context, scope models.Scope, id int64) (*models.Booking, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	b, err := s.repo.GetBooking(ctx, scope, id)
	if err != nil {
		return nil, s.storeError("get booking", "booking", id, err)
	}
	return b, nil
}

func (s *BookingService) lock(ctx context.Context, keys []string) (func(), error) {
	if s.locker == nil || len(keys) == 0 {
		return func() {}, nil
	}
	started := time.Now()
	unlock, err := s.locker.Lock(ctx, keys)
	metrics.ObserveLockWait(time.Since(started))
	if err != nil {
		return nil, s.systemError("lock resources", err)
	}
	return unlock, nil
}

func (s *BookingService) storeError(op, entity string, id int64, err error) error {
	mapped := domain.FromStore(op, entity, id, err)
	if !domain.IsExpected(mapped) {
		s.logger.Error().Err(err).Str("op", op).Int64("id", id).Msg("booking gateway failed")
	}
	return mapped
}

func (s *BookingService) systemError(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Msg("booking operation failed")
	return &domain.SystemError{Op: op, Err: err}
}

func (s *BookingService) publish(eventType string, b *models.Booking, previous models.Status) {
	if s.publisher == nil {
		return
	}
	payload := events.NewBookingPayload(b, previous, s.clock.Now())
	if err := s.publisher.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}
