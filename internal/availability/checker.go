package availability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"seasonbook/internal/config"
	"seasonbook/internal/domain"
	"seasonbook/internal/models"

	"github.com/rs/zerolog"
)

// Checker answers whether a window is bookable for a course, a monitor and equipment units.
// Unavailability is reported in the result; errors are reserved for bad input,
// unknown resources and gateway failures.
type Checker struct {
	store  domain.ResourceStore
	cfg    config.AvailabilityConfig
	clock  domain.Clock
	logger zerolog.Logger
}

func NewChecker(store domain.ResourceStore, cfg config.AvailabilityConfig, clock domain.Clock, logger *zerolog.Logger) *Checker {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "availability").Logger()
	}
	return &Checker{store: store, cfg: cfg, clock: clock, logger: l}
}

// HoldingStatuses are the statuses that occupy capacity.
func (c *Checker) HoldingStatuses() []models.Status {
	if c.cfg.IgnorePendingHolds {
		return []models.Status{models.StatusConfirmed, models.StatusPaid}
	}
	return []models.Status{models.StatusPending, models.StatusConfirmed, models.StatusPaid}
}

// resources resolved once per check and reused for suggestion probes.
type resources struct {
	course    *models.Course
	monitor   *models.Monitor
	inventory map[string]*models.EquipmentInventory
}

func (c *Checker) Check(ctx context.Context, req models.AvailabilityRequest) (*models.AvailabilityResult, error) {
	w, err := requestWindow(req)
	if err != nil {
		return nil, err
	}
	if req.ParticipantCount < 1 {
		req.ParticipantCount = 1
	}

	res, err := c.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	result, blockers, err := c.evaluate(ctx, req, res, w)
	if err != nil {
		return nil, err
	}

	c.addWarnings(req, res, w, result)

	if !result.Available {
		suggestions, err := c.suggest(ctx, req, res, w, result, blockers)
		if err != nil {
			return nil, err
		}
		result.Suggestions = suggestions
		c.logger.Debug().
			Str("scope", req.Scope.String()).
			Int("conflicts", len(result.Conflicts)).
			Int("suggestions", len(suggestions)).
			Msg("window unavailable")
	}
	return result, nil
}

func requestWindow(req models.AvailabilityRequest) (window, error) {
	if !req.Scope.Valid() {
		return window{}, domain.NewValidationError("scope", "season_id and school_id are required")
	}
	if req.StartDate.IsZero() {
		return window{}, domain.NewValidationError("start_date", "is required")
	}
	w := window{start: models.DateOnly(req.StartDate), end: models.DateOnly(req.EndDate), from: -1, to: -1}
	if req.EndDate.IsZero() {
		w.end = w.start
	}
	if w.end.Before(w.start) {
		return window{}, domain.NewValidationError("end_date", "must not be before start_date")
	}

	from, err := parseClock(req.StartTime)
	if err != nil {
		return window{}, domain.NewValidationError("start_time", "%v", err)
	}
	to, err := parseClock(req.EndTime)
	if err != nil {
		return window{}, domain.NewValidationError("end_time", "%v", err)
	}
	if from >= 0 && to >= 0 {
		if to <= from {
			return window{}, domain.NewValidationError("end_time", "must be after start_time")
		}
		w.from, w.to = from, to
	}
	return w, nil
}

func (c *Checker) resolve(ctx context.Context, req models.AvailabilityRequest) (*resources, error) {
	res := &resources{inventory: make(map[string]*models.EquipmentInventory)}

	if req.CourseID != nil {
		course, err := c.store.GetCourse(ctx, req.Scope, *req.CourseID)
		if err != nil {
			return nil, lookupError(err, "course", *req.CourseID, "")
		}
		res.course = course
	}
	if req.MonitorID != nil {
		monitor, err := c.store.GetMonitor(ctx, req.Scope, *req.MonitorID)
		if err != nil {
			return nil, lookupError(err, "monitor", *req.MonitorID, "")
		}
		res.monitor = monitor
	}
	for _, eq := range req.Equipment {
		if _, ok := res.inventory[eq.EquipmentType]; ok {
			continue
		}
		inv, err := c.store.GetEquipmentInventory(ctx, req.Scope, eq.EquipmentType)
		if err != nil {
			return nil, lookupError(err, "equipment", 0, eq.EquipmentType)
		}
		res.inventory[eq.EquipmentType] = inv
	}
	return res, nil
}

func lookupError(err error, entity string, id int64, ref string) error {
	if errors.Is(err, domain.ErrRecordNotFound) {
		return &domain.NotFoundError{Entity: entity, ID: id, Reference: ref}
	}
	return &domain.SystemError{Op: "availability: load " + entity, Err: err}
}

// blockers remembers which bookings caused each hard conflict, for restock suggestions.
type blockers struct {
	equipment map[string][]*models.Booking
}

// evaluate runs the hard checks. The result is available iff every check passes.
func (c *Checker) evaluate(ctx context.Context, req models.AvailabilityRequest, res *resources, w window) (*models.AvailabilityResult, blockers, error) {
	result := &models.AvailabilityResult{
		Available:   true,
		Conflicts:   []models.Conflict{},
		Suggestions: []models.Suggestion{},
		Warnings:    []models.Warning{},
	}
	bl := blockers{equipment: make(map[string][]*models.Booking)}
	holding := c.HoldingStatuses()

	if res.course != nil {
		if err := c.checkCourse(ctx, req, res.course, w, holding, result); err != nil {
			return nil, bl, err
		}
	}
	if res.monitor != nil {
		if err := c.checkMonitor(ctx, req, res.monitor, w, holding, result); err != nil {
			return nil, bl, err
		}
	}
	for _, eq := range mergeEquipment(req.Equipment) {
		conflicting, err := c.checkEquipment(ctx, req, res.inventory[eq.EquipmentType], eq, w, holding, result)
		if err != nil {
			return nil, bl, err
		}
		if len(conflicting) > 0 {
			bl.equipment[eq.EquipmentType] = conflicting
		}
	}

	result.Available = len(result.Conflicts) == 0
	return result, bl, nil
}

func (c *Checker) findOverlapping(ctx context.Context, scope models.Scope, q models.OverlapQuery) ([]*models.Booking, error) {
	bookings, err := c.store.FindOverlapping(ctx, scope, q)
	if err != nil {
		return nil, &domain.SystemError{Op: "availability: find overlapping", Err: err}
	}
	return bookings, nil
}

func (c *Checker) checkCourse(ctx context.Context, req models.AvailabilityRequest, course *models.Course, w window, holding []models.Status, result *models.AvailabilityResult) error {
	if !course.IsActive {
		result.Conflicts = append(result.Conflicts, models.Conflict{
			Type:         models.ConflictResourceInactive,
			ResourceType: "course",
			ResourceID:   course.ID,
			Message:      fmt.Sprintf("course %d is not active", course.ID),
			Requested:    req.ParticipantCount,
		})
	}

	overlapping, err := c.findOverlapping(ctx, req.Scope, models.OverlapQuery{
		CourseID:  course.ID,
		From:      w.start,
		To:        w.end,
		Statuses:  holding,
		ExcludeID: req.ExcludeBookingID,
	})
	if err != nil {
		return err
	}

	current, ids := peakLoad(overlapping, w, func(b *models.Booking) int {
		if b.ParticipantCount < 1 {
			return 1
		}
		return b.ParticipantCount
	})

	spots := course.MaxParticipants - current
	if spots < 0 {
		spots = 0
	}
	result.CapacityInfo.MaxParticipants = course.MaxParticipants
	result.CapacityInfo.CurrentParticipants = current
	result.CapacityInfo.AvailableSpots = spots

	if spots < req.ParticipantCount {
		result.Conflicts = append(result.Conflicts, models.Conflict{
			Type:                  models.ConflictCapacityExceeded,
			ResourceType:          "course",
			ResourceID:            course.ID,
			Message:               fmt.Sprintf("course %d has %d of %d spots left, %d requested", course.ID, spots, course.MaxParticipants, req.ParticipantCount),
			Requested:             req.ParticipantCount,
			AvailableSpots:        spots,
			ConflictingBookingIDs: ids,
		})
	}
	return nil
}

func (c *Checker) recommendedDaily(m *models.Monitor) int {
	if m.MaxDailyBookings > 0 {
		return m.MaxDailyBookings
	}
	if c.cfg.RecommendedMaxDaily > 0 {
		return c.cfg.RecommendedMaxDaily
	}
	return 4
}

func (c *Checker) checkMonitor(ctx context.Context, req models.AvailabilityRequest, monitor *models.Monitor, w window, holding []models.Status, result *models.AvailabilityResult) error {
	if !monitor.IsActive {
		result.Conflicts = append(result.Conflicts, models.Conflict{
			Type:         models.ConflictResourceInactive,
			ResourceType: "monitor",
			ResourceID:   monitor.ID,
			Message:      fmt.Sprintf("monitor %d is not active", monitor.ID),
		})
	}

	overlapping, err := c.findOverlapping(ctx, req.Scope, models.OverlapQuery{
		MonitorID: monitor.ID,
		From:      w.start,
		To:        w.end,
		Statuses:  holding,
		ExcludeID: req.ExcludeBookingID,
	})
	if err != nil {
		return err
	}

	concurrent, ids := peakLoad(overlapping, w, func(*models.Booking) int { return 1 })

	// daily load counts every booking of the day, timed or not, plus the requested one
	wholeDays := window{start: w.start, end: w.end, from: -1, to: -1}
	dayLoad, _ := peakLoad(overlapping, wholeDays, func(*models.Booking) int { return 1 })
	dayLoad++

	recommended := c.recommendedDaily(monitor)
	info := &result.CapacityInfo
	info.MonitorBookings = concurrent
	info.MonitorDailyLoad = dayLoad
	info.MonitorOverloaded = dayLoad > recommended
	info.MonitorFatigue = math.Round(float64(dayLoad)/float64(recommended)*100) / 100

	maxConcurrent := c.cfg.MaxConcurrentPerMonitor
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if concurrent >= maxConcurrent {
		result.Conflicts = append(result.Conflicts, models.Conflict{
			Type:                  models.ConflictMonitorUnavailable,
			ResourceType:          "monitor",
			ResourceID:            monitor.ID,
			Message:               fmt.Sprintf("monitor %d already has %d overlapping booking(s)", monitor.ID, concurrent),
			Requested:             1,
			ConflictingBookingIDs: ids,
		})
	}
	return nil
}

func (c *Checker) checkEquipment(ctx context.Context, req models.AvailabilityRequest, inv *models.EquipmentInventory, eq models.EquipmentRequest, w window, holding []models.Status, result *models.AvailabilityResult) ([]*models.Booking, error) {
	overlapping, err := c.findOverlapping(ctx, req.Scope, models.OverlapQuery{
		EquipmentType: eq.EquipmentType,
		From:          w.start,
		To:            w.end,
		Statuses:      holding,
		ExcludeID:     req.ExcludeBookingID,
	})
	if err != nil {
		return nil, err
	}

	committed, ids := peakLoad(overlapping, w, func(b *models.Booking) int {
		n := 0
		for _, e := range b.Equipment {
			if e.EquipmentType == eq.EquipmentType && e.ReturnedAt == nil {
				n++
			}
		}
		return n
	})

	available := inv.TotalUnits - committed
	if available < 0 {
		available = 0
	}
	if result.CapacityInfo.Equipment == nil {
		result.CapacityInfo.Equipment = make(map[string]models.EquipmentCapacity)
	}
	result.CapacityInfo.Equipment[eq.EquipmentType] = models.EquipmentCapacity{
		Total:     inv.TotalUnits,
		Committed: committed,
		Available: available,
		Requested: eq.Quantity,
	}

	if available >= eq.Quantity {
		return nil, nil
	}
	result.Conflicts = append(result.Conflicts, models.Conflict{
		Type:                  models.ConflictEquipmentShortage,
		ResourceType:          "equipment",
		EquipmentType:         eq.EquipmentType,
		Message:               fmt.Sprintf("%s: %d of %d units free, %d requested", eq.EquipmentType, available, inv.TotalUnits, eq.Quantity),
		Requested:             eq.Quantity,
		AvailableSpots:        available,
		ConflictingBookingIDs: ids,
	})
	return overlapping, nil
}

// peakLoad returns the highest per-day load over the window and the bookings that contributed.
func peakLoad(bookings []*models.Booking, w window, weight func(*models.Booking) int) (int, []int64) {
	peak := 0
	seen := make(map[int64]bool)
	var ids []int64

	windows := make([]window, len(bookings))
	for i, b := range bookings {
		windows[i] = bookingWindow(b)
	}

	for _, day := range w.days() {
		load := 0
		for i, b := range bookings {
			if !w.overlapsOn(windows[i], day) {
				continue
			}
			load += weight(b)
			if !seen[b.ID] {
				seen[b.ID] = true
				ids = append(ids, b.ID)
			}
		}
		if load > peak {
			peak = load
		}
	}
	return peak, ids
}

func mergeEquipment(reqs []models.EquipmentRequest) []models.EquipmentRequest {
	idx := make(map[string]int)
	var out []models.EquipmentRequest
	for _, r := range reqs {
		if r.Quantity < 1 {
			r.Quantity = 1
		}
		if i, ok := idx[r.EquipmentType]; ok {
			out[i].Quantity += r.Quantity
			continue
		}
		idx[r.EquipmentType] = len(out)
		out = append(out, r)
	}
	return out
}

// Occupancy is the share of course capacity taken on date, in [0,1].
func (c *Checker) Occupancy(ctx context.Context, scope models.Scope, courseID int64, date time.Time) (float64, error) {
	course, err := c.store.GetCourse(ctx, scope, courseID)
	if err != nil {
		return 0, lookupError(err, "course", courseID, "")
	}
	if course.MaxParticipants <= 0 {
		return 0, nil
	}

	day := models.DateOnly(date)
	w := window{start: day, end: day, from: -1, to: -1}
	overlapping, err := c.findOverlapping(ctx, scope, models.OverlapQuery{
		CourseID: courseID,
		From:     day,
		To:       day,
		Statuses: c.HoldingStatuses(),
	})
	if err != nil {
		return 0, err
	}

	current, _ := peakLoad(overlapping, w, func(b *models.Booking) int { return b.ParticipantCount })
	occ := float64(current) / float64(course.MaxParticipants)
	if occ > 1 {
		occ = 1
	}
	return occ, nil
}
