package availability

import (
	"fmt"
	"time"

	"seasonbook/internal/models"
)

func (c *Checker) addWarnings(req models.AvailabilityRequest, res *resources, w window, result *models.AvailabilityResult) {
	for _, p := range c.cfg.PeakPeriods {
		start, err1 := time.Parse(models.DateLayout, p.Start)
		end, err2 := time.Parse(models.DateLayout, p.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if !w.start.After(end) && !start.After(w.end) {
			name := p.Name
			if name == "" {
				name = "peak period"
			}
			result.Warnings = append(result.Warnings, models.Warning{
				Type:    models.WarningPeakPeriod,
				Message: fmt.Sprintf("dates fall in %s", name),
			})
			break
		}
	}

	for _, h := range c.cfg.Holidays {
		d, err := time.Parse(models.DateLayout, h)
		if err != nil {
			continue
		}
		if w.covers(d) {
			result.Warnings = append(result.Warnings, models.Warning{
				Type:    models.WarningHoliday,
				Message: fmt.Sprintf("%s is a holiday", h),
			})
			break
		}
	}

	if c.weatherDependent(req, res) {
		result.Warnings = append(result.Warnings, models.Warning{
			Type:    models.WarningWeatherDependent,
			Message: "activity depends on weather conditions",
		})
	}

	hours := c.cfg.LastMinuteHours
	if hours <= 0 {
		hours = 48
	}
	startAt := w.start
	if w.from >= 0 {
		startAt = startAt.Add(time.Duration(w.from) * time.Minute)
	}
	if until := startAt.Sub(c.clock.Now()); until < time.Duration(hours)*time.Hour {
		result.Warnings = append(result.Warnings, models.Warning{
			Type:    models.WarningLastMinute,
			Message: fmt.Sprintf("starts within %dh", hours),
		})
	}

	if result.CapacityInfo.MonitorOverloaded {
		result.Warnings = append(result.Warnings, models.Warning{
			Type: models.WarningMonitorOverloaded,
			Message: fmt.Sprintf("monitor would run %d bookings that day (fatigue %.2f)",
				result.CapacityInfo.MonitorDailyLoad, result.CapacityInfo.MonitorFatigue),
		})
	}
}

func (c *Checker) weatherDependent(req models.AvailabilityRequest, res *resources) bool {
	if res.course != nil && res.course.WeatherDependent {
		return true
	}
	kind := string(req.BookingType)
	if res.course != nil && res.course.Kind != "" {
		kind = res.course.Kind
	}
	for _, t := range c.cfg.WeatherDependentTypes {
		if t == kind {
			return true
		}
	}
	return false
}
