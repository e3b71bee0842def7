package repository

import (
	"fmt"
	"sort"

	"seasonbook/internal/models"
)

func CourseLockKey(scope models.Scope, courseID int64) string {
	return fmt.Sprintf("course:%s:%d", scope, courseID)
}

func MonitorLockKey(scope models.Scope, monitorID int64) string {
	return fmt.Sprintf("monitor:%s:%d", scope, monitorID)
}

func EquipmentLockKey(scope models.Scope, equipmentType string) string {
	return fmt.Sprintf("equipment:%s:%s", scope, equipmentType)
}

// BookingLockKeys lists the resource keys a booking occupies.
func BookingLockKeys(b *models.Booking) []string {
	scope := b.Scope()
	var keys []string
	if b.CourseID != nil {
		keys = append(keys, CourseLockKey(scope, *b.CourseID))
	}
	if b.MonitorID != nil {
		keys = append(keys, MonitorLockKey(scope, *b.MonitorID))
	}
	for _, req := range b.EquipmentRequests() {
		keys = append(keys, EquipmentLockKey(scope, req.EquipmentType))
	}
	return keys
}

// normalizeKeys sorts and deduplicates keys so every caller acquires in the same order.
func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := append([]string(nil), keys...)
	sort.Strings(out)
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}
