package service

import (
	"sort"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

// DueSweep returns the pending items whose due time is not after now,
// ordered by due time and then id. It does not modify items.
func DueSweep(now time.Time, items []model.ScheduledMessage) []model.ScheduledMessage {
	var due []model.ScheduledMessage
	for _, it := range items {
		if it.IsDue(now) {
			due = append(due, it)
		}
	}
	sortByDue(due)
	return due
}

func sortByDue(items []model.ScheduledMessage) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DueAt.Equal(items[j].DueAt) {
			return items[i].DueAt.Before(items[j].DueAt)
		}
		return items[i].ID < items[j].ID
	})
}
