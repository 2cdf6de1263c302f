package reconciler

import (
	"fmt"
	"time"

	"smart-reconciliation-service/internal/models"
)

// DateWindow is an inclusive calendar-date range. A nil bound is open.
type DateWindow struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the window, comparing dates only.
func (w DateWindow) Contains(t time.Time) bool {
	day := models.TruncateToDate(t)
	if w.Start != nil && day.Before(models.TruncateToDate(*w.Start)) {
		return false
	}
	if w.End != nil && day.After(models.TruncateToDate(*w.End)) {
		return false
	}
	return true
}

// Filter returns the records inside the window, in input order, and the
// number left out. The input slice is not modified.
func (w DateWindow) Filter(records []*models.Record) ([]*models.Record, int) {
	if w.Start == nil && w.End == nil {
		return records, 0
	}
	kept := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if w.Contains(r.Date) {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}

func (w DateWindow) String() string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.Format(models.DateLayout)
	}
	return fmt.Sprintf("%s..%s", bound(w.Start), bound(w.End))
}
