package store

import (
	"time"

	"schedule-reconciler/internal/domain/schedule"
)

type Stats struct {
	Total    int `json:"total"`
	Arrived  int `json:"arrived"`
	Departed int `json:"departed"`
	OnSite   int `json:"on_site"`
	Expected int `json:"expected"`
	Overdue  int `json:"overdue"`
}

// ComputeStats counts rows by lifecycle position. A row is overdue when it
// has not arrived and its expected time plus grace lies before now.
func ComputeStats(rows []schedule.ScheduleRow, now time.Time, grace time.Duration) Stats {
	st := Stats{Total: len(rows)}
	for _, r := range rows {
		switch r.MovementStatus {
		case schedule.NotArrived:
			st.Expected++
			if IsOverdue(r, now, grace) {
				st.Overdue++
			}
		case schedule.Entered:
			st.Arrived++
			st.OnSite++
		case schedule.Exited:
			st.Arrived++
			st.Departed++
		}
	}
	return st
}

// IsOverdue applies the same rule as ComputeStats to a single row.
func IsOverdue(r schedule.ScheduleRow, now time.Time, grace time.Duration) bool {
	return r.MovementStatus == schedule.NotArrived && r.ExpectedAt != nil && r.ExpectedAt.Add(grace).Before(now)
}
