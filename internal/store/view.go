package store

import (
	"schedule-reconciler/internal/domain/schedule"
)

// View is a read-only copy of one schedule generation. It never changes after
// creation, so matching against it is deterministic.
type View struct {
	generation string
	rows       map[int]*schedule.ScheduleRow
	order      []int
	byPlate    map[string][]int
}

func (v *View) Generation() string {
	return v.generation
}

func (v *View) Len() int {
	return len(v.order)
}

func (v *View) Row(seq int) (schedule.ScheduleRow, bool) {
	r, ok := v.rows[seq]
	if !ok {
		return schedule.ScheduleRow{}, false
	}
	return r.Clone(), true
}

func (v *View) FindByPlate(plate string, d schedule.Direction) []schedule.ScheduleRow {
	return findByPlate(v.rows, v.byPlate, plate, d)
}

func (v *View) Eligible(d schedule.Direction) []schedule.ScheduleRow {
	return eligible(v.rows, v.order, d)
}

// HasPlateInStatus reports whether any row with this plate is in status m.
func (v *View) HasPlateInStatus(plate string, m schedule.MovementStatus) bool {
	for _, seq := range v.byPlate[plate] {
		if v.rows[seq].MovementStatus == m {
			return true
		}
	}
	return false
}

// PlateRows returns every row carrying plate regardless of status.
func (v *View) PlateRows(plate string) []schedule.ScheduleRow {
	seqs := v.byPlate[plate]
	out := make([]schedule.ScheduleRow, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, v.rows[seq].Clone())
	}
	return out
}
