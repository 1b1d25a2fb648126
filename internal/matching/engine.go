// Package matching decides which schedule row a detection belongs to.
//
// The engine never mutates anything: it reads an immutable Snapshot and
// returns a MatchResult describing the transition the caller should apply.
package matching

import (
	"sort"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/utils"
)

// DefaultFuzzyThreshold allows a single misread character.
const DefaultFuzzyThreshold = 1

// Snapshot is the read side of the schedule store the engine needs.
type Snapshot interface {
	FindByPlate(plate string, d schedule.Direction) []schedule.ScheduleRow
	Eligible(d schedule.Direction) []schedule.ScheduleRow
	HasPlateInStatus(plate string, m schedule.MovementStatus) bool
	PlateRows(plate string) []schedule.ScheduleRow
}

type Engine struct {
	fuzzyThreshold int
}

// NewEngine returns an engine accepting near-matches up to threshold edits.
// A threshold of 0 disables fuzzy matching; negative values are treated as 0.
func NewEngine(threshold int) *Engine {
	if threshold < 0 {
		threshold = 0
	}
	return &Engine{fuzzyThreshold: threshold}
}

func (e *Engine) FuzzyThreshold() int {
	return e.fuzzyThreshold
}

// Match resolves ev against snap. Given the same event and snapshot it always
// returns the same result.
func (e *Engine) Match(snap Snapshot, ev schedule.DetectionEvent) schedule.MatchResult {
	plate := utils.NormalizePlate(ev.PlateCandidate)
	res := schedule.MatchResult{
		Confidence:      schedule.ConfidenceNone,
		NormalizedPlate: plate,
	}
	if plate == "" || !ev.Direction.Valid() {
		res.VerificationState = schedule.VerificationUnknownVehicle
		return res
	}

	if exact := snap.FindByPlate(plate, ev.Direction); len(exact) > 0 {
		res.Confidence = schedule.ConfidenceExact
		res.Candidates = sequenceNumbers(exact)
		res.VerificationState = schedule.VerificationVerified
		if len(exact) > 1 {
			res.Ambiguous = true
			res.VerificationState = schedule.VerificationNeedsCheck
		}
		e.pick(&res, exact[0], ev.Direction)
		return res
	}

	// A plate the schedule already knows never falls through to a neighbour.
	if len(snap.PlateRows(plate)) > 0 {
		e.classify(snap, &res, plate, ev.Direction)
		return res
	}

	if best, tied, dist, ok := e.nearest(snap.Eligible(ev.Direction), plate); ok {
		res.Confidence = schedule.ConfidenceFuzzy
		res.Candidates = sequenceNumbers(tied)
		res.Ambiguous = len(tied) > 1
		res.Distance = dist
		res.VerificationState = schedule.VerificationNeedsCheck
		e.pick(&res, best, ev.Direction)
		return res
	}

	e.classify(snap, &res, plate, ev.Direction)
	return res
}

// classify marks an unmatched read as a duplicate when a row with this plate
// already reached the direction's target status, otherwise as unknown.
func (e *Engine) classify(snap Snapshot, res *schedule.MatchResult, plate string, d schedule.Direction) {
	if snap.HasPlateInStatus(plate, schedule.TargetStatus(d)) {
		res.Duplicate = true
		return
	}
	res.VerificationState = schedule.VerificationUnknownVehicle
}

func (e *Engine) pick(res *schedule.MatchResult, row schedule.ScheduleRow, d schedule.Direction) {
	res.MatchedRow = &row
	res.AppliedTransition = &schedule.Transition{
		From: row.MovementStatus,
		To:   schedule.TargetStatus(d),
	}
}

// nearest returns the eligible row closest to plate within the threshold.
// Ties on distance go to the lowest sequence number; all rows sharing the best
// distance are returned in tied.
func (e *Engine) nearest(rows []schedule.ScheduleRow, plate string) (best schedule.ScheduleRow, tied []schedule.ScheduleRow, dist int, ok bool) {
	if e.fuzzyThreshold == 0 {
		return best, nil, 0, false
	}
	dist = e.fuzzyThreshold + 1
	for _, r := range rows {
		d := utils.EditDistance(plate, r.Plate)
		if d == 0 || d > e.fuzzyThreshold {
			continue
		}
		switch {
		case d < dist:
			dist = d
			tied = []schedule.ScheduleRow{r}
		case d == dist:
			tied = append(tied, r)
		}
	}
	if len(tied) == 0 {
		return best, nil, 0, false
	}
	sort.Slice(tied, func(i, j int) bool { return tied[i].SequenceNumber < tied[j].SequenceNumber })
	return tied[0], tied, dist, true
}

func sequenceNumbers(rows []schedule.ScheduleRow) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.SequenceNumber
	}
	sort.Ints(out)
	return out
}
