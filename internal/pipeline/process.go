package pipeline

import (
	"errors"
	"fmt"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/store"
	"schedule-reconciler/internal/utils"
)

// process matches one detection, applies the resulting transition and records
// exactly one log entry. Matching runs on a snapshot without holding the store
// lock; only ApplyTransition takes it.
func (p *Pipeline) process(ev schedule.DetectionEvent) Outcome {
	out := Outcome{Accepted: true, Event: ev}

	view := p.store.View()
	if ev.Generation != view.Generation() {
		return p.stale(out, view.Generation())
	}

	res := p.engine.Match(view, ev)
	row, err := p.apply(view.Generation(), res)
	if err != nil && errors.Is(err, store.ErrInvalidLifecycle) {
		// Another gate moved the row after our snapshot; match once more
		// against the current state before calling it an anomaly.
		view = p.store.View()
		if ev.Generation != view.Generation() {
			return p.stale(out, view.Generation())
		}
		res = p.engine.Match(view, ev)
		row, err = p.apply(view.Generation(), res)
	}
	out.Result = res

	entry := schedule.LogEntry{
		GateID:      ev.GateID,
		CameraID:    ev.CameraID,
		CameraName:  ev.CameraName,
		Plate:       res.NormalizedPlate,
		DetectionID: ev.ID,
	}
	if res.MatchedRow != nil {
		entry.SequenceNumber = res.MatchedRow.SequenceNumber
	}

	switch {
	case errors.Is(err, store.ErrStaleGeneration):
		return p.stale(out, p.store.Generation().ID)
	case err != nil:
		entry.EventType = schedule.EventInvalidLifecycle
		entry.Details = fmt.Sprintf("%s detection of %s could not be applied to row %d: %v",
			ev.Direction, res.NormalizedPlate, entry.SequenceNumber, err)
		p.log.Warn().
			Err(err).
			Str("gate_id", ev.GateID).
			Str("plate", res.NormalizedPlate).
			Int("seq", entry.SequenceNumber).
			Msg("lifecycle anomaly")
	case row != nil:
		out.Row = row
		entry.EventType, entry.Details = describeMatch(ev, res)
	case res.Duplicate:
		entry.EventType = schedule.EventDuplicateDetection
		entry.Details = fmt.Sprintf("plate %s already %s, repeated %s detection ignored",
			res.NormalizedPlate, schedule.TargetStatus(ev.Direction), ev.Direction)
	default:
		entry.EventType = schedule.EventUnknownVehicle
		entry.Details = fmt.Sprintf("plate %s (read %q) has no %s row eligible for %s",
			res.NormalizedPlate, ev.PlateCandidate, schedule.EligibleStatus(ev.Direction), ev.Direction)
	}

	recorded := p.recorder.Record(entry, &ev)
	out.Entry = &recorded

	p.log.Info().
		Str("gate_id", ev.GateID).
		Str("direction", string(ev.Direction)).
		Str("source", string(ev.Source)).
		Str("plate", res.NormalizedPlate).
		Str("confidence", string(res.Confidence)).
		Int("seq", entry.SequenceNumber).
		Str("event_type", recorded.EventType).
		Msg("detection processed")
	return out
}

func (p *Pipeline) apply(gen string, res schedule.MatchResult) (*schedule.ScheduleRow, error) {
	if res.AppliedTransition == nil || res.MatchedRow == nil {
		return nil, nil
	}
	row, _, err := p.store.ApplyTransition(gen, res.MatchedRow.SequenceNumber, res.AppliedTransition.To, res.VerificationState)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (p *Pipeline) stale(out Outcome, active string) Outcome {
	ev := out.Event
	out.Stale = true
	out.Result = schedule.MatchResult{Confidence: schedule.ConfidenceNone}
	recorded := p.recorder.Record(schedule.LogEntry{
		GateID:      ev.GateID,
		CameraID:    ev.CameraID,
		CameraName:  ev.CameraName,
		EventType:   schedule.EventStaleGeneration,
		Plate:       utils.NormalizePlate(ev.PlateCandidate),
		DetectionID: ev.ID,
		Details: fmt.Sprintf("detection of %q was submitted against schedule %s but %s is active; not applied",
			ev.PlateCandidate, displayGeneration(ev.Generation), displayGeneration(active)),
	}, &ev)
	out.Entry = &recorded
	p.log.Warn().
		Str("gate_id", ev.GateID).
		Str("plate", ev.PlateCandidate).
		Str("event_generation", ev.Generation).
		Str("active_generation", active).
		Msg("stale detection rejected")
	return out
}

func describeMatch(ev schedule.DetectionEvent, res schedule.MatchResult) (string, string) {
	row := res.MatchedRow
	verb := "entered"
	eventType := schedule.EventEntrySuccess
	if ev.Direction == schedule.DirectionOut {
		verb = "exited"
		eventType = schedule.EventExitSuccess
	}

	switch {
	case res.Confidence == schedule.ConfidenceFuzzy:
		return schedule.EventFuzzyMatch, fmt.Sprintf("read %s matched row %d (%s) at distance %d, %s; needs check",
			res.NormalizedPlate, row.SequenceNumber, row.Plate, res.Distance, verb)
	case res.Ambiguous:
		return schedule.EventAmbiguousMatch, fmt.Sprintf("plate %s %s; %d scheduled rows %v share it, earliest row %d chosen; needs check",
			row.Plate, verb, len(res.Candidates), res.Candidates, row.SequenceNumber)
	}
	return eventType, fmt.Sprintf("plate %s %s (row %d)", row.Plate, verb, row.SequenceNumber)
}

func displayGeneration(id string) string {
	if id == "" {
		return "<none>"
	}
	return id
}
