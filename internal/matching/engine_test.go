package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/store"
)

func importRows(t *testing.T, rows ...schedule.RawRow) *store.ScheduleStore {
	t.Helper()
	s := store.New()
	_, err := s.Import(rows)
	require.NoError(t, err)
	return s
}

func detection(dir schedule.Direction, plate string) schedule.DetectionEvent {
	return schedule.DetectionEvent{
		GateID:         "gate-1",
		Direction:      dir,
		PlateCandidate: plate,
		CapturedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Source:         schedule.SourceManual,
	}
}

func TestMatch_ExactSingle(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "60C-55555"},
	)
	res := NewEngine(DefaultFuzzyThreshold).Match(s.View(), detection(schedule.DirectionIn, "60c 55555"))

	assert.Equal(t, schedule.ConfidenceExact, res.Confidence)
	require.NotNil(t, res.MatchedRow)
	assert.Equal(t, 2, res.MatchedRow.SequenceNumber)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, schedule.VerificationVerified, res.VerificationState)
	assert.Equal(t, &schedule.Transition{From: schedule.NotArrived, To: schedule.Entered}, res.AppliedTransition)
	assert.Equal(t, "60C55555", res.NormalizedPlate)
}

func TestMatch_AmbiguousPicksEarliest(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{SequenceNumber: "2", Plate: "51A-12345"},
		schedule.RawRow{SequenceNumber: "1", Plate: "51A-12345"},
	)
	res := NewEngine(DefaultFuzzyThreshold).Match(s.View(), detection(schedule.DirectionIn, "51a 12345"))

	assert.Equal(t, schedule.ConfidenceExact, res.Confidence)
	assert.True(t, res.Ambiguous)
	assert.Equal(t, []int{1, 2}, res.Candidates)
	require.NotNil(t, res.MatchedRow)
	assert.Equal(t, 1, res.MatchedRow.SequenceNumber)
	assert.Equal(t, schedule.VerificationNeedsCheck, res.VerificationState)
}

func TestMatch_Fuzzy(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "51A-12399"},
	)
	res := NewEngine(1).Match(s.View(), detection(schedule.DirectionIn, "51A-12346"))

	assert.Equal(t, schedule.ConfidenceFuzzy, res.Confidence)
	require.NotNil(t, res.MatchedRow)
	assert.Equal(t, 1, res.MatchedRow.SequenceNumber)
	assert.Equal(t, 1, res.Distance)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, schedule.VerificationNeedsCheck, res.VerificationState)
	require.NotNil(t, res.AppliedTransition)
	assert.Equal(t, schedule.Entered, res.AppliedTransition.To)
}

func TestMatch_FuzzyTieIsAmbiguous(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{SequenceNumber: "4", Plate: "AB1235"},
		schedule.RawRow{SequenceNumber: "3", Plate: "AB1236"},
	)
	res := NewEngine(1).Match(s.View(), detection(schedule.DirectionIn, "AB1234"))

	assert.Equal(t, schedule.ConfidenceFuzzy, res.Confidence)
	assert.True(t, res.Ambiguous)
	assert.Equal(t, []int{3, 4}, res.Candidates)
	assert.Equal(t, 3, res.MatchedRow.SequenceNumber)
}

func TestMatch_FuzzyDisabled(t *testing.T) {
	s := importRows(t, schedule.RawRow{Plate: "51A-12345"})
	res := NewEngine(0).Match(s.View(), detection(schedule.DirectionIn, "51A-12346"))

	assert.Equal(t, schedule.ConfidenceNone, res.Confidence)
	assert.Nil(t, res.MatchedRow)
	assert.Nil(t, res.AppliedTransition)
}

func TestMatch_FuzzyRespectsEligibility(t *testing.T) {
	s := importRows(t, schedule.RawRow{Plate: "51A-12345"})
	res := NewEngine(1).Match(s.View(), detection(schedule.DirectionOut, "51A-12346"))

	assert.Equal(t, schedule.ConfidenceNone, res.Confidence)
	assert.Nil(t, res.MatchedRow)
}

func TestMatch_OutWithoutEnteredRowIsUnknown(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "51A-12346"},
	)
	_, _, err := s.ApplyTransition(s.Generation().ID, 2, schedule.Entered, schedule.VerificationVerified)
	require.NoError(t, err)

	res := NewEngine(DefaultFuzzyThreshold).Match(s.View(), detection(schedule.DirectionOut, "51A-12345"))

	assert.Equal(t, schedule.ConfidenceNone, res.Confidence)
	assert.False(t, res.Duplicate)
	assert.Equal(t, schedule.VerificationUnknownVehicle, res.VerificationState)
	assert.Nil(t, res.MatchedRow)
	assert.Nil(t, res.AppliedTransition)
}

func TestMatch_DuplicateEntry(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "51A-12346"},
	)
	_, _, err := s.ApplyTransition(s.Generation().ID, 1, schedule.Entered, schedule.VerificationVerified)
	require.NoError(t, err)

	res := NewEngine(DefaultFuzzyThreshold).Match(s.View(), detection(schedule.DirectionIn, "51A12345"))
	assert.Equal(t, schedule.ConfidenceNone, res.Confidence)
	assert.True(t, res.Duplicate)
	assert.Nil(t, res.MatchedRow)
	assert.Nil(t, res.AppliedTransition)
}

func TestMatch_ExitedPlateDoesNotFallBackToNeighbour(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "51A-12346"},
	)
	gen := s.Generation().ID
	_, _, err := s.ApplyTransition(gen, 1, schedule.Entered, schedule.VerificationVerified)
	require.NoError(t, err)
	_, _, err = s.ApplyTransition(gen, 1, schedule.Exited, schedule.VerificationVerified)
	require.NoError(t, err)

	res := NewEngine(DefaultFuzzyThreshold).Match(s.View(), detection(schedule.DirectionIn, "51A-12345"))
	assert.Equal(t, schedule.ConfidenceNone, res.Confidence)
	assert.False(t, res.Duplicate)
	assert.Equal(t, schedule.VerificationUnknownVehicle, res.VerificationState)
	assert.Nil(t, res.MatchedRow)
}

func TestMatch_EmptyPlate(t *testing.T) {
	s := importRows(t, schedule.RawRow{Plate: "51A-12345"})
	res := NewEngine(DefaultFuzzyThreshold).Match(s.View(), detection(schedule.DirectionIn, "  --  "))

	assert.Equal(t, schedule.ConfidenceNone, res.Confidence)
	assert.Equal(t, schedule.VerificationUnknownVehicle, res.VerificationState)
}

func TestMatch_Deterministic(t *testing.T) {
	s := importRows(t,
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "51A-12345"},
		schedule.RawRow{Plate: "51A-12349"},
	)
	view := s.View()
	eng := NewEngine(2)
	ev := detection(schedule.DirectionIn, "51A-12340")

	first := eng.Match(view, ev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, eng.Match(view, ev))
	}
}

func TestNewEngine_NegativeThreshold(t *testing.T) {
	assert.Equal(t, 0, NewEngine(-3).FuzzyThreshold())
}
