package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestHeatingGapShiftDecisions(t *testing.T) {
	ref := func(ts string, price float64) *SlotRef {
		return &SlotRef{Start: mustTime(t, ts), Price: price}
	}

	tests := []struct {
		name      string
		gap       HeatingGap
		dayStart  string
		limit     float64
		wantLeft  bool
		wantRight bool
		wantDir   ShiftDirection
	}{
		{
			name: "day starts with heating",
			gap: HeatingGap{
				Start:                *ref("2023-10-31T22:30:00Z", 5.6707),
				Duration:             30 * time.Minute,
				PreviousHeatingStart: ref("2023-10-31T22:00:00Z", 5.6707),
				PreviousHeatingEnd:   ref("2023-10-31T22:15:00Z", 5.6707),
				NextHeatingStart:     ref("2023-10-31T23:00:00Z", 4.7147),
				NextHeatingEnd:       ref("2023-11-01T03:45:00Z", 4.6576),
			},
			dayStart: "2023-10-31T22:00:00Z",
			limit:    2,
			wantLeft: true,
			wantDir:  ShiftLeft,
		},
		{
			name: "day ends with heating",
			gap: HeatingGap{
				Start:                *ref("2023-11-02T20:15:00Z", 8.5326),
				Duration:             45 * time.Minute,
				PreviousHeatingStart: ref("2023-11-02T20:00:00Z", 8.5326),
				PreviousHeatingEnd:   ref("2023-11-02T20:00:00Z", 8.5326),
				NextHeatingStart:     ref("2023-11-02T21:00:00Z", 8.1582),
			},
			dayStart:  "2023-11-01T22:00:00Z",
			limit:     2,
			wantRight: true,
			wantDir:   ShiftRight,
		},
		{
			name: "day starts with a gap",
			gap: HeatingGap{
				Start:            *ref("2023-10-27T21:00:00Z", 9.8867),
				Duration:         time.Hour,
				NextHeatingStart: ref("2023-10-27T22:00:00Z", 9.3994),
				NextHeatingEnd:   ref("2023-10-28T04:45:00Z", 9.6176),
			},
			dayStart: "2023-10-27T21:00:00Z",
			limit:    2,
			wantLeft: true,
			wantDir:  ShiftLeft,
		},
		{
			name: "day ends with a gap",
			gap: HeatingGap{
				Start:                *ref("2023-10-25T20:30:00Z", 8.1966),
				Duration:             30 * time.Minute,
				PreviousHeatingStart: ref("2023-10-25T18:00:00Z", 7.6374),
				PreviousHeatingEnd:   ref("2023-10-25T20:15:00Z", 8.1966),
			},
			dayStart:  "2023-10-25T21:00:00Z",
			limit:     2,
			wantRight: true,
			wantDir:   ShiftRight,
		},
		{
			name: "shift right too expensive",
			gap: HeatingGap{
				Start:                *ref("2023-11-15T12:00:00Z", 23.6494),
				Duration:             time.Hour,
				PreviousHeatingStart: ref("2023-11-15T11:00:00Z", 19.3218),
				PreviousHeatingEnd:   ref("2023-11-15T11:45:00Z", 19.3218),
				NextHeatingStart:     ref("2023-11-15T13:00:00Z", 20.0869),
				NextHeatingEnd:       ref("2023-11-15T13:00:00Z", 20.0869),
			},
			dayStart: "2023-11-15T22:00:00Z",
			limit:    3.6,
			wantLeft: true,
			wantDir:  ShiftLeft,
		},
		{
			name: "gap longer than threshold",
			gap: HeatingGap{
				Start:                *ref("2023-11-15T12:00:00Z", 5),
				Duration:             75 * time.Minute,
				PreviousHeatingStart: ref("2023-11-15T11:00:00Z", 5),
				NextHeatingEnd:       ref("2023-11-15T14:00:00Z", 5),
			},
			dayStart: "2023-11-15T00:00:00Z",
			limit:    2,
			wantDir:  NoShift,
		},
		{
			name: "both allowed, cheaper tail goes left on a tie",
			gap: HeatingGap{
				Start:                *ref("2023-11-15T12:00:00Z", 5),
				Duration:             30 * time.Minute,
				PreviousHeatingStart: ref("2023-11-15T11:00:00Z", 4),
				NextHeatingEnd:       ref("2023-11-15T14:00:00Z", 5),
			},
			dayStart:  "2023-11-15T00:00:00Z",
			limit:     2,
			wantLeft:  true,
			wantRight: true,
			wantDir:   ShiftLeft,
		},
		{
			name: "both allowed, cheaper gap start goes right",
			gap: HeatingGap{
				Start:                *ref("2023-11-15T12:00:00Z", 5),
				Duration:             30 * time.Minute,
				PreviousHeatingStart: ref("2023-11-15T11:00:00Z", 4),
				NextHeatingEnd:       ref("2023-11-15T14:00:00Z", 4.5),
			},
			dayStart:  "2023-11-15T00:00:00Z",
			limit:     2,
			wantLeft:  true,
			wantRight: true,
			wantDir:   ShiftRight,
		},
	}

	threshold := time.Hour
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dayStart := mustTime(t, tt.dayStart)
			assert.Equal(t, tt.wantLeft, tt.gap.ShiftLeftAllowed(threshold, tt.limit), "left")
			assert.Equal(t, tt.wantRight, tt.gap.ShiftRightAllowed(threshold, tt.limit, dayStart), "right")
			assert.Equal(t, tt.wantDir, tt.gap.ShiftDirection(threshold, tt.limit, dayStart))
		})
	}
}

func TestShiftLeftPriceLimit(t *testing.T) {
	gap := HeatingGap{
		Start:          SlotRef{Start: base, Price: 5},
		Duration:       30 * time.Minute,
		NextHeatingEnd: &SlotRef{Start: base.Add(2 * time.Hour), Price: 4},
	}
	assert.True(t, gap.ShiftLeftAllowed(time.Hour, 2))

	// A tail cheaper than the gap start by more than the limit stays put
	gap.NextHeatingEnd.Price = 2
	assert.False(t, gap.ShiftLeftAllowed(time.Hour, 2))

	// Moving heating onto a gap cheaper than the tail is always within the limit
	gap.NextHeatingEnd.Price = 8
	assert.True(t, gap.ShiftLeftAllowed(time.Hour, 2))
}

func TestFindGaps(t *testing.T) {
	const off, on = ControlOff, ControlOn
	s := quarterSeries(t, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	for i, c := range []Control{on, on, off, off, on, off, on, on, on, off, off} {
		s.Slots[i].Control = c
	}
	slot := func(i int) *SlotRef { return refOf(s.Slots[i]) }

	gaps := FindGaps(s)
	require.Len(t, gaps, 3)

	assert.Equal(t, &HeatingGap{
		Start:                   *slot(2),
		End:                     slot(3),
		Duration:                30 * time.Minute,
		PreviousHeatingStart:    slot(0),
		PreviousHeatingEnd:      slot(1),
		PreviousHeatingDuration: 30 * time.Minute,
		NextHeatingStart:        slot(4),
		NextHeatingEnd:          slot(4),
		NextHeatingDuration:     15 * time.Minute,
	}, gaps[0])

	assert.Equal(t, &HeatingGap{
		Start:                   *slot(5),
		End:                     slot(5),
		Duration:                15 * time.Minute,
		PreviousHeatingStart:    slot(4),
		PreviousHeatingEnd:      slot(4),
		PreviousHeatingDuration: 15 * time.Minute,
		NextHeatingStart:        slot(6),
		NextHeatingEnd:          slot(8),
		NextHeatingDuration:     45 * time.Minute,
	}, gaps[1])

	// Trailing gap has no end and no next heating
	assert.Equal(t, &HeatingGap{
		Start:                   *slot(9),
		Duration:                30 * time.Minute,
		PreviousHeatingStart:    slot(6),
		PreviousHeatingEnd:      slot(8),
		PreviousHeatingDuration: 45 * time.Minute,
	}, gaps[2])
}

func TestFindGapsLeadingGap(t *testing.T) {
	s := quarterSeries(t, 3, 2, 1)
	s.Slots[0].Control = ControlOff
	s.Slots[1].Control = ControlOn
	s.Slots[2].Control = ControlOn

	gaps := FindGaps(s)
	require.Len(t, gaps, 1)
	g := gaps[0]
	assert.Nil(t, g.PreviousHeatingStart)
	assert.Nil(t, g.PreviousHeatingEnd)
	assert.Equal(t, time.Duration(0), g.PreviousHeatingDuration)
	require.NotNil(t, g.End)
	assert.Equal(t, base, g.End.Start)
	require.NotNil(t, g.NextHeatingStart)
	assert.Nil(t, g.NextHeatingEnd, "heating runs to the end of the series")
}
