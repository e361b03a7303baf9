package feedback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wintrouble/backend/internal/storage/models"
)

func TestDeltas(t *testing.T) {
	tests := []struct {
		name     string
		event    ReactionEvent
		wantUp   int
		wantDown int
	}{
		{"added up", ReactionEvent{KindAdded, PolarityUp}, 1, 0},
		{"added down", ReactionEvent{KindAdded, PolarityDown}, 0, 1},
		{"removed up", ReactionEvent{KindRemoved, PolarityUp}, -1, 0},
		{"removed down", ReactionEvent{KindRemoved, PolarityDown}, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, down, err := Deltas(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUp, up)
			assert.Equal(t, tt.wantDown, down)
		})
	}
}

func TestDeltasRejectsUnknownValues(t *testing.T) {
	_, _, err := Deltas(ReactionEvent{Kind: "changed", Polarity: PolarityUp})
	assert.ErrorIs(t, err, ErrInvalidReaction)

	_, _, err = Deltas(ReactionEvent{Kind: KindAdded, Polarity: "sideways"})
	assert.ErrorIs(t, err, ErrInvalidReaction)
}

func TestParsePolarity(t *testing.T) {
	for _, name := range []string{"up", "+1", "thumbsup", ":thumbsup:", "Thumbs_Up"} {
		p, err := ParsePolarity(name)
		require.NoError(t, err, name)
		assert.Equal(t, PolarityUp, p, name)
	}
	for _, name := range []string{"down", "-1", "thumbsdown", "thumbs_down"} {
		p, err := ParsePolarity(name)
		require.NoError(t, err, name)
		assert.Equal(t, PolarityDown, p, name)
	}

	_, err := ParsePolarity("tada")
	assert.ErrorIs(t, err, ErrInvalidReaction)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("reaction_added")
	require.NoError(t, err)
	assert.Equal(t, KindAdded, k)

	k, err = ParseKind("removed")
	require.NoError(t, err)
	assert.Equal(t, KindRemoved, k)

	_, err = ParseKind("edited")
	assert.ErrorIs(t, err, ErrInvalidReaction)
}

func TestInitialFlag(t *testing.T) {
	assert.True(t, Initial(30, DefaultEscalationThreshold, false).Flagged)
	assert.False(t, Initial(80, DefaultEscalationThreshold, false).Flagged)
	assert.False(t, Initial(50, DefaultEscalationThreshold, false).Flagged)
	assert.True(t, Initial(99, DefaultEscalationThreshold, true).Flagged)
}

func TestFirstReactionSupersedesConfidenceFlag(t *testing.T) {
	state := Initial(45, DefaultEscalationThreshold, false)
	require.True(t, state.Flagged)

	state = state.Apply(1, 0)
	assert.Equal(t, Escalation{ThumbsUp: 1, ThumbsDown: 0, Flagged: false, Reacted: true}, state)
}

func TestApplyClampsAtZero(t *testing.T) {
	state := Escalation{}.Apply(-1, -1)
	assert.Equal(t, 0, state.ThumbsUp)
	assert.Equal(t, 0, state.ThumbsDown)
	assert.False(t, state.Flagged)
}

func TestApplyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		confidence := rapid.Float64Range(0, 100).Draw(t, "confidence")
		state := Initial(confidence, DefaultEscalationThreshold, false)

		n := rapid.IntRange(1, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			ev := ReactionEvent{
				Kind:     rapid.SampledFrom([]Kind{KindAdded, KindRemoved}).Draw(t, "kind"),
				Polarity: rapid.SampledFrom([]Polarity{PolarityUp, PolarityDown}).Draw(t, "polarity"),
			}
			up, down, err := Deltas(ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			state = state.Apply(up, down)

			if state.ThumbsUp < 0 || state.ThumbsDown < 0 {
				t.Fatalf("negative counters: %+v", state)
			}
			if state.Flagged != (state.ThumbsDown > state.ThumbsUp) {
				t.Fatalf("flag does not follow counters: %+v", state)
			}
		}
	})
}

func TestAddThenRemoveRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := Escalation{
			ThumbsUp:   rapid.IntRange(0, 50).Draw(t, "up"),
			ThumbsDown: rapid.IntRange(0, 50).Draw(t, "down"),
			Reacted:    true,
		}
		start.Flagged = start.ThumbsDown > start.ThumbsUp
		polarity := rapid.SampledFrom([]Polarity{PolarityUp, PolarityDown}).Draw(t, "polarity")

		up, down, _ := Deltas(ReactionEvent{KindAdded, polarity})
		mid := start.Apply(up, down)
		up, down, _ = Deltas(ReactionEvent{KindRemoved, polarity})
		end := mid.Apply(up, down)

		if end != start {
			t.Fatalf("round trip changed state: %+v -> %+v", start, end)
		}
	})
}

type fakeLedger struct {
	record *models.QueryRecord
	err    error
	calls  [][2]int
}

func (f *fakeLedger) ApplyReaction(_ context.Context, _ string, up, down int) (*models.QueryRecord, error) {
	f.calls = append(f.calls, [2]int{up, down})
	if f.err != nil {
		return nil, f.err
	}
	next := Escalation{ThumbsUp: f.record.ThumbsUp, ThumbsDown: f.record.ThumbsDown}.Apply(up, down)
	f.record.ThumbsUp, f.record.ThumbsDown, f.record.Flagged = next.ThumbsUp, next.ThumbsDown, next.Flagged
	return f.record, nil
}

func TestServiceReact(t *testing.T) {
	ledger := &fakeLedger{record: &models.QueryRecord{QuestionID: "q1"}}
	svc := NewService(ledger, nil)

	rec, err := svc.React(context.Background(), "q1", ReactionEvent{KindAdded, PolarityDown})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ThumbsDown)
	assert.True(t, rec.Flagged)
	assert.Equal(t, [][2]int{{0, 1}}, ledger.calls)
}

func TestServiceReactInvalidEventSkipsLedger(t *testing.T) {
	ledger := &fakeLedger{record: &models.QueryRecord{}}
	svc := NewService(ledger, nil)

	_, err := svc.React(context.Background(), "q1", ReactionEvent{Kind: "poked", Polarity: PolarityUp})
	assert.ErrorIs(t, err, ErrInvalidReaction)
	assert.Empty(t, ledger.calls)
}

func TestServiceReactPropagatesLedgerError(t *testing.T) {
	sentinel := errors.New("no such question")
	svc := NewService(&fakeLedger{err: sentinel}, nil)

	_, err := svc.React(context.Background(), "q1", ReactionEvent{KindAdded, PolarityUp})
	assert.ErrorIs(t, err, sentinel)
}
