package smart

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPredictor struct {
	prob float64
	err  error
}

func (f fixedPredictor) PredictProba(string) (float64, error) { return f.prob, f.err }

type fakeAdjudicator struct {
	result AdjudicationResult
	calls  int
}

func (f *fakeAdjudicator) Adjudicate(context.Context, string) AdjudicationResult {
	f.calls++
	return f.result
}

type recordingRecorder struct {
	calls []struct {
		text     string
		label    int
		category string
	}
}

func (r *recordingRecorder) Append(_ context.Context, text string, label int, category string) error {
	r.calls = append(r.calls, struct {
		text     string
		label    int
		category string
	}{text, label, category})
	return nil
}

// Scenario 5: local model returns low risk, request passes without writing
// a sample and without calling the adjudicator.
func TestDecide_LowRiskPassesLocallyWithoutSample(t *testing.T) {
	adj := &fakeAdjudicator{}
	rec := &recordingRecorder{}

	decision, err := Decide(context.Background(), "hello there", Params{
		AIReviewRate:  0, // never bypass to AI directly
		LowThreshold:  0.1,
		HighThreshold: 0.9,
		Predictor:     fixedPredictor{prob: 0.02},
		Adjudicator:   adj,
		Recorder:      rec,
		Rand:          rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	assert.False(t, decision.Violation)
	assert.Equal(t, SourceBoWModel, decision.Source)
	assert.False(t, decision.SampleWritten)
	assert.Zero(t, adj.calls)
	assert.Empty(t, rec.calls)
}

// Scenario 6: local model is uncertain, AI adjudicator reports a violation;
// exactly one sample row is written with label=1 and the category.
func TestDecide_UncertainTriggersAIAndRecordsSample(t *testing.T) {
	adj := &fakeAdjudicator{result: AdjudicationResult{Violation: true, Category: "x", Reason: "r"}}
	rec := &recordingRecorder{}

	decision, err := Decide(context.Background(), "ambiguous text", Params{
		AIReviewRate:  0,
		LowThreshold:  0.1,
		HighThreshold: 0.9,
		Predictor:     fixedPredictor{prob: 0.5},
		Adjudicator:   adj,
		Recorder:      rec,
		Rand:          rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	assert.True(t, decision.Violation)
	assert.Equal(t, SourceAI, decision.Source)
	assert.True(t, decision.SampleWritten)
	assert.Equal(t, 1, adj.calls)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, 1, rec.calls[0].label)
	assert.Equal(t, "x", rec.calls[0].category)
}

func TestDecide_HighRiskRejectsLocally(t *testing.T) {
	adj := &fakeAdjudicator{}

	decision, err := Decide(context.Background(), "very bad text", Params{
		LowThreshold:  0.1,
		HighThreshold: 0.9,
		Predictor:     fixedPredictor{prob: 0.95},
		Adjudicator:   adj,
	})
	require.NoError(t, err)

	assert.True(t, decision.Violation)
	assert.Equal(t, SourceBoWModel, decision.Source)
	assert.Zero(t, adj.calls)
}

// Adjudicator failures never block the request: violation is forced false
// and the error is swallowed into Reason, but a sample is still persisted.
func TestDecide_AdjudicatorFailureNeverBlocks(t *testing.T) {
	adj := &fakeAdjudicator{result: AdjudicationResult{Err: errors.New("timeout")}}
	rec := &recordingRecorder{}

	decision, err := Decide(context.Background(), "text", Params{
		AIReviewRate: 1, // always bypass straight to AI
		Adjudicator:  adj,
		Recorder:     rec,
		Rand:         rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	assert.False(t, decision.Violation)
	assert.Contains(t, decision.Reason, "timeout")
	require.Len(t, rec.calls, 1)
	assert.Equal(t, 0, rec.calls[0].label)
}

func TestDecide_NoLocalModelAlwaysAdjudicates(t *testing.T) {
	adj := &fakeAdjudicator{result: AdjudicationResult{Violation: false}}

	_, err := Decide(context.Background(), "text", Params{
		AIReviewRate: 0,
		Predictor:    nil,
		Adjudicator:  adj,
		Rand:         rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, adj.calls)
}

func TestRandForProfile_SharesAndAdvancesAcrossCalls(t *testing.T) {
	r1 := RandForProfile("profile-a", 7)
	r2 := RandForProfile("profile-a", 7)
	assert.Same(t, r1, r2)

	a := r1.Float64()
	b := r2.Float64()
	assert.NotEqual(t, a, b, "successive draws from the shared per-profile RNG must advance, not repeat")
}

func TestRandForProfile_DifferentProfilesAreIndependent(t *testing.T) {
	a := RandForProfile("profile-b", 1)
	b := RandForProfile("profile-c", 1)
	assert.NotSame(t, a, b)
}

func TestDecide_PredictionFailureFallsBackToAI(t *testing.T) {
	adj := &fakeAdjudicator{result: AdjudicationResult{Violation: false}}

	_, err := Decide(context.Background(), "text", Params{
		AIReviewRate: 0,
		Predictor:    fixedPredictor{err: errors.New("corrupted model")},
		Adjudicator:  adj,
		Rand:         rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, adj.calls)
}
