// Package smart implements the Smart (three-way decision) moderation
// stage of spec.md §4.3: probabilistic AI-review sampling, local-model
// threshold branching, and AI adjudication as the fallback oracle.
package smart

import (
	"context"
	"math/rand"
	"sync"

	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/moderation/smart/localmodel"
)

// lockedSource wraps a rand.Source with a mutex so the shared per-profile
// *rand.Rand below is safe to call concurrently from multiple request
// handlers (math/rand's default Source is not).
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.src.Seed(seed)
}

// rngRegistry holds one process-wide *rand.Rand per profile, seeded once
// from the profile's random_seed and then advanced by every subsequent
// Decide call. This realizes spec.md §4.3 step 1 ("probability... realized
// per-request via the process RNG"): a fresh rand.New(rand.NewSource(seed))
// on every call would draw the identical first float64 every time, making
// the Bernoulli check either always or never trigger for a given seed
// instead of approximating ai_review_rate across a request stream.
var (
	rngMu       sync.Mutex
	rngRegistry = map[string]*rand.Rand{}
)

// RandForProfile returns the shared *rand.Rand for profileName, creating
// it seeded from seed on first use.
func RandForProfile(profileName string, seed int64) *rand.Rand {
	rngMu.Lock()
	defer rngMu.Unlock()

	if r, ok := rngRegistry[profileName]; ok {
		return r
	}

	r := rand.New(&lockedSource{src: rand.NewSource(seed)})
	rngRegistry[profileName] = r

	return r
}

// Source names which oracle produced a Decision, echoed in the response
// envelope / logs.
type Source string

const (
	SourceBoWModel Source = "bow_model"
	SourceAI       Source = "ai"
)

// Decision is the outcome of the smart stage for one request.
type Decision struct {
	Violation bool
	Category  string
	Reason    string
	Source    Source
	// SampleWritten reports whether a sample row was recorded for this
	// decision (spec.md §9 Open Question: the low-risk pass branch does
	// not write a sample).
	SampleWritten bool
}

// Recorder persists a moderation sample; implemented by internal/samplestore.
type Recorder interface {
	Append(ctx context.Context, text string, label int, category string) error
}

// Adjudicator calls the remote AI moderation endpoint.
type Adjudicator interface {
	Adjudicate(ctx context.Context, text string) AdjudicationResult
}

// AdjudicationResult is the parsed (or swallowed-failure) outcome of one AI
// adjudication call (spec.md §4.3 "AI adjudication").
type AdjudicationResult struct {
	Violation bool
	Category  string
	Reason    string
	// Err is non-nil when the call or parse failed; per spec.md §7 this
	// never blocks the request — Decide treats any result with Err set as
	// no violation, whatever Violation says.
	Err error
}

// Params configures one Decide call, drawn from the request's Moderation
// Profile (spec.md §3).
type Params struct {
	AIReviewRate   float64
	LowThreshold   float64
	HighThreshold  float64
	RandomSeed     int64
	Predictor      localmodel.Predictor // nil if no local model is loaded
	Adjudicator    Adjudicator
	Recorder       Recorder
	Rand           *rand.Rand // process RNG realizing the per-request Bernoulli draw
}

// Decide runs the three-way decision of spec.md §4.3 over text.
func Decide(ctx context.Context, text string, p Params) (Decision, error) {
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(p.RandomSeed))
	}

	// Step 1: probabilistic bypass straight to AI adjudication.
	if rng.Float64() < p.AIReviewRate {
		return adjudicate(ctx, text, p)
	}

	// Step 2: local model present and usable.
	if p.Predictor != nil {
		prob, err := p.Predictor.PredictProba(text)
		if err == nil {
			switch {
			case prob < p.LowThreshold:
				return Decision{Violation: false, Source: SourceBoWModel}, nil
			case prob > p.HighThreshold:
				return Decision{Violation: true, Source: SourceBoWModel, Reason: "local model high-risk"}, nil
			}
			// low <= p <= high: fall through to AI adjudication.
			return adjudicate(ctx, text, p)
		}

		log.Warn(ctx, "smart moderation: local model prediction failed, falling back to AI", log.Cause(err))
	}

	// Step 3: no usable local model.
	return adjudicate(ctx, text, p)
}

func adjudicate(ctx context.Context, text string, p Params) (Decision, error) {
	result := p.Adjudicator.Adjudicate(ctx, text)

	if result.Err != nil {
		result.Violation = false
	}

	label := 0
	if result.Violation {
		label = 1
	}

	decision := Decision{
		Violation: result.Violation,
		Category:  result.Category,
		Reason:    result.Reason,
		Source:    SourceAI,
	}

	if result.Err != nil {
		decision.Reason = "adjudicator error: " + result.Err.Error()
		log.Warn(ctx, "smart moderation: AI adjudicator failed, treating as no violation", log.Cause(result.Err))
	}

	if p.Recorder != nil {
		if err := p.Recorder.Append(ctx, text, label, result.Category); err != nil {
			log.Error(ctx, "smart moderation: failed to persist sample", log.Cause(err))
		} else {
			decision.SampleWritten = true
		}
	}

	return decision, nil
}
