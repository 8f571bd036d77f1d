// Package localmodel implements the three local-model variants of
// spec.md §4.3: BoW, HashLinear, and a fastText CLI wrapper, behind a
// shared Predictor interface, plus the per-profile model-bundle cache.
package localmodel

import "errors"

// ErrCorrupted is returned (and the offending file deleted) when a model
// file is undersized, fails to load, or fails its canary prediction
// (spec.md §4.3 "Corruption detection").
var ErrCorrupted = errors.New("localmodel: model file corrupted")

// minModelSize is the size threshold below which a model file is treated
// as corrupted without even attempting to load it.
const minModelSize = 512

// Predictor is the shared inference contract every local-model variant
// implements: a probability of violation in [0,1] for a piece of text.
type Predictor interface {
	PredictProba(text string) (float64, error)
}

// Metrics is the result of Evaluate, the F1-comparison tooling folded in
// per SPEC_FULL.md §4 ("F1 comparison tooling").
type Metrics struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// LabeledSample is one (text, label) pair used by Evaluate.
type LabeledSample struct {
	Text  string
	Label int
}

// Evaluate scores predictor against labeled samples at the given decision
// threshold, the offline equivalent of
// tools/compare_fasttext_hashlinear_f1.py / evaluate_hashlinear_model.py.
func Evaluate(predictor Predictor, samples []LabeledSample, threshold float64) (Metrics, error) {
	var tp, fp, fn int

	for _, s := range samples {
		p, err := predictor.PredictProba(s.Text)
		if err != nil {
			return Metrics{}, err
		}

		predicted := 0
		if p >= threshold {
			predicted = 1
		}

		switch {
		case predicted == 1 && s.Label == 1:
			tp++
		case predicted == 1 && s.Label == 0:
			fp++
		case predicted == 0 && s.Label == 1:
			fn++
		}
	}

	m := Metrics{Support: len(samples)}

	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}

	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}

	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}

	return m, nil
}
