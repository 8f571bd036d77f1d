package localmodel

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// LabeledText is one (text, label) training example, the input shape every
// variant's trainer consumes (spec.md §4.5 step 4 "Build vectorizer +
// classifier per variant").
type LabeledText struct {
	Text  string
	Label int
}

// FitVectorizer builds a TF-IDF Vectorizer over samples' BoW tokens (word
// tokens plus character 2/3-grams, spec.md §4.3), capping the vocabulary at
// maxFeatures by document frequency, the feature-cap training hyperparameter
// of the profile's `training` block.
func FitVectorizer(samples []LabeledText, maxFeatures int) *Vectorizer {
	df := map[string]int{}
	order := []string{}

	for _, s := range samples {
		tokens := append(Tokenize(s.Text), CharNGrams(s.Text, 2, 3)...)

		seen := map[string]bool{}
		for _, tok := range tokens {
			if seen[tok] {
				continue
			}

			seen[tok] = true

			if _, ok := df[tok]; !ok {
				order = append(order, tok)
			}

			df[tok]++
		}
	}

	// Sort by descending document frequency so the cap keeps the most
	// broadly useful terms; ties broken by first-seen order for
	// determinism.
	sortByDF(order, df)

	if maxFeatures > 0 && len(order) > maxFeatures {
		order = order[:maxFeatures]
	}

	vocab := make(map[string]int, len(order))
	idf := make([]float64, len(order))
	n := float64(len(samples))

	for i, tok := range order {
		vocab[tok] = i
		idf[i] = math.Log((n+1)/(float64(df[tok])+1)) + 1
	}

	return &Vectorizer{Vocab: vocab, IDF: idf}
}

func sortByDF(terms []string, df map[string]int) {
	for i := 1; i < len(terms); i++ {
		j := i
		for j > 0 && df[terms[j-1]] < df[terms[j]] {
			terms[j-1], terms[j] = terms[j], terms[j-1]
			j--
		}
	}
}

// TrainConfig bounds a mini-batch training run, drawn from a profile's
// `training` hyperparameter block (spec.md §3 "Training hyperparameters").
type TrainConfig struct {
	Epochs        int
	BatchSize     int
	MaxSeconds    int
	LearningRate  float64
	OnProgress    func(samplesDone, total int, elapsed time.Duration)
}

func (c TrainConfig) normalized() TrainConfig {
	if c.Epochs <= 0 {
		c.Epochs = 5
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}

	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}

	return c
}

// TrainBoW fits a fresh Vectorizer over samples and mini-batch trains a
// LogisticClassifier against it via PartialFit, the BoW variant's training
// procedure (spec.md §4.3/§4.5).
func TrainBoW(samples []LabeledText, maxFeatures int, cfg TrainConfig) *BoWModel {
	vectorizer := FitVectorizer(samples, maxFeatures)
	classifier := &LogisticClassifier{}

	trainMiniBatch(samples, cfg, func(batch []LabeledText) {
		xs := make([]*mat.VecDense, len(batch))
		ys := make([]int, len(batch))

		for i, s := range batch {
			tokens := append(Tokenize(s.Text), CharNGrams(s.Text, 2, 3)...)
			xs[i] = vectorizer.Transform(tokens)
			ys[i] = s.Label
		}

		classifier.PartialFit(xs, ys, cfg.normalized().LearningRate)
	})

	return &BoWModel{Vectorizer: vectorizer, Classifier: classifier}
}

// TrainHashLinear mini-batch trains a LogisticClassifier over the hashed
// n-gram feature space, with no vocabulary-fitting step (spec.md §4.3
// "Designed for sub-10 MB models").
func TrainHashLinear(samples []LabeledText, cfg TrainConfig) *HashLinearModel {
	classifier := &LogisticClassifier{}

	trainMiniBatch(samples, cfg, func(batch []LabeledText) {
		xs := make([]*mat.VecDense, len(batch))
		ys := make([]int, len(batch))

		for i, s := range batch {
			xs[i] = HashVectorize(s.Text)
			ys[i] = s.Label
		}

		classifier.PartialFit(xs, ys, cfg.normalized().LearningRate)
	})

	return &HashLinearModel{Classifier: classifier}
}

// trainMiniBatch shuffles samples each epoch and calls step once per batch,
// honoring cfg.MaxSeconds as a hard wall-clock budget (spec.md §4.5 step 4
// "stream mini-batches with time budget max_seconds").
func trainMiniBatch(samples []LabeledText, cfg TrainConfig, step func(batch []LabeledText)) {
	cfg = cfg.normalized()

	deadline := time.Time{}
	if cfg.MaxSeconds > 0 {
		deadline = time.Now().Add(time.Duration(cfg.MaxSeconds) * time.Second)
	}

	start := time.Now()
	done := 0
	rng := rand.New(rand.NewSource(1))

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		shuffled := append([]LabeledText(nil), samples...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		for i := 0; i < len(shuffled); i += cfg.BatchSize {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return
			}

			end := min(i+cfg.BatchSize, len(shuffled))
			batch := shuffled[i:end]

			step(batch)

			done += len(batch)

			if cfg.OnProgress != nil {
				cfg.OnProgress(done, len(samples)*cfg.Epochs, time.Since(start))
			}
		}
	}
}
