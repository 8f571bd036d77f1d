package localmodel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Vectorizer turns tokenized text into a TF-IDF feature vector over a fixed
// vocabulary, the BoW variant's feature pipeline (spec.md §4.3).
type Vectorizer struct {
	Vocab map[string]int `json:"vocab"`
	IDF   []float64      `json:"idf"`
}

// Transform builds the TF-IDF vector for tokens against v's vocabulary.
func (v *Vectorizer) Transform(tokens []string) *mat.VecDense {
	vec := mat.NewVecDense(len(v.Vocab), nil)
	if len(tokens) == 0 {
		return vec
	}

	counts := make(map[int]float64)
	for _, tok := range tokens {
		if idx, ok := v.Vocab[tok]; ok {
			counts[idx]++
		}
	}

	total := float64(len(tokens))

	var norm float64

	for idx, c := range counts {
		tf := c / total
		val := tf * v.IDF[idx]
		vec.SetVec(idx, val)
		norm += val * val
	}

	if norm > 0 {
		vec.ScaleVec(1/math.Sqrt(norm), vec)
	}

	return vec
}

// LogisticClassifier is a binary logistic-regression classifier trained by
// SGD with balanced class weights, shared by the BoW and HashLinear
// variants (spec.md §4.3).
type LogisticClassifier struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// PredictProba returns sigmoid(w·x + b).
func (c *LogisticClassifier) PredictProba(x *mat.VecDense) float64 {
	w := mat.NewVecDense(len(c.Weights), c.Weights)

	n := x.Len()
	if n != w.Len() {
		n = min(n, w.Len())
	}

	var dot float64
	for i := 0; i < n; i++ {
		dot += x.AtVec(i) * w.AtVec(i)
	}

	return sigmoid(dot + c.Bias)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// PartialFit performs one mini-batch SGD logistic-regression update with
// balanced class weights, the shared "partial_fit" training step used by
// both BoW and HashLinear (spec.md §4.3).
func (c *LogisticClassifier) PartialFit(xs []*mat.VecDense, ys []int, learningRate float64) {
	if len(xs) == 0 {
		return
	}

	dim := xs[0].Len()
	if len(c.Weights) != dim {
		c.Weights = make([]float64, dim)
	}

	var n0, n1 int

	for _, y := range ys {
		if y == 1 {
			n1++
		} else {
			n0++
		}
	}

	weightFor := func(y int) float64 {
		total := float64(n0 + n1)
		if y == 1 && n1 > 0 {
			return total / (2 * float64(n1))
		}

		if y == 0 && n0 > 0 {
			return total / (2 * float64(n0))
		}

		return 1
	}

	gradW := make([]float64, dim)

	var gradB float64

	for i, x := range xs {
		y := float64(ys[i])
		p := c.PredictProba(x)
		err := (p - y) * weightFor(ys[i])

		for j := 0; j < dim; j++ {
			gradW[j] += err * x.AtVec(j)
		}

		gradB += err
	}

	scale := learningRate / float64(len(xs))
	for j := 0; j < dim; j++ {
		c.Weights[j] -= scale * gradW[j]
	}

	c.Bias -= scale * gradB
}

// BoWModel bundles a Vectorizer and LogisticClassifier, persisted as two
// sibling files (bow.vectorizer, bow.model) per spec.md §6.4.
type BoWModel struct {
	Vectorizer *Vectorizer
	Classifier *LogisticClassifier
}

var _ Predictor = (*BoWModel)(nil)

func (m *BoWModel) PredictProba(text string) (float64, error) {
	tokens := append(Tokenize(text), CharNGrams(text, 2, 3)...)
	vec := m.Vectorizer.Transform(tokens)

	return m.Classifier.PredictProba(vec), nil
}

// LoadBoWModel reads the vectorizer and classifier from disk, applying the
// corruption checks of spec.md §4.3 to each file.
func LoadBoWModel(modelPath, vectorizerPath string) (*BoWModel, error) {
	classifier, err := loadJSONChecked[LogisticClassifier](modelPath)
	if err != nil {
		return nil, err
	}

	vectorizer, err := loadJSONChecked[Vectorizer](vectorizerPath)
	if err != nil {
		return nil, err
	}

	model := &BoWModel{Vectorizer: vectorizer, Classifier: classifier}

	if _, err := model.PredictProba("canary"); err != nil {
		os.Remove(modelPath)
		os.Remove(vectorizerPath)

		return nil, fmt.Errorf("%w: canary prediction failed: %v", ErrCorrupted, err)
	}

	return model, nil
}

// SaveBoWModel atomically writes both files via a .tmp-then-rename,
// spec.md §4.5 step 5.
func SaveBoWModel(modelPath, vectorizerPath string, model *BoWModel) error {
	if err := saveJSONAtomic(modelPath, model.Classifier); err != nil {
		return err
	}

	return saveJSONAtomic(vectorizerPath, model.Vectorizer)
}

func loadJSONChecked[T any](path string) (*T, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.Size() < minModelSize {
		os.Remove(path)
		return nil, fmt.Errorf("%w: file below %d bytes", ErrCorrupted, minModelSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return &v, nil
}

func saveJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
