package localmodel

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// HashDim is the fixed hashed-feature dimensionality, chosen to keep model
// files under 10 MB (spec.md §4.3 "Designed for sub-10 MB models").
const HashDim = 1 << 16

// HashVectorize implements the HashLinear variant's feature pipeline:
// character n-grams (2-4) hashed into a fixed-width vector, no sign
// alternation, L2 normalized (spec.md §4.3).
func HashVectorize(text string) *mat.VecDense {
	grams := CharNGrams(text, 2, 4)
	vec := mat.NewVecDense(HashDim, nil)

	for _, g := range grams {
		h := fnv.New32a()
		h.Write([]byte(g))
		idx := int(h.Sum32() % HashDim)
		vec.SetVec(idx, vec.AtVec(idx)+1)
	}

	var norm float64

	for i := 0; i < HashDim; i++ {
		v := vec.AtVec(i)
		norm += v * v
	}

	if norm > 0 {
		vec.ScaleVec(1/math.Sqrt(norm), vec)
	}

	return vec
}

// HashLinearModel is a LogisticClassifier over the hashed feature space.
type HashLinearModel struct {
	Classifier *LogisticClassifier
}

var _ Predictor = (*HashLinearModel)(nil)

func (m *HashLinearModel) PredictProba(text string) (float64, error) {
	return m.Classifier.PredictProba(HashVectorize(text)), nil
}

// LoadHashLinearModel reads hashlinear.model, applying the same corruption
// checks as BoW (spec.md §4.3).
func LoadHashLinearModel(path string) (*HashLinearModel, error) {
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

	var classifier LogisticClassifier
	if err := json.Unmarshal(data, &classifier); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	model := &HashLinearModel{Classifier: &classifier}

	if _, err := model.PredictProba("canary"); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: canary prediction failed: %v", ErrCorrupted, err)
	}

	return model, nil
}

// SaveHashLinearModel atomically writes the classifier via .tmp-then-rename.
func SaveHashLinearModel(path string, model *HashLinearModel) error {
	return saveJSONAtomic(path, model.Classifier)
}
