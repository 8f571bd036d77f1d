package localmodel

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoadForVariant loads the appropriate Predictor for modelType from dir,
// dispatching to the three variant loaders. It returns os.ErrNotExist
// (wrapped) when the variant's model file is absent, which callers treat
// as "no local model present" (spec.md §4.3 step 3).
func LoadForVariant(modelType string, dir string, aiTimeout time.Duration) (Predictor, time.Time, error) {
	switch modelType {
	case "bow":
		modelPath := filepath.Join(dir, "bow.model")
		vecPath := filepath.Join(dir, "bow.vectorizer")

		info, err := os.Stat(modelPath)
		if err != nil {
			return nil, time.Time{}, err
		}

		model, err := LoadBoWModel(modelPath, vecPath)
		if err != nil {
			return nil, time.Time{}, err
		}

		return model, info.ModTime(), nil

	case "hashlinear":
		path := filepath.Join(dir, "hashlinear.model")

		info, err := os.Stat(path)
		if err != nil {
			return nil, time.Time{}, err
		}

		model, err := LoadHashLinearModel(path)
		if err != nil {
			return nil, time.Time{}, err
		}

		return model, info.ModTime(), nil

	case "fasttext":
		path := filepath.Join(dir, "fasttext.bin")

		info, err := os.Stat(path)
		if err != nil {
			return nil, time.Time{}, err
		}

		model, err := LoadFastTextModel(path, aiTimeout)
		if err != nil {
			return nil, time.Time{}, err
		}

		return model, info.ModTime(), nil

	default:
		return nil, time.Time{}, fmt.Errorf("localmodel: unknown model type %q", modelType)
	}
}
