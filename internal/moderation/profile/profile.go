// Package profile loads and caches the per-tenant Moderation Profile
// (spec.md §3 "Moderation Profile") from its profile.json, reloading when
// the file's mtime advances.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AI is the `ai` config block: adjudicator endpoint and prompt template.
type AI struct {
	APIKeyEnv      string        `json:"api_key_env"`
	BaseURL        string        `json:"base_url"`
	Model          string        `json:"model"`
	Timeout        time.Duration `json:"timeout"`
	PromptTemplate string        `json:"prompt_template"`
}

// Probability is the `probability` config block driving the smart stage's
// three-way decision (spec.md §4.3).
type Probability struct {
	AIReviewRate    float64 `json:"ai_review_rate"`
	LowRiskThresh   float64 `json:"low_risk_threshold"`
	HighRiskThresh  float64 `json:"high_risk_threshold"`
	RandomSeed      int64   `json:"random_seed"`
}

// LocalModelType selects which predictor variant a profile trains/serves.
type LocalModelType string

const (
	ModelBoW        LocalModelType = "bow"
	ModelFastText   LocalModelType = "fasttext"
	ModelHashLinear LocalModelType = "hashlinear"
)

// Training is the per-variant training hyperparameters block.
type Training struct {
	MinSamples            int    `json:"min_samples"`
	MaxSamples            int    `json:"max_samples"`
	RetrainIntervalMinutes int   `json:"retrain_interval_minutes"`
	NGramMin              int    `json:"ngram_min"`
	NGramMax              int    `json:"ngram_max"`
	MaxFeatures           int    `json:"max_features"`
	Epochs                int    `json:"epochs"`
	BatchSize             int    `json:"batch_size"`
	MaxSeconds            int    `json:"max_seconds"`
	SampleLoading         string `json:"sample_loading"` // balanced_undersample | latest_full | random_full
}

// Profile is the decoded contents of a profile directory's profile.json.
type Profile struct {
	Name           string      `json:"-"`
	Dir            string      `json:"-"`
	AI             AI          `json:"ai"`
	Probability    Probability `json:"probability"`
	LocalModelType LocalModelType `json:"local_model_type"`
	Training       Training    `json:"training"`
}

// ModelPath returns the on-disk path of the profile's active local model
// file for its configured LocalModelType (spec.md §6.4).
func (p *Profile) ModelPath() string {
	switch p.LocalModelType {
	case ModelBoW:
		return filepath.Join(p.Dir, "bow.model")
	case ModelFastText:
		return filepath.Join(p.Dir, "fasttext.bin")
	case ModelHashLinear:
		return filepath.Join(p.Dir, "hashlinear.model")
	default:
		return ""
	}
}

func (p *Profile) HistoryDir() string   { return filepath.Join(p.Dir, "history.rocks") }
func (p *Profile) LockPath() string     { return filepath.Join(p.Dir, ".train.lock") }
func (p *Profile) StatusPath() string   { return filepath.Join(p.Dir, ".train_status.json") }
func (p *Profile) TrainLogPath() string { return filepath.Join(p.Dir, "train.log") }
func (p *Profile) JSONPath() string     { return filepath.Join(p.Dir, "profile.json") }

// entry is one cached, mtime-checked Profile.
type entry struct {
	mu      sync.Mutex
	mtime   time.Time
	profile *Profile
}

// Store caches Profiles per profiles-root directory, reloading each one
// only when its profile.json mtime changes. It keeps one mtime-checked
// entry per profile name; entries are never evicted.
type Store struct {
	root string

	mu      sync.Mutex
	entries map[string]*entry
}

func NewStore(root string) *Store {
	return &Store{root: root, entries: map[string]*entry{}}
}

// Get loads (or returns the cached) Profile named name.
func (s *Store) Get(name string) (*Profile, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		e = &entry{}
		s.entries[name] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	dir := filepath.Join(s.root, name)
	path := filepath.Join(dir, "profile.json")

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("moderation profile %q: %w", name, err)
	}

	if e.profile != nil && !info.ModTime().After(e.mtime) {
		return e.profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("moderation profile %q: %w", name, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("moderation profile %q: invalid profile.json: %w", name, err)
	}

	p.Name = name
	p.Dir = dir

	e.profile = &p
	e.mtime = info.ModTime()

	return e.profile, nil
}

// Profiles enumerates every subdirectory of root containing a profile.json,
// the Trainer Scheduler's enumeration step (spec.md §4.5 step 0).
func (s *Store) Profiles() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var names []string

	for _, de := range entries {
		if !de.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(s.root, de.Name(), "profile.json")); err == nil {
			names = append(names, de.Name())
		}
	}

	return names, nil
}
