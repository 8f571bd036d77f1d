package samplestore

import (
	"fmt"
	"math/rand"
)

// SampleLoading selects which sampling strategy LoadSamples uses to build
// a training set (spec.md §4.4 "Sampling strategies").
type SampleLoading string

const (
	// LoadBalancedUndersample takes min(count_0, count_1) samples from
	// each class, chosen at random, and fails if either class is empty.
	LoadBalancedUndersample SampleLoading = "balanced_undersample"
	// LoadLatestFull takes up to maxPerClass of the most recently written
	// samples from each class.
	LoadLatestFull SampleLoading = "latest_full"
	// LoadRandomFull takes up to maxPerClass random samples from each
	// class.
	LoadRandomFull SampleLoading = "random_full"
)

// ErrEmptyClass is returned by LoadBalancedUndersample when either label
// has zero samples: a balanced draw is impossible.
var ErrEmptyClass = fmt.Errorf("samplestore: cannot build a balanced sample set, one class is empty")

// LoadSamples builds a training set per strategy, shuffling the combined
// result so label order carries no positional signal (spec.md §4.4).
// seed makes the draw reproducible: the profile's probability.random_seed
// seeds this exactly as it seeds the smart stage's Bernoulli check
// (spec.md §9 "Determinism of sampling" — tests fix seeds and assert exact
// selected-id lists).
func (s *Store) LoadSamples(strategy SampleLoading, maxPerClass int, seed int64) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))

	switch strategy {
	case LoadBalancedUndersample:
		return s.loadBalancedUndersample(rng)
	case LoadLatestFull:
		return s.loadLatestFull(maxPerClass, rng)
	case LoadRandomFull:
		return s.loadRandomFull(maxPerClass, rng)
	default:
		return nil, fmt.Errorf("samplestore: unknown sample loading strategy %q", strategy)
	}
}

func (s *Store) loadBalancedUndersample(rng *rand.Rand) ([]Sample, error) {
	ids0, err := s.allIDsByLabel(0)
	if err != nil {
		return nil, err
	}

	ids1, err := s.allIDsByLabel(1)
	if err != nil {
		return nil, err
	}

	if len(ids0) == 0 || len(ids1) == 0 {
		return nil, ErrEmptyClass
	}

	n := len(ids0)
	if len(ids1) < n {
		n = len(ids1)
	}

	rng.Shuffle(len(ids0), func(i, j int) { ids0[i], ids0[j] = ids0[j], ids0[i] })
	rng.Shuffle(len(ids1), func(i, j int) { ids1[i], ids1[j] = ids1[j], ids1[i] })

	ids := append(append([]int64{}, ids0[:n]...), ids1[:n]...)

	return s.loadAndShuffle(ids, rng)
}

func (s *Store) loadLatestFull(maxPerClass int, rng *rand.Rand) ([]Sample, error) {
	ids0, err := s.allIDsByLabel(0)
	if err != nil {
		return nil, err
	}

	ids1, err := s.allIDsByLabel(1)
	if err != nil {
		return nil, err
	}

	ids := append(takeLatest(ids0, maxPerClass), takeLatest(ids1, maxPerClass)...)

	return s.loadAndShuffle(ids, rng)
}

func (s *Store) loadRandomFull(maxPerClass int, rng *rand.Rand) ([]Sample, error) {
	ids0, err := s.allIDsByLabel(0)
	if err != nil {
		return nil, err
	}

	ids1, err := s.allIDsByLabel(1)
	if err != nil {
		return nil, err
	}

	rng.Shuffle(len(ids0), func(i, j int) { ids0[i], ids0[j] = ids0[j], ids0[i] })
	rng.Shuffle(len(ids1), func(i, j int) { ids1[i], ids1[j] = ids1[j], ids1[i] })

	ids := append(takeN(ids0, maxPerClass), takeN(ids1, maxPerClass)...)

	return s.loadAndShuffle(ids, rng)
}

// takeLatest returns the maxN ids with the highest value; allIDsByLabel's
// source rows are already key-sorted ascending so ids arrive ascending.
func takeLatest(ids []int64, maxN int) []int64 {
	if maxN <= 0 || len(ids) <= maxN {
		return ids
	}

	return ids[len(ids)-maxN:]
}

func takeN(ids []int64, maxN int) []int64 {
	if maxN <= 0 || len(ids) <= maxN {
		return ids
	}

	return ids[:maxN]
}

func (s *Store) loadAndShuffle(ids []int64, rng *rand.Rand) ([]Sample, error) {
	samples := make([]Sample, 0, len(ids))

	for _, id := range ids {
		sample, ok, err := s.loadByID(id)
		if err != nil {
			return nil, err
		}

		if ok {
			samples = append(samples, sample)
		}
	}

	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })

	return samples, nil
}
