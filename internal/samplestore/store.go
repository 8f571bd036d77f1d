// Package samplestore implements the durable, crash-safe moderation
// Sample Store of spec.md §4.4: a key-value store per profile holding
// (text, label, category, timestamp) tuples, the sampling strategies the
// Training Lifecycle reads from, and eviction. Each Open returns a separate
// handle guarded by its own lock; handles are not shared between callers
// that open the same path.
package samplestore

import (
	"context"
	"crypto/md5" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// Sample is one persistent moderation label (spec.md §3 "Sample Record").
type Sample struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Label     int    `json:"label"` // 0 = pass, 1 = violation
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"created_at"`
	TextHash  string `json:"text_hash"`
}

const (
	keyNextID  = "meta:next_id"
	keyCount   = "meta:count"
	keyCount0  = "meta:count:0"
	keyCount1  = "meta:count:1"
	samplePfx  = "sample:"
	latestPfx  = "text_latest:"
	sampleFmt  = "sample:%020d"
	latestFmt  = "text_latest:%s"
	timeLayout = "2006-01-02 15:04:05"
)

// Store is one profile's sample store handle.
type Store struct {
	mu sync.Mutex
	kv *kv
}

// Open opens (migrating a legacy file first, if present) the sample store
// rooted at dir (a profile's history.rocks/ path and sibling legacy file).
func Open(dir, legacyPath string) (*Store, error) {
	if err := migrateIfNeeded(legacyPath, dir); err != nil {
		return nil, err
	}

	store, err := openKV(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{kv: store}
	if err := s.initMeta(); err != nil {
		store.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) initMeta() error {
	defaults := map[string]string{keyNextID: "1", keyCount: "0", keyCount0: "0", keyCount1: "0"}

	for k, v := range defaults {
		if _, ok, err := s.kv.Get(k); err != nil {
			return err
		} else if !ok {
			if err := s.kv.Put(k, []byte(v)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Store) getInt(key string) (int64, error) {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	return strconv.ParseInt(string(v), 10, 64)
}

func hashText(text string) string {
	sum := md5.Sum([]byte(text)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Append persists a new sample, implementing smart.Recorder so the Smart
// moderation stage can record AI-adjudicated labels directly.
func (s *Store) Append(_ context.Context, text string, label int, category string) error {
	_, err := s.Save(text, label, category)
	return err
}

// Save persists a new sample and returns it, then updates the text_latest
// secondary index, the counters and meta:next_id under the store lock
// (spec.md §4.4). Each is a separate write, not grouped in one transaction,
// so a write that fails part-way leaves the earlier ones in place.
func (s *Store) Save(text string, label int, category string) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextID, err := s.getInt(keyNextID)
	if err != nil {
		return Sample{}, err
	}

	if nextID == 0 {
		nextID = 1
	}

	hash := hashText(text)
	sample := Sample{
		ID:        nextID,
		Text:      text,
		Label:     label,
		Category:  category,
		CreatedAt: time.Now().UTC().Format(timeLayout),
		TextHash:  hash,
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return Sample{}, err
	}

	if err := s.kv.Put(fmt.Sprintf(sampleFmt, sample.ID), data); err != nil {
		return Sample{}, err
	}

	if err := s.kv.Put(fmt.Sprintf(latestFmt, hash), []byte(strconv.FormatInt(sample.ID, 10))); err != nil {
		return Sample{}, err
	}

	count0, err := s.getInt(keyCount0)
	if err != nil {
		return Sample{}, err
	}

	count1, err := s.getInt(keyCount1)
	if err != nil {
		return Sample{}, err
	}

	if label == 0 {
		count0++
	} else {
		count1++
	}

	if err := s.setCounts(count0+count1, count0, count1); err != nil {
		return Sample{}, err
	}

	if err := s.kv.Put(keyNextID, []byte(strconv.FormatInt(sample.ID+1, 10))); err != nil {
		return Sample{}, err
	}

	return sample, nil
}

func (s *Store) setCounts(total, count0, count1 int64) error {
	if err := s.kv.Put(keyCount, []byte(strconv.FormatInt(total, 10))); err != nil {
		return err
	}

	if err := s.kv.Put(keyCount0, []byte(strconv.FormatInt(count0, 10))); err != nil {
		return err
	}

	return s.kv.Put(keyCount1, []byte(strconv.FormatInt(count1, 10)))
}

func (s *Store) loadByID(id int64) (Sample, bool, error) {
	raw, ok, err := s.kv.Get(fmt.Sprintf(sampleFmt, id))
	if err != nil || !ok {
		return Sample{}, false, err
	}

	var sample Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return Sample{}, false, err
	}

	return sample, true, nil
}

// Count returns the total sample count (`meta:count`).
func (s *Store) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getInt(keyCount)
}

// LabelCounts returns (count_0, count_1).
func (s *Store) LabelCounts() (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c0, err := s.getInt(keyCount0)
	if err != nil {
		return 0, 0, err
	}

	c1, err := s.getInt(keyCount1)

	return c0, c1, err
}

// allIDsByLabel walks sample:* ascending by id via ScanPrefix, filtering
// by label. ScanPrefix already returns keys lexically sorted, and
// zero-padded ids sort the same lexically as numerically.
func (s *Store) allIDsByLabel(label int) ([]int64, error) {
	rows, err := s.kv.ScanPrefix(samplePfx)
	if err != nil {
		return nil, err
	}

	var ids []int64

	for _, row := range rows {
		var sample Sample
		if err := json.Unmarshal([]byte(row[1]), &sample); err != nil {
			continue
		}

		if sample.Label == label {
			ids = append(ids, sample.ID)
		}
	}

	return ids, nil
}

// Get returns the sample with the given id, for read-only inspection
// (cmd/guardianctl's `samples show`).
func (s *Store) Get(id int64) (Sample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadByID(id)
}

// List returns up to limit most-recently-saved samples, newest first, for
// read-only inspection (cmd/guardianctl's `samples list`). limit <= 0
// returns every sample.
func (s *Store) List(limit int) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.kv.ScanPrefix(samplePfx)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(rows))

	for _, row := range rows {
		var sample Sample
		if err := json.Unmarshal([]byte(row[1]), &sample); err != nil {
			continue
		}

		samples = append(samples, sample)
	}

	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}

	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}

	return samples, nil
}

// FindByText returns the most recent sample whose text matches exactly,
// via the text_latest secondary index with a reverse-scan fallback on a
// hash collision or stale pointer (spec.md §4.4).
func (s *Store) FindByText(text string) (Sample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := hashText(text)

	if raw, ok, err := s.kv.Get(fmt.Sprintf(latestFmt, hash)); err != nil {
		return Sample{}, false, err
	} else if ok {
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err == nil {
			if sample, found, err := s.loadByID(id); err != nil {
				return Sample{}, false, err
			} else if found && sample.Text == text {
				return sample, true, nil
			}
		}
	}

	rows, err := s.kv.ScanPrefix(samplePfx)
	if err != nil {
		return Sample{}, false, err
	}

	for i := len(rows) - 1; i >= 0; i-- {
		var sample Sample
		if err := json.Unmarshal([]byte(rows[i][1]), &sample); err != nil {
			continue
		}

		if sample.Text == text {
			return sample, true, nil
		}
	}

	return Sample{}, false, nil
}

// CleanupExcessSamples drops random records per class exceeding
// maxItems/2, the eviction policy of spec.md §4.4.
func (s *Store) CleanupExcessSamples(maxItems int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetPerClass := maxItems / 2

	for _, label := range []int{0, 1} {
		ids, err := s.allIDsByLabel(label)
		if err != nil {
			return err
		}

		if len(ids) <= targetPerClass {
			continue
		}

		excess := len(ids) - targetPerClass
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

		toDelete := ids[:excess]
		if err := s.deleteSamples(label, toDelete); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) deleteSamples(label int, ids []int64) error {
	count0, err := s.getInt(keyCount0)
	if err != nil {
		return err
	}

	count1, err := s.getInt(keyCount1)
	if err != nil {
		return err
	}

	total, err := s.getInt(keyCount)
	if err != nil {
		return err
	}

	for _, id := range ids {
		sample, ok, err := s.loadByID(id)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		if err := s.kv.Delete(fmt.Sprintf(sampleFmt, id)); err != nil {
			return err
		}

		if label == 0 {
			count0--
		} else {
			count1--
		}

		total--

		if err := s.refreshLatestAfterDelete(sample.TextHash, id); err != nil {
			return err
		}
	}

	if count0 < 0 {
		count0 = 0
	}

	if count1 < 0 {
		count1 = 0
	}

	if total < 0 {
		total = 0
	}

	return s.setCounts(total, count0, count1)
}

// refreshLatestAfterDelete backfills text_latest:<hash> by reverse-scanning
// for another sample with the same hash, or removes the index entry if
// none remains (spec.md §4.4).
func (s *Store) refreshLatestAfterDelete(hash string, deletedID int64) error {
	if hash == "" {
		return nil
	}

	raw, ok, err := s.kv.Get(fmt.Sprintf(latestFmt, hash))
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	current, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || current != deletedID {
		return nil
	}

	rows, err := s.kv.ScanPrefix(samplePfx)
	if err != nil {
		return err
	}

	for i := len(rows) - 1; i >= 0; i-- {
		var sample Sample
		if err := json.Unmarshal([]byte(rows[i][1]), &sample); err != nil {
			continue
		}

		if sample.TextHash == hash {
			return s.kv.Put(fmt.Sprintf(latestFmt, hash), []byte(strconv.FormatInt(sample.ID, 10)))
		}
	}

	return s.kv.Delete(fmt.Sprintf(latestFmt, hash))
}
