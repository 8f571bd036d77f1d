package samplestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// migrateIfNeeded ports samples out of a legacy single-table SQLite
// database into the kv-shaped store at newPath, then renames the legacy
// file aside. It is a no-op when newPath already exists or legacyPath is
// absent (spec.md §4.4 "Legacy migration").
func migrateIfNeeded(legacyPath, newPath string) error {
	if legacyPath == "" {
		return nil
	}

	if _, err := os.Stat(newPath); err == nil {
		return nil
	}

	if _, err := os.Stat(legacyPath); err != nil {
		return nil
	}

	tmpPath := newPath + ".migrating"
	os.Remove(tmpPath)

	if err := migrateInto(legacyPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("samplestore: migrate legacy store: %w", err)
	}

	if err := os.Rename(tmpPath, newPath); err != nil {
		return fmt.Errorf("samplestore: finalize migrated store: %w", err)
	}

	renameLegacyAside(legacyPath)

	return nil
}

func migrateInto(legacyPath, tmpPath string) error {
	legacy, err := sql.Open("sqlite", legacyPath)
	if err != nil {
		return fmt.Errorf("open legacy db: %w", err)
	}
	defer legacy.Close()

	rows, err := legacy.Query(`SELECT text, label, category, created_at FROM samples ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("read legacy samples: %w", err)
	}
	defer rows.Close()

	store, err := openKV(tmpPath)
	if err != nil {
		return err
	}
	defer store.Close()

	target := &Store{kv: store}
	if err := target.initMeta(); err != nil {
		return err
	}

	for rows.Next() {
		var (
			text, category, createdAt sql.NullString
			label                     int
		)

		if err := rows.Scan(&text, &label, &category, &createdAt); err != nil {
			return fmt.Errorf("scan legacy row: %w", err)
		}

		if _, err := target.migrateOne(text.String, label, category.String, createdAt.String); err != nil {
			return fmt.Errorf("write migrated sample: %w", err)
		}
	}

	return rows.Err()
}

// migrateOne re-saves a legacy row preserving its original created_at
// instead of stamping "now", used only by migrateInto.
func (s *Store) migrateOne(text string, label int, category, createdAt string) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextID, err := s.getInt(keyNextID)
	if err != nil {
		return Sample{}, err
	}

	if nextID == 0 {
		nextID = 1
	}

	if createdAt == "" {
		createdAt = time.Now().UTC().Format(timeLayout)
	}

	hash := hashText(text)
	sample := Sample{
		ID:        nextID,
		Text:      text,
		Label:     label,
		Category:  category,
		CreatedAt: createdAt,
		TextHash:  hash,
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return Sample{}, err
	}

	if err := s.kv.Put(fmt.Sprintf(sampleFmt, sample.ID), data); err != nil {
		return Sample{}, err
	}

	if err := s.kv.Put(fmt.Sprintf(latestFmt, hash), []byte(fmt.Sprintf("%d", sample.ID))); err != nil {
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

	if err := s.kv.Put(keyNextID, []byte(fmt.Sprintf("%d", sample.ID+1))); err != nil {
		return Sample{}, err
	}

	return sample, nil
}

// renameLegacyAside renames legacyPath to a .bak file, falling back to a
// timestamped name if .bak is already taken (spec.md §4.4 "_rename_to_bak").
func renameLegacyAside(legacyPath string) {
	bak := legacyPath + ".bak"

	if err := os.Rename(legacyPath, bak); err == nil {
		return
	}

	timestamped := fmt.Sprintf("%s.bak.%d", legacyPath, time.Now().UnixNano())
	if err := os.Rename(legacyPath, timestamped); err == nil {
		return
	}

	// Rename blocked (cross-device or permissions): copy then unlink so
	// the legacy path is still cleared for the next startup's stat check.
	copyAndUnlink(legacyPath, timestamped)
}

func copyAndUnlink(src, dst string) {
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}

	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return
	}

	os.Remove(src)
}
