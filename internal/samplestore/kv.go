package samplestore

import (
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// kv is a generic Get/Put/Delete/ScanPrefix key-value interface backed by
// modernc.org/sqlite (the teacher's pure-Go sqlite driver, repurposed here
// as an embedded KV engine — see DESIGN.md). No pure-Go RocksDB binding
// exists anywhere in the example pack; this keeps the sample-store logic
// above it storage-engine agnostic. The store is a single sqlite database
// file at the profile's history.rocks path, not a directory.
type kv struct {
	db *sql.DB
}

func openKV(path string) (*kv, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("samplestore: open kv at %s: %w", path, err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v BLOB)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("samplestore: init kv schema: %w", err)
	}

	return &kv{db: db}, nil
}

func (k *kv) Close() error {
	return k.db.Close()
}

func (k *kv) Get(key string) ([]byte, bool, error) {
	var v []byte

	err := k.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

func (k *kv) Put(key string, value []byte) error {
	_, err := k.db.Exec(`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func (k *kv) Delete(key string) error {
	_, err := k.db.Exec(`DELETE FROM kv WHERE k = ?`, key)
	return err
}

// ScanPrefix returns every (key, value) pair whose key starts with prefix,
// sorted by key ascending.
func (k *kv) ScanPrefix(prefix string) ([][2]string, error) {
	rows, err := k.db.Query(`SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k ASC`, prefix, prefix+"\xff")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2]string

	for rows.Next() {
		var key, val string
		if err := rows.Scan(&key, &val); err != nil {
			return nil, err
		}

		out = append(out, [2]string{key, val})
	}

	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })

	return out, rows.Err()
}
