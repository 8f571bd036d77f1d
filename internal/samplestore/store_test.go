package samplestore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "history.rocks"), "")
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func TestStore_SaveMaintainsCounters(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Append(context.Background(), "pass one", 0, ""))
	require.NoError(t, store.Append(context.Background(), "violation one", 1, "cat"))
	require.NoError(t, store.Append(context.Background(), "pass two", 0, ""))

	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	c0, c1, err := store.LabelCounts()
	require.NoError(t, err)
	assert.EqualValues(t, 2, c0)
	assert.EqualValues(t, 1, c1)
	assert.Equal(t, count, c0+c1, "count must equal count_0 + count_1")
}

func TestStore_NextIDExceedsExistingIDs(t *testing.T) {
	store := openTestStore(t)

	var last Sample
	for i := 0; i < 5; i++ {
		s, err := store.Save("text", 0, "")
		require.NoError(t, err)
		last = s
	}

	nextID, err := store.getInt(keyNextID)
	require.NoError(t, err)
	assert.Greater(t, nextID, last.ID)
}

func TestStore_FindByTextReturnsLatest(t *testing.T) {
	store := openTestStore(t)

	first, err := store.Save("duplicate text", 0, "")
	require.NoError(t, err)

	second, err := store.Save("duplicate text", 1, "cat2")
	require.NoError(t, err)

	found, ok, err := store.FindByText("duplicate text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, found.ID)
	assert.NotEqual(t, first.ID, found.ID)
}

func TestStore_CleanupExcessSamplesRespectsCapAndCounters(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 10; i++ {
		_, err := store.Save("label0-text", 0, "")
		require.NoError(t, err)
	}

	for i := 0; i < 4; i++ {
		_, err := store.Save("label1-text", 1, "")
		require.NoError(t, err)
	}

	require.NoError(t, store.CleanupExcessSamples(8)) // target 4 per class

	ids0, err := store.allIDsByLabel(0)
	require.NoError(t, err)
	assert.Len(t, ids0, 4)

	ids1, err := store.allIDsByLabel(1)
	require.NoError(t, err)
	assert.Len(t, ids1, 4)

	count, err := store.Count()
	require.NoError(t, err)
	c0, c1, err := store.LabelCounts()
	require.NoError(t, err)
	assert.Equal(t, count, c0+c1)
	assert.EqualValues(t, 4, c0)
	assert.EqualValues(t, 4, c1)
}

func TestStore_LoadSamplesDeterministicGivenSeed(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 6; i++ {
		_, err := store.Save("p", 0, "")
		require.NoError(t, err)
	}

	for i := 0; i < 6; i++ {
		_, err := store.Save("v", 1, "")
		require.NoError(t, err)
	}

	a, err := store.LoadSamples(LoadBalancedUndersample, 100, 42)
	require.NoError(t, err)

	b, err := store.LoadSamples(LoadBalancedUndersample, 100, 42)
	require.NoError(t, err)

	require.Len(t, a, len(b))

	idsA := make([]int64, len(a))
	idsB := make([]int64, len(b))

	for i := range a {
		idsA[i] = a[i].ID
		idsB[i] = b[i].ID
	}

	assert.Equal(t, idsA, idsB, "same seed must yield the same selected-id order")
}

func TestStore_LoadBalancedUndersampleRejectsEmptyClass(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Save("only pass", 0, "")
	require.NoError(t, err)

	_, err = store.LoadSamples(LoadBalancedUndersample, 100, 1)
	assert.ErrorIs(t, err, ErrEmptyClass)
}

func TestStore_ListReturnsMostRecentFirst(t *testing.T) {
	store := openTestStore(t)

	var saved []Sample
	for i := 0; i < 5; i++ {
		s, err := store.Save(fmt.Sprintf("text-%d", i), 0, "")
		require.NoError(t, err)
		saved = append(saved, s)
	}

	limited, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, saved[4].ID, limited[0].ID)
	assert.Equal(t, saved[3].ID, limited[1].ID)

	all, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, saved[4].ID, all[0].ID)
	assert.Equal(t, saved[0].ID, all[4].ID)
}

func TestStore_GetReturnsSampleByID(t *testing.T) {
	store := openTestStore(t)

	saved, err := store.Save("needle", 1, "cat")
	require.NoError(t, err)

	found, ok, err := store.Get(saved.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.Text, found.Text)

	_, ok, err = store.Get(saved.ID + 1000)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Scenario 9: migration from a legacy single-table SQLite database.
func TestMigrateIfNeeded_MigratesLegacyStoreAndRenamesAside(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "legacy.sqlite")
	newPath := filepath.Join(dir, "history.rocks")

	legacy, err := sql.Open("sqlite", legacyPath)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE samples (id INTEGER PRIMARY KEY, text TEXT, label INTEGER, category TEXT, created_at TEXT)`)
	require.NoError(t, err)

	wantTexts := []string{"legacy one", "legacy two", "legacy three"}
	for i, text := range wantTexts {
		_, err := legacy.Exec(`INSERT INTO samples (text, label, category, created_at) VALUES (?, ?, ?, ?)`,
			text, i%2, "", "2020-01-01 00:00:00")
		require.NoError(t, err)
	}
	require.NoError(t, legacy.Close())

	store, err := Open(newPath, legacyPath)
	require.NoError(t, err)
	defer store.Close()

	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, len(wantTexts), count)

	last, ok, err := store.loadByID(int64(len(wantTexts)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wantTexts[len(wantTexts)-1], last.Text)

	assert.NoFileExists(t, legacyPath)
	assert.FileExists(t, legacyPath+".bak")
}

func TestMigrateIfNeeded_NoopWhenNewStoreAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "history.rocks")

	store, err := Open(newPath, "")
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), "existing", 0, ""))
	require.NoError(t, store.Close())

	legacyPath := filepath.Join(dir, "legacy.sqlite")
	legacy, err := sql.Open("sqlite", legacyPath)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE samples (id INTEGER PRIMARY KEY, text TEXT, label INTEGER, category TEXT, created_at TEXT)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO samples (text, label, category, created_at) VALUES ('ignored', 0, '', '2020-01-01 00:00:00')`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	reopened, err := Open(newPath, legacyPath)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "legacy migration must be skipped once the new store exists")
	assert.FileExists(t, legacyPath, "legacy file must be left untouched when migration is skipped")
}
