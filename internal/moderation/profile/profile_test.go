package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, root, name, json string) {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.json"), []byte(json), 0o644))
}

func TestStore_GetLoadsAndCachesByMtime(t *testing.T) {
	root := t.TempDir()
	writeProfile(t, root, "p1", `{"ai":{"base_url":"https://example.com","model":"m"},"probability":{"ai_review_rate":0.1},"local_model_type":"bow"}`)

	store := NewStore(root)

	p1, err := store.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p1.Name)
	assert.Equal(t, "bow", string(p1.LocalModelType))
	assert.Equal(t, "https://example.com", p1.AI.BaseURL)

	p2, err := store.Get("p1")
	require.NoError(t, err)
	assert.Same(t, p1, p2, "unchanged profile.json must return the cached pointer")
}

func TestStore_GetReloadsAfterMtimeAdvances(t *testing.T) {
	root := t.TempDir()
	writeProfile(t, root, "p1", `{"ai":{"model":"v1"}}`)

	store := NewStore(root)

	p1, err := store.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "v1", p1.AI.Model)

	path := filepath.Join(root, "p1", "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ai":{"model":"v2"}}`), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	p2, err := store.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "v2", p2.AI.Model)
}

func TestStore_GetMissingProfileReturnsError(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Get("nope")
	assert.Error(t, err)
}

func TestStore_ProfilesListsOnlyDirsWithProfileJSON(t *testing.T) {
	root := t.TempDir()
	writeProfile(t, root, "a", `{}`)
	writeProfile(t, root, "b", `{}`)
	require.NoError(t, os.Mkdir(filepath.Join(root, "not-a-profile"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0o644))

	store := NewStore(root)

	names, err := store.Profiles()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestProfile_ModelPathVariesByType(t *testing.T) {
	p := &Profile{Dir: "/profiles/x"}

	p.LocalModelType = ModelBoW
	assert.Equal(t, "/profiles/x/bow.model", p.ModelPath())

	p.LocalModelType = ModelFastText
	assert.Equal(t, "/profiles/x/fasttext.bin", p.ModelPath())

	p.LocalModelType = ModelHashLinear
	assert.Equal(t, "/profiles/x/hashlinear.model", p.ModelPath())

	p.LocalModelType = ""
	assert.Equal(t, "", p.ModelPath())
}
