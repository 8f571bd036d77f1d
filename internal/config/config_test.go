package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFileYieldsBuiltInDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/etc/guardianbridge/profiles", cfg.Moderation.ProfilesRoot)
	assert.Equal(t, 10, cfg.Training.IntervalMinutes)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\nmoderation:\n  profiles_root: /tmp/profiles\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/profiles", cfg.Moderation.ProfilesRoot)
	// Unset-in-file fields keep their defaults.
	assert.Equal(t, 10, cfg.Training.IntervalMinutes)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("GUARDIANBRIDGE_SERVER_ADDR", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
}
