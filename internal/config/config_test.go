package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umbragrid.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
name = "test-world"

[engine]
grid_size = 50.0
visibility_ttl = "1s"

[database]
enabled = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-world", cfg.Server.Name)
	assert.Equal(t, 50.0, cfg.Engine.GridSize)
	assert.Equal(t, time.Second, cfg.Engine.VisibilityTTL)
	assert.True(t, cfg.Database.Enabled)

	// untouched sections keep defaults
	assert.Equal(t, 600.0, cfg.Engine.VisionRange)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotZero(t, cfg.Server.StartTime)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/umbragrid.toml")
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine\ngrid_size"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
