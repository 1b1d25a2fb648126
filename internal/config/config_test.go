package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 1000, cfg.Log.Capacity)
	assert.Equal(t, 1, cfg.Matching.FuzzyThreshold)
	assert.False(t, cfg.Pipeline.AutoDetectDefault)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.OverdueGrace)
	assert.False(t, cfg.DB.Enabled)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(`
http:
  addr: ":9090"
matching:
  fuzzy_threshold: 2
schedule:
  overdue_grace: 30m
gates:
  - id: Gate-North
    camera_id: cam-1
    camera_name: North entrance
  - id: Gate-South
    camera_id: cam-2
`), 0o600)
	require.NoError(t, err)

	t.Setenv("RECONCILER_PIPELINE_AUTO_DETECT_DEFAULT", "true")
	t.Setenv("RECONCILER_MATCHING_FUZZY_THRESHOLD", "0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 0, cfg.Matching.FuzzyThreshold, "env wins over file")
	assert.True(t, cfg.Pipeline.AutoDetectDefault)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.OverdueGrace)
	require.Len(t, cfg.Gates, 2)
	assert.Equal(t, "Gate-North", cfg.Gates[0].ID)
	assert.Equal(t, "North entrance", cfg.Gates[0].CameraName)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Log.Capacity = -1
	cfg.DB.Enabled = true
	cfg.Gates = []GateConfig{{ID: "g1"}, {ID: "g1"}, {}}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.capacity")
	assert.Contains(t, err.Error(), "db.dsn")
	assert.Contains(t, err.Error(), `gate "g1" configured twice`)
	assert.Contains(t, err.Error(), "gates[2].id")
}
