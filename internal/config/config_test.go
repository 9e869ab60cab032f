package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears viper's global state between tests.
func resetViper() {
	viper.Reset()
}

// writeTempYAML writes a temporary YAML file with given content and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "mhconf", cfg.App.Name)
	assert.Empty(t, cfg.Roots)
}

func TestLoadConfig_FromFile(t *testing.T) {
	resetViper()
	path := writeTempYAML(t, `
server:
  port: 9090
roots:
  - id: primary
    path: /etc/mhconf/primary
  - id: secondary
    path: /etc/mhconf/secondary
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Roots, 2)
	assert.Equal(t, "primary", cfg.Roots[0].ID)
	assert.Equal(t, "/etc/mhconf/secondary", cfg.Roots[1].Path)
}

func TestConfig_Validate_RejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 0},
		Log:    LogConfig{Level: "info"},
		App:    AppConfig{Name: "mhconf"},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsDuplicateRootID(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:    LogConfig{Level: "info"},
		App:    AppConfig{Name: "mhconf"},
		Roots: []RootConfig{
			{ID: "a", Path: "/x"},
			{ID: "a", Path: "/y"},
		},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfig_EnvironmentHelpers(t *testing.T) {
	cfg := &Config{App: AppConfig{Environment: "production"}}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.App.Environment = "development"
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsDebug())
}
