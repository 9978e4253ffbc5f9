package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "semgate", cfg.NATS.Name)
	assert.Equal(t, 10*time.Second, cfg.NATS.ConnectTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "missing nats url", modify: func(c *Config) { c.NATS.URL = "" }, wantErr: true},
		{name: "zero connect timeout", modify: func(c *Config) { c.NATS.ConnectTimeout = 0 }, wantErr: true},
		{name: "metrics without addr", modify: func(c *Config) { c.Metrics.Addr = "" }, wantErr: true},
		{
			name: "metrics disabled without addr",
			modify: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Addr = ""
			},
		},
		{
			name:    "autonomy not encodable",
			modify:  func(c *Config) { c.Autonomy = map[string]any{"bad": func() {}} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("SEMGATE_TEST_CHANNEL", "eng-releases")

	path := filepath.Join(t.TempDir(), "semgate.yaml")
	content := `
nats:
  url: "nats://test:4222"
  connect_timeout: 3s
metrics:
  enabled: false
autonomy:
  tick_interval_ms: 2000
  auto_start: true
  channels:
    chat:
      channel: "${SEMGATE_TEST_CHANNEL}"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://test:4222", cfg.NATS.URL)
	assert.Equal(t, "semgate", cfg.NATS.Name, "unset fields keep defaults")
	assert.Equal(t, 3*time.Second, cfg.NATS.ConnectTimeout)
	assert.False(t, cfg.Metrics.Enabled)

	raw, err := cfg.AutonomyJSON()
	require.NoError(t, err)

	var autonomy struct {
		TickInterval int  `json:"tick_interval_ms"`
		AutoStart    bool `json:"auto_start"`
		Channels     struct {
			Chat struct {
				Channel string `json:"channel"`
			} `json:"chat"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(raw, &autonomy))
	assert.Equal(t, 2000, autonomy.TickInterval)
	assert.True(t, autonomy.AutoStart)
	assert.Equal(t, "eng-releases", autonomy.Channels.Chat.Channel)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nats: [unterminated"), 0644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestAutonomyJSON_Empty(t *testing.T) {
	raw, err := DefaultConfig().AutonomyJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "semgate.yaml")

	cfg := DefaultConfig()
	cfg.NATS.URL = "nats://saved:4222"
	cfg.Autonomy = map[string]any{"max_gate_retries": 5}
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://saved:4222", loaded.NATS.URL)
	assert.Equal(t, 5, loaded.Autonomy["max_gate_retries"])
}

func TestLoader_Load(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "repo", "sub")
	require.NoError(t, os.MkdirAll(project, 0755))
	home := filepath.Join(root, "home")

	newLoader := func() *Loader {
		l := NewLoader(nil)
		l.getwd = func() (string, error) { return project, nil }
		l.home = func() (string, error) { return home, nil }
		return l
	}

	t.Run("defaults when nothing exists", func(t *testing.T) {
		cfg, path, err := newLoader().Load("")
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Equal(t, DefaultConfig().NATS.URL, cfg.NATS.URL)
	})

	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0755))
	require.NoError(t, os.WriteFile(userPath, []byte("nats:\n  url: nats://user:4222\n"), 0644))

	t.Run("user config", func(t *testing.T) {
		cfg, path, err := newLoader().Load("")
		require.NoError(t, err)
		assert.Equal(t, userPath, path)
		assert.Equal(t, "nats://user:4222", cfg.NATS.URL)
	})

	projectPath := filepath.Join(root, "repo", ProjectConfigFile)
	require.NoError(t, os.WriteFile(projectPath, []byte("nats:\n  url: nats://project:4222\n"), 0644))

	t.Run("project config found in parent directory", func(t *testing.T) {
		cfg, path, err := newLoader().Load("")
		require.NoError(t, err)
		assert.Equal(t, projectPath, path)
		assert.Equal(t, "nats://project:4222", cfg.NATS.URL)
	})

	t.Run("env overrides nats url", func(t *testing.T) {
		t.Setenv(EnvNATSURL, "nats://env:4222")
		cfg, _, err := newLoader().Load("")
		require.NoError(t, err)
		assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		_, _, err := newLoader().Load(filepath.Join(root, "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid file rejected", func(t *testing.T) {
		bad := filepath.Join(root, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("nats:\n  connect_timeout: -1s\n"), 0644))
		_, _, err := newLoader().Load(bad)
		require.Error(t, err)
	})
}
