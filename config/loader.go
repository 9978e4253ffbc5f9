package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "semgate.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/semgate"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvNATSURL overrides nats.url
	EnvNATSURL = "SEMGATE_NATS_URL"
)

// Loader resolves which config file to load.
type Loader struct {
	logger *slog.Logger
	getwd  func() (string, error)
	home   func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, getwd: os.Getwd, home: os.UserHomeDir}
}

// Load returns the configuration and the file it came from. Precedence:
//  1. explicit path (must exist)
//  2. semgate.yaml in the current or a parent directory
//  3. ~/.config/semgate/config.yaml
//  4. defaults
//
// SEMGATE_NATS_URL overrides nats.url in every case. The returned path is
// empty when defaults were used.
func (l *Loader) Load(explicit string) (*Config, string, error) {
	path := explicit
	if path == "" {
		path = l.Resolve()
	}

	config := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, "", err
		}
		config = loaded
		l.logger.Debug("Loaded config", slog.String("path", path))
	} else {
		l.logger.Debug("No config file found, using defaults")
	}

	if url := os.Getenv(EnvNATSURL); url != "" {
		config.NATS.URL = url
	}

	if err := config.Validate(); err != nil {
		return nil, "", err
	}
	return config, path, nil
}

// Resolve finds the config file that Load would use without an explicit
// path, or "" if there is none.
func (l *Loader) Resolve() string {
	if p := l.findProjectConfig(); p != "" {
		return p
	}
	if p := l.userConfigPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (l *Loader) userConfigPath() string {
	home, err := l.home()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for semgate.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := l.getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
