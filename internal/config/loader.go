package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvAddress     = "BLOCKDUEL_ADDR"
	EnvDBPath      = "BLOCKDUEL_DB"
	EnvLogLevel    = "BLOCKDUEL_LOG_LEVEL"
	EnvLogFormat   = "BLOCKDUEL_LOG_FORMAT"
	EnvNATSURL     = "BLOCKDUEL_NATS_URL"
	EnvMonitorAddr = "BLOCKDUEL_MONITOR_ADDR"
)

// Load reads the server configuration.
// Search order: customPath -> ~/.blockduel/config.yaml -> ./configs/server.yaml -> embedded default
// Files only need to set the keys they change.
func Load(customPath string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := yaml.Unmarshal(defaultServerYAML, &cfg); err != nil {
		cfg = DefaultServerConfig() // Fallback to hardcoded if embed fails
	}

	// Try custom path first
	if customPath != "" {
		data, err := os.ReadFile(customPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", customPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", customPath, err)
		}
		return cfg, nil
	}

	// Try user config directory
	if userCfgPath := userConfigPath("config.yaml"); userCfgPath != "" {
		if data, err := os.ReadFile(userCfgPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", userCfgPath, err)
			}
			return cfg, nil
		}
	}

	// Try local configs directory
	if data, err := os.ReadFile(filepath.Join("configs", "server.yaml")); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config configs/server.yaml: %w", err)
		}
	}
	return cfg, nil
}

// userConfigPath returns the path to user config file, or empty if home is unavailable.
func userConfigPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".blockduel", filename)
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored. Existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from BLOCKDUEL_* variables.
func ApplyEnv(cfg *ServerConfig, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAddress); v != "" {
		cfg.Server.Address = v
	}
	if v := getenv(EnvDBPath); v != "" {
		cfg.Storage.Path = v
		cfg.Storage.Enabled = true
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv(EnvNATSURL); v != "" {
		cfg.Broker.URL = v
	}
	if v := getenv(EnvMonitorAddr); v != "" {
		cfg.Monitor.Address = v
		cfg.Monitor.Enabled = true
	}
}

// Validate reports the first setting that cannot be used.
func (c ServerConfig) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if !strings.HasPrefix(c.Transport.Path, "/") {
		return fmt.Errorf("transport.path %q must start with /", c.Transport.Path)
	}
	if c.Match.DisconnectTimeout <= 0 {
		return errors.New("match.disconnect_timeout must be positive")
	}
	if _, err := c.AILevel(); err != nil {
		return fmt.Errorf("ai.difficulty: %w", err)
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthToken:
		if len(c.Auth.Tokens) == 0 {
			return errors.New("auth.tokens is required for mode token")
		}
	case AuthHeader:
		if c.Auth.Header == "" {
			return errors.New("auth.header is required for mode header")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return errors.New("storage.path is required when storage is enabled")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// AILevel resolves the configured default AI difficulty.
func (c ServerConfig) AILevel() (int, error) {
	return ParseDifficulty(c.AI.Difficulty)
}

// NewLogger builds the root logger described by the log section.
func NewLogger(cfg LogSection, w io.Writer, prefix string) (*log.Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
		Level:           level,
	})
	switch cfg.Format {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger, nil
}
