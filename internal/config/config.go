// Package config provides YAML-based server configuration loading with
// embedded defaults and environment overrides.
package config

import "time"

// ServerConfig contains all configuration for a blockduel server.
type ServerConfig struct {
	Server    ServerSection    `yaml:"server"`
	Transport TransportSection `yaml:"transport"`
	Match     MatchSection     `yaml:"match"`
	AI        AISection        `yaml:"ai"`
	Storage   StorageSection   `yaml:"storage"`
	Auth      AuthSection      `yaml:"auth"`
	Monitor   MonitorSection   `yaml:"monitor"`
	Broker    BrokerSection    `yaml:"broker"`
	Log       LogSection       `yaml:"log"`
}

// ServerSection defines the HTTP listener.
type ServerSection struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportSection defines hub protocol parameters.
type TransportSection struct {
	Path              string        `yaml:"path"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	NegotiateTTL      time.Duration `yaml:"negotiate_ttl"`
	WriteWait         time.Duration `yaml:"write_wait"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	SendBuffer        int           `yaml:"send_buffer"`
	AllowedOrigins    []string      `yaml:"allowed_origins"` // Empty allows any origin
}

// MatchSection defines match orchestration parameters.
type MatchSection struct {
	Countdown         time.Duration `yaml:"countdown"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	CodeAttempts      int           `yaml:"code_attempts"`
	LeaderboardSize   int           `yaml:"leaderboard_size"`
	HistorySize       int           `yaml:"history_size"`
	QueueSize         int           `yaml:"queue_size"`
}

// AISection defines the AI opponent.
type AISection struct {
	Difficulty string `yaml:"difficulty"` // Preset name or level "1".."5"
}

// StorageSection defines result persistence.
type StorageSection struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthSection defines how identities are resolved at negotiation.
type AuthSection struct {
	Mode   string            `yaml:"mode"`   // "none", "token" or "header"
	Header string            `yaml:"header"` // For mode "header"
	Tokens map[string]string `yaml:"tokens"` // Bearer token -> identity, for mode "token"
}

// MonitorSection defines the SSH dashboard.
type MonitorSection struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	HostKeyPath     string        `yaml:"host_key_path"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// BrokerSection defines the NATS fan-out of finished matches.
type BrokerSection struct {
	URL     string `yaml:"url"` // Empty disables publishing
	Subject string `yaml:"subject"`
	Name    string `yaml:"name"`
}

// LogSection defines logger output.
type LogSection struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// Auth modes.
const (
	AuthNone   = "none"
	AuthToken  = "token"
	AuthHeader = "header"
)
