package config

import (
	_ "embed"
	"time"
)

//go:embed defaults/server.yaml
var defaultServerYAML []byte

// DefaultServerConfig returns the built-in configuration. It matches the
// embedded defaults/server.yaml.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Server: ServerSection{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Transport: TransportSection{
			Path:              "/hub",
			HeartbeatInterval: 15 * time.Second,
			NegotiateTTL:      30 * time.Second,
			WriteWait:         10 * time.Second,
			MaxMessageSize:    64 * 1024,
			SendBuffer:        256,
		},
		Match: MatchSection{
			Countdown:         3 * time.Second,
			DisconnectTimeout: 30 * time.Second,
			CodeAttempts:      100,
			LeaderboardSize:   10,
			HistorySize:       20,
			QueueSize:         1024,
		},
		AI: AISection{
			Difficulty: string(DifficultyNormal),
		},
		Storage: StorageSection{
			Enabled: true,
			Path:    "~/.blockduel/matches.db",
		},
		Auth: AuthSection{
			Mode:   AuthHeader,
			Header: "X-User-Id",
		},
		Monitor: MonitorSection{
			Address:         ":23234",
			IdleTimeout:     30 * time.Minute,
			RefreshInterval: time.Second,
		},
		Broker: BrokerSection{
			Subject: "blockduel.match.finished",
			Name:    "blockduel",
		},
		Log: LogSection{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultYAML returns the embedded default configuration file.
func DefaultYAML() []byte {
	return defaultServerYAML
}
