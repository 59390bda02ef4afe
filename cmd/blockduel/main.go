// blockduel is a real-time 1v1 falling-block match server.
//
// Usage:
//
//	blockduel serve                  - Start the match server
//	blockduel leaderboard            - Show the leaderboard
//	blockduel history <identity>     - Show a player's recent matches
//	blockduel config                 - Print the default configuration
//
// Global flags:
//
//	--config <path> - Configuration file (default: search ~/.blockduel, ./configs)
//	--db <path>     - Override the match database path
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/blockduel/internal/config"
)

var (
	// Global flags
	flagConfigPath string
	flagDBPath     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blockduel",
	Short: "blockduel - 1v1 falling-block match server",
	Long: `blockduel pairs players into head-to-head falling-block matches over
WebSocket, relays their fields and garbage lines, and records results.

Available commands:
  serve        - Start the match server
  leaderboard  - Show the leaderboard
  history      - Show a player's recent matches
  config       - Print the default configuration

Examples:
  blockduel serve
  blockduel serve --config ./server.yaml
  blockduel leaderboard --limit 20
  blockduel history alice`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Path to match database (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves configuration from file, .env, environment and flags,
// in increasing precedence.
func loadConfig() (config.ServerConfig, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return cfg, err
	}
	if err := config.LoadDotEnv(); err != nil {
		return cfg, err
	}
	config.ApplyEnv(&cfg, os.Getenv)
	if flagDBPath != "" {
		cfg.Storage.Path = flagDBPath
		cfg.Storage.Enabled = true
	}
	return cfg, cfg.Validate()
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration",
	Long: `Print the embedded default configuration as YAML.

Save it to ~/.blockduel/config.yaml or ./configs/server.yaml and edit the
keys you want to change. Keys left out keep their defaults.`,
	Run: func(_ *cobra.Command, _ []string) {
		os.Stdout.Write(config.DefaultYAML())
	},
}
