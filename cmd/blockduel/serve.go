package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/blockduel/internal/broker"
	"github.com/vovakirdan/blockduel/internal/config"
	"github.com/vovakirdan/blockduel/internal/hub"
	"github.com/vovakirdan/blockduel/internal/identity"
	"github.com/vovakirdan/blockduel/internal/monitor"
	"github.com/vovakirdan/blockduel/internal/storage"
	"github.com/vovakirdan/blockduel/internal/transport"
)

var (
	flagAddr    string
	flagMonitor bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the match server",
	Long: `Start the HTTP server hosting the match hub.

Clients negotiate with POST <path>/negotiate and then open a WebSocket on
<path>?id=<connectionId>. Finished matches are stored in the sqlite database
and, when broker.url is set, published to NATS.

With --monitor (or monitor.enabled) an SSH dashboard shows live rooms and
the leaderboard:
  ssh localhost -p 23234

Examples:
  blockduel serve                        # Listen on :8080
  blockduel serve --addr :9000           # Listen on port 9000
  blockduel serve --db ./matches.db      # Use specific database
  blockduel serve --monitor              # Also start the SSH dashboard`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().BoolVar(&flagMonitor, "monitor", false, "Start the SSH dashboard")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitf("Error loading config: %v", err)
	}
	if flagAddr != "" {
		cfg.Server.Address = flagAddr
	}
	if flagMonitor {
		cfg.Monitor.Enabled = true
	}

	logger, err := config.NewLogger(cfg.Log, os.Stderr, "blockduel")
	if err != nil {
		exitf("Error creating logger: %v", err)
	}
	aiLevel, _ := cfg.AILevel() // checked by Validate

	deps := hub.Deps{Logger: logger}

	var store *storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			// Continue without storage
			logger.Warn("could not open match database", "path", cfg.Storage.Path, "error", err)
		} else {
			deps.Store = store
		}
	}

	var publisher broker.Publisher = broker.Nop{}
	if cfg.Broker.URL != "" {
		p, connErr := broker.Connect(broker.Config{
			URL:     cfg.Broker.URL,
			Subject: cfg.Broker.Subject,
			Name:    cfg.Broker.Name,
		}, logger)
		if connErr != nil {
			logger.Warn("match publishing disabled", "error", connErr)
		} else {
			publisher = p
			deps.Publisher = p
		}
	}

	identities := identity.NewStore()
	ts := transport.NewServer(transportConfig(cfg.Transport), authenticator(cfg.Auth), identities, logger)
	deps.Sender = ts
	deps.Identities = identities

	h := hub.New(hubConfig(cfg.Match, aiLevel), deps)
	ts.SetHandler(h)
	h.Start()
	ts.Start()

	mux := http.NewServeMux()
	mux.Handle(cfg.Transport.Path, ts)
	mux.Handle(cfg.Transport.Path+"/", ts)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %d\n", ts.ConnectionCount())
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting match server", "address", cfg.Server.Address, "path", cfg.Transport.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var dash *monitor.Server
	if cfg.Monitor.Enabled {
		dash, err = monitor.NewServer(monitor.Config{
			Address:         cfg.Monitor.Address,
			HostKeyPath:     cfg.Monitor.HostKeyPath,
			IdleTimeout:     cfg.Monitor.IdleTimeout,
			RefreshInterval: cfg.Monitor.RefreshInterval,
		}, h, logger)
		if err != nil {
			logger.Warn("SSH dashboard disabled", "error", err)
		} else {
			go func() {
				if err := dash.ListenAndServe(); err != nil {
					errCh <- fmt.Errorf("ssh dashboard: %w", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-errCh:
		logger.Error("server error", "error", err)
		exitCode = 1
	}

	shutdown(cfg.Server.ShutdownTimeout, logger, httpSrv, dash, ts, h, publisher, store)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// shutdown stops accepting work first, then drains the hub, then closes
// the sinks it writes to.
func shutdown(timeout time.Duration, logger *log.Logger, httpSrv *http.Server, dash *monitor.Server,
	ts *transport.Server, h *hub.Hub, publisher broker.Publisher, store *storage.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if dash != nil {
		if err := dash.Shutdown(ctx); err != nil {
			logger.Warn("ssh dashboard shutdown", "error", err)
		}
	}
	ts.Stop()
	h.Stop()
	publisher.Close()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("close match database", "error", err)
		}
	}
}

func transportConfig(s config.TransportSection) transport.Config {
	return transport.Config{
		Path:              s.Path,
		HeartbeatInterval: s.HeartbeatInterval,
		NegotiateTTL:      s.NegotiateTTL,
		WriteWait:         s.WriteWait,
		MaxMessageSize:    s.MaxMessageSize,
		SendBuffer:        s.SendBuffer,
		AllowedOrigins:    s.AllowedOrigins,
	}
}

func hubConfig(m config.MatchSection, aiLevel int) hub.Config {
	return hub.Config{
		Countdown:         m.Countdown,
		DisconnectTimeout: m.DisconnectTimeout,
		CodeAttempts:      m.CodeAttempts,
		LeaderboardSize:   m.LeaderboardSize,
		HistorySize:       m.HistorySize,
		QueueSize:         m.QueueSize,
		DefaultAILevel:    aiLevel,
	}
}

func authenticator(a config.AuthSection) identity.Authenticator {
	switch a.Mode {
	case config.AuthToken:
		return identity.NewTokenAuthenticator(a.Tokens)
	case config.AuthHeader:
		return identity.HeaderAuthenticator{Header: a.Header}
	default:
		return identity.Anonymous{}
	}
}
