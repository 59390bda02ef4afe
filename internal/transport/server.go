// Package transport implements the JSON-over-WebSocket hub protocol:
// HTTP negotiation that assigns connection ids, the websocket upgrade,
// record-separator framing, the handshake, and application-level heartbeats.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vovakirdan/blockduel/internal/identity"
)

// Handler receives connection lifecycle events and invocations.
// OnConnected always precedes OnDisconnected for the same connection, and
// OnDisconnected is delivered exactly once.
type Handler interface {
	OnConnected(connectionID string)
	OnDisconnected(connectionID string)
	OnInvocation(connectionID, target string, args []json.RawMessage)
}

// Config holds transport settings.
type Config struct {
	Path              string        // Hub endpoint, e.g. "/hub"
	HeartbeatInterval time.Duration // Sweep period for dead-peer detection
	NegotiateTTL      time.Duration // How long a negotiated id may wait for its upgrade
	WriteWait         time.Duration // Deadline for a single websocket write
	MaxMessageSize    int64         // Largest accepted inbound websocket message
	SendBuffer        int           // Outbound frames queued per connection
	AllowedOrigins    []string      // Empty allows any origin
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:              "/hub",
		HeartbeatInterval: 15 * time.Second,
		NegotiateTTL:      30 * time.Second,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    64 * 1024,
		SendBuffer:        256,
	}
}

const errHeartbeatTimeout = "Server timeout elapsed without receiving a message from the client."

type negotiation struct {
	identity identity.Identity
	expires  time.Time
}

type negotiateResponse struct {
	NegotiateVersion    int                  `json:"negotiateVersion"`
	ConnectionID        string               `json:"connectionId"`
	AvailableTransports []availableTransport `json:"availableTransports"`
}

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// Server accepts hub connections and routes frames to a Handler.
type Server struct {
	cfg        Config
	auth       identity.Authenticator
	identities *identity.Store
	logger     *log.Logger
	upgrader   websocket.Upgrader

	handlerMu sync.RWMutex
	h         Handler

	mu      sync.RWMutex
	conns   map[string]*Conn
	pending map[string]negotiation

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a transport server. Call SetHandler before serving.
func NewServer(cfg Config, auth identity.Authenticator, identities *identity.Store, logger *log.Logger) *Server {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.NegotiateTTL <= 0 {
		cfg.NegotiateTTL = def.NegotiateTTL
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if auth == nil {
		auth = identity.Anonymous{}
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:        cfg,
		auth:       auth,
		identities: identities,
		logger:     logger.WithPrefix("transport"),
		conns:      make(map[string]*Conn),
		pending:    make(map[string]negotiation),
		done:       make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetHandler installs the receiver of connection events.
func (s *Server) SetHandler(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.h = h
}

func (s *Server) handler() Handler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	if s.h == nil {
		return nopHandler{}
	}
	return s.h
}

// Start begins the heartbeat sweep.
func (s *Server) Start() {
	go s.heartbeatLoop()
}

// Stop ends the heartbeat and closes every connection.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

// ServeHTTP routes negotiation and upgrade requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimRight(r.URL.Path, "/")
	switch {
	case path == s.cfg.Path+"/negotiate":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.negotiate(w, r)
	case path == s.cfg.Path:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.upgrade(w, r)
	default:
		http.NotFound(w, r)
	}
}

// negotiate assigns a connection id. An unresolved identity is not an
// error; the connection stays anonymous.
func (s *Server) negotiate(w http.ResponseWriter, r *http.Request) {
	who, _ := s.auth.Authenticate(r)
	id := uuid.NewString()

	s.mu.Lock()
	s.pending[id] = negotiation{identity: who, expires: time.Now().Add(s.cfg.NegotiateTTL)}
	s.mu.Unlock()

	resp := negotiateResponse{
		NegotiateVersion: 0,
		ConnectionID:     id,
		AvailableTransports: []availableTransport{
			{Transport: "WebSockets", TransferFormats: []string{"Text"}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write negotiate response", "err", err)
	}
	s.logger.Debug("negotiated", "conn", id, "identity", who)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	s.mu.Lock()
	n, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if !ok || time.Now().After(n.expires) {
		http.Error(w, "unknown or expired connection id", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("upgrade failed", "conn", id, "err", err)
		return
	}

	c := newConn(id, n.identity, ws, s)
	if s.identities != nil {
		s.identities.Bind(id, n.identity)
	}

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	s.logger.Info("connected", "conn", id, "identity", n.identity, "remote", r.RemoteAddr)

	go c.writePump()
	s.handler().OnConnected(id)
	go c.readPump()
}

// unregister is called once per connection by its read pump.
func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	s.handler().OnDisconnected(c.id)
	if s.identities != nil {
		s.identities.Remove(c.id)
	}
	s.logger.Info("disconnected", "conn", c.id)
}

// Send pushes an invocation to one connection. Sends to unknown or closed
// connections are dropped. A connection whose buffer is full is closed.
func (s *Server) Send(connectionID, target string, args ...any) {
	s.mu.RLock()
	c, ok := s.conns[connectionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	frame, err := EncodeInvocation(target, args...)
	if err != nil {
		s.logger.Error("encode invocation", "target", target, "err", err)
		return
	}
	if !c.enqueue(frame) {
		s.logger.Debug("dropped send", "conn", connectionID, "target", target)
	}
}

// CloseConnection forcibly closes one connection.
func (s *Server) CloseConnection(connectionID string) {
	s.mu.RLock()
	c, ok := s.conns[connectionID]
	s.mu.RUnlock()
	if ok {
		c.Close()
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// IsConnected reports whether the connection is open.
func (s *Server) IsConnected(connectionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[connectionID]
	return ok
}

func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.done:
			return
		}
	}
}

// sweep closes every connection that stayed silent for a whole interval,
// then marks the rest unproven and pings them. Expired negotiations are
// dropped on the same pass.
func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	for id, n := range s.pending {
		if now.After(n.expires) {
			delete(s.pending, id)
		}
	}
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if !c.alive.Swap(false) {
			s.logger.Info("closing unresponsive connection", "conn", c.id)
			c.closeWith(closeFrame(errHeartbeatTimeout))
			continue
		}
		c.enqueue(pingFrame)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

type nopHandler struct{}

func (nopHandler) OnConnected(string) {}

func (nopHandler) OnDisconnected(string) {}

func (nopHandler) OnInvocation(string, string, []json.RawMessage) {}
