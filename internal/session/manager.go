// Package session turns gameplay events into garbage, scores and match
// outcomes. The Manager is the single arbiter of how a match ends: whichever
// of game over, disconnect timeout or leave reaches it first wins, and every
// later report for the same match is ignored.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/blockduel/internal/identity"
	"github.com/vovakirdan/blockduel/internal/room"
)

// ErrRoomIncomplete is returned when a session is started without two players.
var ErrRoomIncomplete = errors.New("room must have 2 players")

// Reason records why the loser lost.
type Reason string

const (
	ReasonGameOver   Reason = "gameover"
	ReasonDisconnect Reason = "disconnect"
)

// Stats is the latest self-reported state of one participant.
type Stats struct {
	Score int `json:"score"`
	Lines int `json:"lines"`
	Level int `json:"level"`
}

// Result describes a resolved match.
type Result struct {
	RoomID         string
	Winner         string // connection id
	Loser          string // connection id
	WinnerIdentity identity.Identity
	LoserIdentity  identity.Identity
	Reason         Reason
	WinnerStats    Stats
	LoserStats     Stats
	StartedAt      time.Time
	EndedAt        time.Time
}

// Duration returns how long the match ran.
func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Notifier receives the manager's outbound side effects.
// Calls are made without the manager's lock held, so implementations may
// call back into the manager.
type Notifier interface {
	SendGarbage(to string, lines int)
	SendGameResult(result Result)
	SendOpponentDisconnected(to string, timeout time.Duration)
}

// Session is a snapshot of one room's match bookkeeping.
type Session struct {
	RoomID       string
	Seed         int64
	Participants [2]string
	Identities   [2]identity.Identity
	Stats        [2]Stats
	Cleared      [2]int // lines reported through LinesCleared
	Winner       string
	LoserReason  Reason
	StartedAt    time.Time
	EndedAt      time.Time
}

// Finished reports whether a winner has been recorded.
func (s *Session) Finished() bool {
	return s.Winner != ""
}

func (s *Session) index(connectionID string) int {
	for i, p := range s.Participants {
		if p == connectionID {
			return i
		}
	}
	return -1
}

// Config holds session timing.
type Config struct {
	DisconnectTimeout time.Duration // Grace period before an absent player forfeits
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DisconnectTimeout: 30 * time.Second,
	}
}

// Manager owns every live session and the per-room disconnect timers.
// Room status changes it performs assume the caller serializes access to
// each room, as the hub's event loop does.
type Manager struct {
	config    Config
	rooms     *room.Manager
	notifier  Notifier
	scheduler Scheduler
	logger    *log.Logger
	newSeed   func() int64
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session // roomID -> session
	timers   *timerRegistry
}

// NewManager creates a session manager.
// A nil scheduler falls back to RealScheduler and a nil logger to log.Default().
func NewManager(cfg Config, rooms *room.Manager, notifier Notifier, scheduler Scheduler, logger *log.Logger) *Manager {
	if scheduler == nil {
		scheduler = RealScheduler{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = DefaultConfig().DisconnectTimeout
	}
	return &Manager{
		config:    cfg,
		rooms:     rooms,
		notifier:  notifier,
		scheduler: scheduler,
		logger:    logger,
		newSeed:   randomSeed,
		now:       time.Now,
		sessions:  make(map[string]*Session),
		timers:    newTimerRegistry(),
	}
}

// DisconnectTimeout returns the configured forfeit grace period.
func (m *Manager) DisconnectTimeout() time.Duration {
	return m.config.DisconnectTimeout
}

// StartSession drives a full room through Ready -> Playing with a fresh seed
// and opens its session record.
func (m *Manager) StartSession(r *room.Room) (int64, error) {
	if !r.IsFull() {
		return 0, fmt.Errorf("start %s: %w", r.ID, ErrRoomIncomplete)
	}

	seed := m.newSeed()
	if err := r.TransitionToReady(); err != nil {
		return 0, fmt.Errorf("start %s: %w", r.ID, err)
	}
	if err := r.TransitionToPlaying(seed); err != nil {
		return 0, fmt.Errorf("start %s: %w", r.ID, err)
	}

	s := &Session{
		RoomID:       r.ID,
		Seed:         seed,
		Participants: [2]string{r.Player1.ConnectionID, r.Player2.ConnectionID},
		Identities:   [2]identity.Identity{r.Player1.Identity, r.Player2.Identity},
		StartedAt:    m.now(),
	}

	m.mu.Lock()
	m.timers.Cancel(r.ID)
	m.sessions[r.ID] = s
	m.mu.Unlock()

	m.logger.Debug("session started", "room", r.ID, "seed", seed)
	return seed, nil
}

// HandleLinesCleared converts a line clear into garbage for the opponent.
func (m *Manager) HandleLinesCleared(roomID, connectionID string, count int) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	if !ok || s.Finished() {
		m.mu.Unlock()
		return
	}
	i := s.index(connectionID)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	s.Cleared[i] += min(max(count, 0), MaxLinesPerClear)
	garbage := GarbageFor(count)
	m.mu.Unlock()

	if garbage == 0 {
		return
	}
	r, ok := m.rooms.GetRoom(roomID)
	if !ok {
		return
	}
	if opp := r.Opponent(connectionID); opp != nil {
		m.notifier.SendGarbage(opp.ConnectionID, garbage)
	}
}

// UpdateStats overwrites the latest reported stats for a participant.
func (m *Manager) UpdateStats(roomID, connectionID string, stats Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[roomID]
	if !ok || s.Finished() {
		return
	}
	if i := s.index(connectionID); i >= 0 {
		s.Stats[i] = stats
	}
}

// HandleGameOver resolves the match with loserID losing by game over.
// Reports after the match is already resolved are ignored.
func (m *Manager) HandleGameOver(roomID, loserID string) {
	m.resolve(roomID, loserID, ReasonGameOver)
}

// Forfeit resolves the match against a player who left mid-match.
func (m *Manager) Forfeit(roomID, loserID string) {
	m.resolve(roomID, loserID, ReasonDisconnect)
}

func (m *Manager) resolve(roomID, loserID string, reason Reason) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	if !ok || s.Finished() {
		m.mu.Unlock()
		return
	}
	r, ok := m.rooms.GetRoom(roomID)
	if !ok {
		m.mu.Unlock()
		return
	}
	loser := s.index(loserID)
	if loser < 0 {
		m.mu.Unlock()
		return
	}
	winner := 1 - loser

	s.Winner = s.Participants[winner]
	s.LoserReason = reason
	s.EndedAt = m.now()
	m.timers.Cancel(roomID)

	if err := r.TransitionToFinished(); err != nil {
		m.logger.Error("finish room", "room", roomID, "err", err)
	}

	result := Result{
		RoomID:         roomID,
		Winner:         s.Participants[winner],
		Loser:          s.Participants[loser],
		WinnerIdentity: s.Identities[winner],
		LoserIdentity:  s.Identities[loser],
		Reason:         reason,
		WinnerStats:    s.Stats[winner],
		LoserStats:     s.Stats[loser],
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
	}
	m.mu.Unlock()

	m.logger.Info("match resolved", "room", roomID, "winner", result.WinnerIdentity, "loser", result.LoserIdentity, "reason", reason)
	m.notifier.SendGameResult(result)
}

// HandleDisconnect tells the opponent a timeout is pending and arms the
// room's forfeit timer, replacing any earlier one.
func (m *Manager) HandleDisconnect(roomID, connectionID string) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	if !ok || s.Finished() {
		m.mu.Unlock()
		return
	}
	r, ok := m.rooms.GetRoom(roomID)
	if !ok {
		m.mu.Unlock()
		return
	}

	timeout := m.config.DisconnectTimeout
	gen := m.timers.next()
	t := m.scheduler.AfterFunc(timeout, func() {
		m.handleDisconnectTimeout(roomID, connectionID, gen)
	})
	m.timers.Replace(roomID, gen, t)

	var opponent string
	if opp := r.Opponent(connectionID); opp != nil {
		opponent = opp.ConnectionID
	}
	m.mu.Unlock()

	m.logger.Info("player disconnected mid-match", "room", roomID, "conn", connectionID, "timeout", timeout)
	if opponent != "" {
		m.notifier.SendOpponentDisconnected(opponent, timeout)
	}
}

// handleDisconnectTimeout forfeits the absent player if nothing changed
// since the timer was armed. Panics are contained to this room.
func (m *Manager) handleDisconnectTimeout(roomID, connectionID string, gen uint64) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("disconnect timeout panicked", "room", roomID, "conn", connectionID, "panic", rec)
		}
	}()

	m.mu.Lock()
	live := m.timers.Claim(roomID, gen)
	m.mu.Unlock()
	if !live {
		return
	}

	r, ok := m.rooms.GetRoom(roomID)
	if !ok {
		return
	}
	if p := r.PlayerByConnectionID(connectionID); p == nil || p.Connected {
		return
	}
	m.resolve(roomID, connectionID, ReasonDisconnect)
}

// HandleReconnect cancels the room's pending forfeit.
func (m *Manager) HandleReconnect(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers.Cancel(roomID)
}

// Rebind follows a participant to a new connection id.
func (m *Manager) Rebind(roomID, oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[roomID]
	if !ok {
		return
	}
	if i := s.index(oldID); i >= 0 {
		s.Participants[i] = newID
		if s.Winner == oldID {
			s.Winner = newID
		}
	}
}

// EndSession cancels the room's timer and drops its session. Safe to call
// for rooms without a session.
func (m *Manager) EndSession(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers.Cancel(roomID)
	delete(m.sessions, roomID)
}

// Session returns a copy of the room's session.
func (m *Manager) Session(roomID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// HasPendingTimeout reports whether a forfeit timer is armed for the room.
func (m *Manager) HasPendingTimeout(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers.Has(roomID)
}

// ActiveCount returns the number of unresolved sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.Finished() {
			n++
		}
	}
	return n
}

// randomSeed returns a non-negative 31-bit seed from crypto/rand.
func randomSeed() int64 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano() & 0x7fffffff
	}
	return int64(binary.BigEndian.Uint32(b[:]) & 0x7fffffff)
}
