// Package hub is the protocol adapter between the wire transport and the
// match domain. Every connection event, invocation, timer firing and AI move
// is posted to a single event loop, so room and session state are only ever
// mutated by one goroutine.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/blockduel/internal/ai"
	"github.com/vovakirdan/blockduel/internal/identity"
	"github.com/vovakirdan/blockduel/internal/room"
	"github.com/vovakirdan/blockduel/internal/session"
	"github.com/vovakirdan/blockduel/internal/storage"
)

// Sender delivers server-pushed invocations. Implementations drop sends to
// connections that are gone.
type Sender interface {
	Send(connectionID, target string, args ...any)
	CloseConnection(connectionID string)
}

// Identities resolves the identity behind a connection.
type Identities interface {
	Lookup(connectionID string) (identity.Identity, bool)
}

// ResultStore persists finished matches and serves the leaderboard.
type ResultStore interface {
	SaveMatch(m storage.MatchRecord) (int64, error)
	Leaderboard(limit int) ([]storage.LeaderboardEntry, error)
	PlayerMatchHistory(player string, limit int) ([]storage.MatchRecord, error)
}

// Publisher fans finished matches out to other services.
type Publisher interface {
	PublishMatch(m storage.MatchRecord) error
}

// Config holds hub settings.
type Config struct {
	Countdown         time.Duration // Delay between BothReady and play
	DisconnectTimeout time.Duration // Forfeit grace period
	CodeAttempts      int           // Room code collision retries
	LeaderboardSize   int
	HistorySize       int
	QueueSize         int // Event loop backlog
	DefaultAILevel    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Countdown:         3 * time.Second,
		DisconnectTimeout: 30 * time.Second,
		CodeAttempts:      room.DefaultCodeAttempts,
		LeaderboardSize:   10,
		HistorySize:       20,
		QueueSize:         1024,
		DefaultAILevel:    3,
	}
}

// Deps are the hub's collaborators. Store and Publisher are optional.
type Deps struct {
	Sender     Sender
	Identities Identities
	Store      ResultStore
	Publisher  Publisher
	Scheduler  session.Scheduler
	Logger     *log.Logger
}

type botEntry struct {
	bot *ai.Bot
	gen uint64
}

// Hub owns all rooms, sessions and subscriptions for one server instance.
type Hub struct {
	cfg        Config
	sender     Sender
	identities Identities
	store      ResultStore
	publisher  Publisher
	scheduler  session.Scheduler
	logger     *log.Logger

	rooms      *room.Manager
	matchmaker *room.Matchmaker
	sessions   *session.Manager

	// Loop-owned state.
	bots            map[string]botEntry // roomID -> bot
	botGen          uint64
	roomListSubs    *subscriberSet
	leaderboardSubs *subscriberSet

	events   chan func()
	done     chan struct{}
	loopDone chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup // Off-loop persistence and queries
}

// New creates a hub. Call Start before feeding it events.
func New(cfg Config, deps Deps) *Hub {
	def := DefaultConfig()
	if cfg.Countdown < 0 {
		cfg.Countdown = 0
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = def.LeaderboardSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DefaultAILevel == 0 {
		cfg.DefaultAILevel = def.DefaultAILevel
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	inner := deps.Scheduler
	if inner == nil {
		inner = session.RealScheduler{}
	}

	h := &Hub{
		cfg:             cfg,
		sender:          deps.Sender,
		identities:      deps.Identities,
		store:           deps.Store,
		publisher:       deps.Publisher,
		logger:          logger.WithPrefix("hub"),
		bots:            make(map[string]botEntry),
		roomListSubs:    newSubscriberSet(),
		leaderboardSubs: newSubscriberSet(),
		events:          make(chan func(), cfg.QueueSize),
		done:            make(chan struct{}),
		loopDone:        make(chan struct{}),
	}
	h.scheduler = loopScheduler{inner: inner, hub: h}
	h.rooms = room.NewManager(cfg.CodeAttempts)
	h.matchmaker = room.NewMatchmaker(h.rooms)
	h.sessions = session.NewManager(
		session.Config{DisconnectTimeout: cfg.DisconnectTimeout},
		h.rooms,
		h,
		h.scheduler,
		logger.WithPrefix("session"),
	)
	return h
}

// Start runs the event loop.
func (h *Hub) Start() {
	if h.running.CompareAndSwap(false, true) {
		go h.loop()
	}
}

// Stop halts every bot and the loop, then waits for in-flight persistence.
func (h *Hub) Stop() {
	if !h.running.Load() {
		return
	}
	_ = h.do(context.Background(), func() {
		for id, e := range h.bots {
			e.bot.Stop()
			delete(h.bots, id)
		}
	})
	h.stopOnce.Do(func() {
		close(h.done)
	})
	<-h.loopDone
	h.wg.Wait()
}

func (h *Hub) loop() {
	defer close(h.loopDone)
	for {
		select {
		case fn := <-h.events:
			h.safely(fn)
		case <-h.done:
			return
		}
	}
}

// safely runs one loop event. A panic is logged and contained so other
// rooms keep running.
func (h *Hub) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("event panicked", "panic", rec)
		}
	}()
	fn()
}

// post queues fn on the loop. Dropped once the hub is stopped.
func (h *Hub) post(fn func()) {
	select {
	case h.events <- fn:
	case <-h.done:
	}
}

// do runs fn on the loop and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.events <- wrapped:
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goOffLoop runs blocking work (database, broker) outside the loop.
func (h *Hub) goOffLoop(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("background task panicked", "panic", rec)
			}
		}()
		fn()
	}()
}

// OnConnected implements transport.Handler.
func (h *Hub) OnConnected(connectionID string) {
	h.post(func() { h.handleConnected(connectionID) })
}

// OnDisconnected implements transport.Handler.
func (h *Hub) OnDisconnected(connectionID string) {
	h.post(func() { h.handleDisconnected(connectionID) })
}

// OnInvocation implements transport.Handler.
func (h *Hub) OnInvocation(connectionID, target string, args []json.RawMessage) {
	h.post(func() { h.dispatch(connectionID, target, args) })
}

// loopScheduler hands fired callbacks back to the hub loop.
type loopScheduler struct {
	inner session.Scheduler
	hub   *Hub
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) session.Timer {
	return s.inner.AfterFunc(d, func() { s.hub.post(f) })
}

// Snapshot is a point-in-time view for operators.
type Snapshot struct {
	Rooms                  []room.RoomSummary
	QueueLength            int
	ActiveSessions         int
	Bots                   int
	RoomListSubscribers    int
	LeaderboardSubscribers int
	TakenAt                time.Time
}

// Snapshot collects current state through the loop.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := h.do(ctx, func() {
		snap = Snapshot{
			Rooms:                  h.rooms.Rooms(),
			QueueLength:            h.matchmaker.Len(),
			ActiveSessions:         h.sessions.ActiveCount(),
			Bots:                   len(h.bots),
			RoomListSubscribers:    h.roomListSubs.Len(),
			LeaderboardSubscribers: h.leaderboardSubs.Len(),
			TakenAt:                time.Now(),
		}
	})
	return snap, err
}

// Leaderboard reads the current leaderboard from the store.
func (h *Hub) Leaderboard() ([]storage.LeaderboardEntry, error) {
	if h.store == nil {
		return nil, nil
	}
	return h.store.Leaderboard(h.cfg.LeaderboardSize)
}
