// Package ai provides the in-process computer opponent that occupies an AI
// seat. It does not play the real game: it models a stack height driven by a
// seeded random source so it emits the same three events a human client
// would (lines cleared, field snapshot, game over) at a pace set by its level.
package ai

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// FieldWidth and FieldHeight match the client playfield.
	FieldWidth  = 10
	FieldHeight = 20

	MinLevel = 1
	MaxLevel = 5
)

// Field is the snapshot the bot reports after each move.
// It mirrors what human clients send through UpdateField.
type Field struct {
	Grid  [][]int `json:"grid"`
	Score int     `json:"score"`
	Lines int     `json:"lines"`
	Level int     `json:"level"`
}

// Sink receives the bot's gameplay events.
type Sink interface {
	BotLinesCleared(roomID, connectionID string, count int)
	BotFieldUpdate(roomID, connectionID string, field Field)
	BotGameOver(roomID, connectionID string)
}

// profile is the per-level behaviour.
type profile struct {
	interval time.Duration // Time between moves
	clearPct int           // Chance in percent that a move clears lines
	weights  [4]int        // Relative odds of clearing 1..4 lines
}

var profiles = [MaxLevel + 1]profile{
	1: {interval: 1400 * time.Millisecond, clearPct: 30, weights: [4]int{70, 25, 5, 0}},
	2: {interval: 1100 * time.Millisecond, clearPct: 38, weights: [4]int{55, 30, 12, 3}},
	3: {interval: 850 * time.Millisecond, clearPct: 45, weights: [4]int{45, 30, 17, 8}},
	4: {interval: 650 * time.Millisecond, clearPct: 52, weights: [4]int{35, 30, 20, 15}},
	5: {interval: 450 * time.Millisecond, clearPct: 60, weights: [4]int{25, 25, 25, 25}},
}

// ClampLevel forces a requested difficulty into the supported range.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Config identifies a bot and its match.
type Config struct {
	RoomID       string
	ConnectionID string
	Level        int
	Seed         int64
}

// Bot is a seeded stand-in opponent.
// Thread-safe: Step may run on the bot's ticker while garbage arrives from the hub.
type Bot struct {
	cfg     Config
	profile profile
	sink    Sink

	mu      sync.Mutex
	rng     *rand.Rand
	height  int // Filled rows, 0..FieldHeight
	holes   []int
	score   int
	lines   int
	pending int // Garbage waiting to be applied on the next move
	over    bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a bot. The same seed always produces the same event sequence
// for the same garbage input.
func New(cfg Config, sink Sink) *Bot {
	cfg.Level = ClampLevel(cfg.Level)
	return &Bot{
		cfg:     cfg,
		profile: profiles[cfg.Level],
		sink:    sink,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		done:    make(chan struct{}),
	}
}

// ConnectionID returns the synthetic connection id of the seat.
func (b *Bot) ConnectionID() string { return b.cfg.ConnectionID }

// RoomID returns the bot's room.
func (b *Bot) RoomID() string { return b.cfg.RoomID }

// Level returns the clamped difficulty.
func (b *Bot) Level() int { return b.cfg.Level }

// Interval returns the time between moves.
func (b *Bot) Interval() time.Duration { return b.profile.interval }

// Start begins playing on a ticker. Calling Start more than once is a no-op.
func (b *Bot) Start() {
	b.startOnce.Do(func() {
		go b.run()
	})
}

// Stop halts the bot. Safe to call multiple times and before Start.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

func (b *Bot) run() {
	ticker := time.NewTicker(b.profile.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !b.Step() {
				return
			}
		case <-b.done:
			return
		}
	}
}

// ReceiveGarbage queues garbage rows from the opponent.
func (b *Bot) ReceiveGarbage(lines int) {
	if lines <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending += lines
}

// Step plays one move and emits its events. Returns false once the bot has
// topped out or been stopped.
func (b *Bot) Step() bool {
	select {
	case <-b.done:
		return false
	default:
	}

	b.mu.Lock()
	if b.over {
		b.mu.Unlock()
		return false
	}

	// Garbage lands first, then the piece.
	for ; b.pending > 0; b.pending-- {
		b.holes = append(b.holes, b.rng.Intn(FieldWidth))
		b.height++
	}
	b.height++
	b.holes = append(b.holes, b.rng.Intn(FieldWidth))

	cleared := 0
	if b.rng.Intn(100) < b.profile.clearPct {
		cleared = b.pickClear()
		if cleared > b.height {
			cleared = b.height
		}
		b.height -= cleared
		b.holes = b.holes[:len(b.holes)-cleared]
		b.lines += cleared
		b.score += clearScore(cleared, b.cfg.Level)
	}

	over := b.height >= FieldHeight
	b.over = over
	field := b.fieldLocked()
	b.mu.Unlock()

	if cleared > 0 {
		b.sink.BotLinesCleared(b.cfg.RoomID, b.cfg.ConnectionID, cleared)
	}
	b.sink.BotFieldUpdate(b.cfg.RoomID, b.cfg.ConnectionID, field)
	if over {
		b.sink.BotGameOver(b.cfg.RoomID, b.cfg.ConnectionID)
		return false
	}
	return true
}

// Height returns the current stack height.
func (b *Bot) Height() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

func (b *Bot) pickClear() int {
	total := 0
	for _, w := range b.profile.weights {
		total += w
	}
	n := b.rng.Intn(total)
	for i, w := range b.profile.weights {
		if n < w {
			return i + 1
		}
		n -= w
	}
	return 1
}

// fieldLocked renders the stack bottom-up with one hole per row.
func (b *Bot) fieldLocked() Field {
	grid := make([][]int, FieldHeight)
	for y := range grid {
		grid[y] = make([]int, FieldWidth)
	}
	for row := 0; row < b.height && row < FieldHeight; row++ {
		y := FieldHeight - 1 - row
		hole := -1
		if row < len(b.holes) {
			hole = b.holes[row]
		}
		for x := 0; x < FieldWidth; x++ {
			if x != hole {
				grid[y][x] = 8
			}
		}
	}
	return Field{Grid: grid, Score: b.score, Lines: b.lines, Level: b.cfg.Level}
}

// clearScore uses the classic line-clear scoring scaled by level.
func clearScore(lines, level int) int {
	base := [...]int{0, 100, 300, 500, 800}
	if lines < 0 || lines >= len(base) {
		return 0
	}
	return base[lines] * level
}
