package room

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyQueued is returned when a connection is enqueued twice.
var ErrAlreadyQueued = errors.New("already queued")

// MatchResult is a pairing produced by the matchmaker.
type MatchResult struct {
	Room    *Room
	Player1 *Player
	Player2 *Player
}

// Matchmaker is a strict FIFO pairing queue.
type Matchmaker struct {
	rooms *Manager

	mu    sync.Mutex
	queue []*Player
}

// NewMatchmaker creates a matchmaker that materializes rooms through m.
func NewMatchmaker(m *Manager) *Matchmaker {
	return &Matchmaker{rooms: m}
}

// Enqueue appends the player and pairs the two oldest entries once two are
// waiting. Returns nil when the player is left waiting.
func (mm *Matchmaker) Enqueue(p *Player) (*MatchResult, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, q := range mm.queue {
		if q.ConnectionID == p.ConnectionID {
			return nil, fmt.Errorf("enqueue %s: %w", p.ConnectionID, ErrAlreadyQueued)
		}
	}
	mm.queue = append(mm.queue, p)
	if len(mm.queue) < 2 {
		return nil, nil
	}

	first, second := mm.queue[0], mm.queue[1]
	mm.queue[0], mm.queue[1] = nil, nil
	mm.queue = mm.queue[2:]

	r := mm.rooms.CreateRoom(first)
	if _, err := mm.rooms.JoinRoom(r.ID, second); err != nil {
		// Fresh room with one seat taken; only a bug gets here.
		mm.rooms.DeleteRoom(r.ID)
		return nil, fmt.Errorf("pair %s with %s: %w", first.ConnectionID, second.ConnectionID, err)
	}
	return &MatchResult{Room: r, Player1: first, Player2: second}, nil
}

// Dequeue removes a waiting connection. Returns false if it was not queued.
func (mm *Matchmaker) Dequeue(connectionID string) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for i, q := range mm.queue {
		if q.ConnectionID == connectionID {
			mm.queue = append(mm.queue[:i], mm.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the connection is waiting.
func (mm *Matchmaker) Contains(connectionID string) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, q := range mm.queue {
		if q.ConnectionID == connectionID {
			return true
		}
	}
	return false
}

// Len returns the number of waiting players.
func (mm *Matchmaker) Len() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.queue)
}
