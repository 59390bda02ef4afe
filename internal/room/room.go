// Package room implements the 1v1 room lifecycle: the Room entity and its
// status state machine, the RoomManager that owns every room and the
// connection -> room reverse index, and the FIFO matchmaking queue.
package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/blockduel/internal/identity"
)

var (
	// ErrRoomNotFound is returned when a room code does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when both slots are already occupied.
	ErrRoomFull = errors.New("room is full")
	// ErrNotInRoom is returned when a connection is not seated in the room.
	ErrNotInRoom = errors.New("not in room")
	// ErrInvalidTransition is returned for any status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid room transition")
)

// Status is the lifecycle state of a room.
//
//	Waiting -> Ready -> Playing -> Finished
//	   ^                              |
//	   +-------- mutual rematch ------+
type Status int

const (
	StatusWaiting  Status = iota // Fewer than two ready players
	StatusReady                  // Both players ready, session starting
	StatusPlaying                // Match in progress
	StatusFinished               // Winner recorded, rematch possible
)

// String returns a wire-friendly name for the status.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusReady:
		return "ready"
	case StatusPlaying:
		return "playing"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Seat is the kind of participant occupying a slot.
// Resolved once when the player joins so downstream code branches on the
// variant instead of inspecting connection ids.
type Seat int

const (
	SeatHuman Seat = iota // Remote connection over the wire transport
	SeatAI                // In-process computer opponent
)

// String returns a human-readable name for the seat.
func (s Seat) String() string {
	if s == SeatAI {
		return "ai"
	}
	return "human"
}

// Player occupies one slot of a room.
type Player struct {
	ConnectionID string
	Identity     identity.Identity
	Seat         Seat
	Ready        bool
	Connected    bool
}

// NewHuman creates a connected human player.
func NewHuman(connectionID string, id identity.Identity) *Player {
	return &Player{
		ConnectionID: connectionID,
		Identity:     id,
		Seat:         SeatHuman,
		Connected:    true,
	}
}

// NewAI creates an AI seat. AI seats are always connected and ready.
func NewAI(connectionID string, id identity.Identity) *Player {
	return &Player{
		ConnectionID: connectionID,
		Identity:     id,
		Seat:         SeatAI,
		Ready:        true,
		Connected:    true,
	}
}

// IsAI reports whether the player is an in-process AI seat.
func (p *Player) IsAI() bool {
	return p != nil && p.Seat == SeatAI
}

// Room pairs up to two players with shared match state.
// Not safe for concurrent use; callers serialize access per room.
type Room struct {
	ID        string
	Player1   *Player
	Player2   *Player
	Status    Status
	Seed      *int64
	CreatedAt time.Time

	rematchVotes map[string]struct{}
}

// NewRoom creates an empty waiting room.
func NewRoom(id string) *Room {
	return &Room{
		ID:           id,
		Status:       StatusWaiting,
		CreatedAt:    time.Now(),
		rematchVotes: make(map[string]struct{}),
	}
}

// Join seats a player in the first empty slot.
// Player1 is filled first so a vacated host slot is reused.
func (r *Room) Join(p *Player) error {
	switch {
	case r.Player1 == nil:
		r.Player1 = p
	case r.Player2 == nil:
		r.Player2 = p
	default:
		return fmt.Errorf("join %s: %w", r.ID, ErrRoomFull)
	}
	return nil
}

// Leave vacates the slot held by the connection.
func (r *Room) Leave(connectionID string) (*Player, error) {
	switch {
	case r.Player1 != nil && r.Player1.ConnectionID == connectionID:
		p := r.Player1
		r.Player1 = nil
		return p, nil
	case r.Player2 != nil && r.Player2.ConnectionID == connectionID:
		p := r.Player2
		r.Player2 = nil
		return p, nil
	}
	return nil, ErrNotInRoom
}

// Players returns the occupied slots in slot order.
func (r *Room) Players() []*Player {
	players := make([]*Player, 0, 2)
	if r.Player1 != nil {
		players = append(players, r.Player1)
	}
	if r.Player2 != nil {
		players = append(players, r.Player2)
	}
	return players
}

// PlayerCount returns the number of occupied slots.
func (r *Room) PlayerCount() int {
	return len(r.Players())
}

// IsFull reports whether both slots are occupied.
func (r *Room) IsFull() bool {
	return r.Player1 != nil && r.Player2 != nil
}

// PlayerByConnectionID returns the player holding the connection, or nil.
func (r *Room) PlayerByConnectionID(connectionID string) *Player {
	for _, p := range r.Players() {
		if p.ConnectionID == connectionID {
			return p
		}
	}
	return nil
}

// PlayerByIdentity returns the human player with the given identity, or nil.
func (r *Room) PlayerByIdentity(id identity.Identity) *Player {
	if id == "" {
		return nil
	}
	for _, p := range r.Players() {
		if !p.IsAI() && p.Identity == id {
			return p
		}
	}
	return nil
}

// Opponent returns the other occupied slot, or nil.
func (r *Room) Opponent(connectionID string) *Player {
	switch {
	case r.Player1 != nil && r.Player1.ConnectionID == connectionID:
		return r.Player2
	case r.Player2 != nil && r.Player2.ConnectionID == connectionID:
		return r.Player1
	}
	return nil
}

// HasAI reports whether either slot is an AI seat.
func (r *Room) HasAI() bool {
	return r.Player1.IsAI() || r.Player2.IsAI()
}

// SetReady marks the player ready.
func (r *Room) SetReady(connectionID string) error {
	p := r.PlayerByConnectionID(connectionID)
	if p == nil {
		return ErrNotInRoom
	}
	p.Ready = true
	return nil
}

// BothReady reports whether both slots are occupied and ready.
func (r *Room) BothReady() bool {
	return r.IsFull() && r.Player1.Ready && r.Player2.Ready
}

// TransitionToReady moves Waiting -> Ready.
func (r *Room) TransitionToReady() error {
	return r.transition(StatusWaiting, StatusReady)
}

// TransitionToPlaying moves Ready -> Playing and records the shared seed.
func (r *Room) TransitionToPlaying(seed int64) error {
	if err := r.transition(StatusReady, StatusPlaying); err != nil {
		return err
	}
	r.Seed = &seed
	return nil
}

// TransitionToFinished moves Playing -> Finished.
func (r *Room) TransitionToFinished() error {
	return r.transition(StatusPlaying, StatusFinished)
}

// transition is the single gate for status changes.
// Only the one legal predecessor is accepted.
func (r *Room) transition(from, to Status) error {
	if r.Status != from {
		return fmt.Errorf("%w: %s -> %s in room %s", ErrInvalidTransition, r.Status, to, r.ID)
	}
	r.Status = to
	return nil
}

// RequestRematch records a rematch vote. Voting twice is a no-op.
func (r *Room) RequestRematch(connectionID string) error {
	if r.Status != StatusFinished {
		return fmt.Errorf("%w: rematch vote while %s", ErrInvalidTransition, r.Status)
	}
	if r.PlayerByConnectionID(connectionID) == nil {
		return ErrNotInRoom
	}
	r.rematchVotes[connectionID] = struct{}{}
	return nil
}

// RematchVotes returns the number of distinct rematch votes.
func (r *Room) RematchVotes() int {
	return len(r.rematchVotes)
}

// BothRequestedRematch reports whether every seated player has voted.
func (r *Room) BothRequestedRematch() bool {
	if !r.IsFull() {
		return false
	}
	_, v1 := r.rematchVotes[r.Player1.ConnectionID]
	_, v2 := r.rematchVotes[r.Player2.ConnectionID]
	return v1 && v2
}

// ResetForRematch returns a finished room to Waiting with a clean slate.
// Callers must end the previous session first and immediately start a new one.
func (r *Room) ResetForRematch() error {
	if err := r.transition(StatusFinished, StatusWaiting); err != nil {
		return err
	}
	r.Seed = nil
	r.rematchVotes = make(map[string]struct{})
	for _, p := range r.Players() {
		p.Ready = false
	}
	return nil
}

// rebind swaps the connection id of a seated player.
func (r *Room) rebind(oldID, newID string) error {
	p := r.PlayerByConnectionID(oldID)
	if p == nil {
		return ErrNotInRoom
	}
	p.ConnectionID = newID
	if _, voted := r.rematchVotes[oldID]; voted {
		delete(r.rematchVotes, oldID)
		r.rematchVotes[newID] = struct{}{}
	}
	return nil
}
