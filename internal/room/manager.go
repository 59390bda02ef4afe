package room

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/blockduel/internal/identity"
)

// CodeAlphabet is the set of glyphs used in room codes.
// I, O, 0 and 1 are excluded because they are easily confused when read aloud.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code.
const CodeLength = 6

// DefaultCodeAttempts bounds collision retries when allocating a code.
const DefaultCodeAttempts = 100

// RoomSummary is a read-only view of a room for lobby listings.
type RoomSummary struct {
	RoomID    string            `json:"roomId"`
	Host      identity.Identity `json:"host"`
	Players   int               `json:"players"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Manager owns every room and the connection -> room reverse index.
// Thread-safe for concurrent access; the Room values it hands out are not.
type Manager struct {
	codeAttempts int
	newCode      func() string

	mu       sync.RWMutex
	rooms    map[string]*Room  // code -> room
	connRoom map[string]string // connectionID -> code
}

// NewManager creates a room manager.
// codeAttempts <= 0 falls back to DefaultCodeAttempts.
func NewManager(codeAttempts int) *Manager {
	if codeAttempts <= 0 {
		codeAttempts = DefaultCodeAttempts
	}
	return &Manager{
		codeAttempts: codeAttempts,
		newCode:      generateCode,
		rooms:        make(map[string]*Room),
		connRoom:     make(map[string]string),
	}
}

// CreateRoom allocates a fresh code and seats the player as host.
// Panics if no free code is found within the attempt budget.
func (m *Manager) CreateRoom(host *Player) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := m.uniqueCode()
	r := NewRoom(code)
	_ = r.Join(host) // empty room, cannot be full
	m.rooms[code] = r
	m.connRoom[host.ConnectionID] = code
	return r
}

// JoinRoom seats the player in an existing room.
func (m *Manager) JoinRoom(roomID string, p *Player) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[normalizeCode(roomID)]
	if !ok {
		return nil, fmt.Errorf("join %s: %w", roomID, ErrRoomNotFound)
	}
	if err := r.Join(p); err != nil {
		return nil, err
	}
	m.connRoom[p.ConnectionID] = r.ID
	return r, nil
}

// GetRoom returns a room by code.
func (m *Manager) GetRoom(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[normalizeCode(roomID)]
	return r, ok
}

// GetRoomByConnectionID returns the room a connection is seated in.
func (m *Manager) GetRoomByConnectionID(connectionID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.connRoom[connectionID]
	if !ok {
		return nil, false
	}
	r, ok := m.rooms[code]
	return r, ok
}

// DeleteRoom removes a room and every index entry that points at it.
// Returns false if the room did not exist.
func (m *Manager) DeleteRoom(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := normalizeCode(roomID)
	r, ok := m.rooms[code]
	if !ok {
		return false
	}
	for _, p := range r.Players() {
		if m.connRoom[p.ConnectionID] == code {
			delete(m.connRoom, p.ConnectionID)
		}
	}
	// Entries whose slot was already vacated.
	for conn, c := range m.connRoom {
		if c == code {
			delete(m.connRoom, conn)
		}
	}
	delete(m.rooms, code)
	return true
}

// RemoveConnection drops the reverse-index entry only. The room is untouched.
func (m *Manager) RemoveConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connRoom, connectionID)
}

// RebindConnection moves a seated player to a new connection id.
func (m *Manager) RebindConnection(roomID, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[normalizeCode(roomID)]
	if !ok {
		return fmt.Errorf("rebind %s: %w", roomID, ErrRoomNotFound)
	}
	if err := r.rebind(oldID, newID); err != nil {
		return fmt.Errorf("rebind %s: %w", roomID, err)
	}
	delete(m.connRoom, oldID)
	m.connRoom[newID] = r.ID
	return nil
}

// FindByIdentity returns the room holding a human seat owned by the identity.
func (m *Manager) FindByIdentity(id identity.Identity) (*Room, *Player, bool) {
	if id == "" {
		return nil, nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rooms {
		if p := r.PlayerByIdentity(id); p != nil {
			return r, p, true
		}
	}
	return nil, nil, false
}

// WaitingRooms lists joinable rooms, oldest first.
func (m *Manager) WaitingRooms() []RoomSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RoomSummary
	for _, r := range m.rooms {
		if r.Status != StatusWaiting || r.IsFull() || r.HasAI() {
			continue
		}
		s := RoomSummary{
			RoomID:    r.ID,
			Players:   r.PlayerCount(),
			Status:    r.Status.String(),
			CreatedAt: r.CreatedAt,
		}
		if r.Player1 != nil {
			s.Host = r.Player1.Identity
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Rooms returns summaries of every room regardless of status.
func (m *Manager) Rooms() []RoomSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RoomSummary, 0, len(m.rooms))
	for _, r := range m.rooms {
		s := RoomSummary{
			RoomID:    r.ID,
			Players:   r.PlayerCount(),
			Status:    r.Status.String(),
			CreatedAt: r.CreatedAt,
		}
		if r.Player1 != nil {
			s.Host = r.Player1.Identity
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// uniqueCode must be called with mu held.
func (m *Manager) uniqueCode() string {
	for i := 0; i < m.codeAttempts; i++ {
		code := m.newCode()
		if _, exists := m.rooms[code]; !exists {
			return code
		}
	}
	panic(fmt.Sprintf("room: no free code after %d attempts (%d rooms live)", m.codeAttempts, len(m.rooms)))
}

// generateCode draws CodeLength glyphs from CodeAlphabet.
// The alphabet has 32 entries so masking a random byte is unbiased.
func generateCode() string {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("room: crypto/rand failed: %v", err))
	}
	for i := range b {
		b[i] = CodeAlphabet[b[i]&31]
	}
	return string(b)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
