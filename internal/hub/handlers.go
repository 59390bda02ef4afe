package hub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vovakirdan/blockduel/internal/ai"
	"github.com/vovakirdan/blockduel/internal/identity"
	"github.com/vovakirdan/blockduel/internal/room"
	"github.com/vovakirdan/blockduel/internal/session"
)

type method func(h *Hub, connectionID string, args []json.RawMessage) error

// methods maps each wire target to exactly one handler.
var methods = map[string]method{
	MethodCreateRoom:             (*Hub).createRoom,
	MethodCreateAIRoom:           (*Hub).createAIRoom,
	MethodJoinRoom:               (*Hub).joinRoom,
	MethodJoinRandomMatch:        (*Hub).joinRandomMatch,
	MethodCancelRandomMatch:      (*Hub).cancelRandomMatch,
	MethodSetReady:               (*Hub).setReady,
	MethodUpdateField:            (*Hub).updateField,
	MethodLinesCleared:           (*Hub).linesCleared,
	MethodGameOver:               (*Hub).gameOver,
	MethodRequestRematch:         (*Hub).requestRematch,
	MethodLeaveRoom:              (*Hub).leaveRoom,
	MethodSubscribeRoomList:      (*Hub).subscribeRoomList,
	MethodUnsubscribeRoomList:    (*Hub).unsubscribeRoomList,
	MethodSubscribeLeaderboard:   (*Hub).subscribeLeaderboard,
	MethodUnsubscribeLeaderboard: (*Hub).unsubscribeLeaderboard,
}

// dispatch runs one invocation and reports failures to the caller only.
// A panicking handler is reported as an internal error.
func (h *Hub) dispatch(connectionID, target string, args []json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("invocation panicked", "conn", connectionID, "method", target, "panic", rec)
			h.sendError(connectionID, errInternal)
		}
	}()

	m, ok := methods[target]
	if !ok {
		h.sendError(connectionID, newError(CodeInvalidPayload, "unknown method %q", target))
		return
	}
	if err := m(h, connectionID, args); err != nil {
		we, bug := toWireError(err)
		if bug {
			h.logger.Error("invocation failed", "conn", connectionID, "method", target, "err", err)
		} else {
			h.logger.Debug("invocation rejected", "conn", connectionID, "method", target, "err", err)
		}
		h.sendError(connectionID, we)
	}
}

func (h *Hub) sendError(connectionID string, e *Error) {
	h.sender.Send(connectionID, EventError, e)
}

func (h *Hub) identity(connectionID string) (identity.Identity, bool) {
	if h.identities == nil {
		return "", false
	}
	return h.identities.Lookup(connectionID)
}

func (h *Hub) requireIdentity(connectionID string) (identity.Identity, error) {
	who, ok := h.identity(connectionID)
	if !ok || who == "" {
		return "", errUnauthorized
	}
	return who, nil
}

// requireFree rejects callers already seated or queued.
func (h *Hub) requireFree(connectionID string) error {
	if _, ok := h.rooms.GetRoomByConnectionID(connectionID); ok {
		return errAlreadyIn
	}
	if h.matchmaker.Contains(connectionID) {
		return errAlreadyIn
	}
	return nil
}

func (h *Hub) roomOf(connectionID string) (*room.Room, error) {
	r, ok := h.rooms.GetRoomByConnectionID(connectionID)
	if !ok {
		return nil, errNotInRoom
	}
	return r, nil
}

// sendTo delivers to a human seat. AI seats receive events through their bot.
func (h *Hub) sendTo(p *room.Player, target string, payload ...any) {
	if p == nil || p.IsAI() {
		return
	}
	h.sender.Send(p.ConnectionID, target, payload...)
}

func (h *Hub) createRoom(connectionID string, _ []json.RawMessage) error {
	who, err := h.requireIdentity(connectionID)
	if err != nil {
		return err
	}
	if err := h.requireFree(connectionID); err != nil {
		return err
	}

	r := h.rooms.CreateRoom(room.NewHuman(connectionID, who))
	h.logger.Info("room created", "room", r.ID, "host", who)
	h.sender.Send(connectionID, EventRoomCreated, RoomCreated{RoomID: r.ID})
	h.broadcastRoomList()
	return nil
}

func (h *Hub) createAIRoom(connectionID string, args []json.RawMessage) error {
	who, err := h.requireIdentity(connectionID)
	if err != nil {
		return err
	}
	level := h.cfg.DefaultAILevel
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &level); err != nil {
			return newError(CodeInvalidPayload, "level must be an integer")
		}
	}
	if level < ai.MinLevel || level > ai.MaxLevel {
		return newError(CodeInvalidPayload, "level must be between %d and %d", ai.MinLevel, ai.MaxLevel)
	}
	if err := h.requireFree(connectionID); err != nil {
		return err
	}

	r := h.rooms.CreateRoom(room.NewHuman(connectionID, who))
	seat := room.NewAI(aiConnectionID(r.ID), aiIdentity(level))
	if _, err := h.rooms.JoinRoom(r.ID, seat); err != nil {
		h.rooms.DeleteRoom(r.ID)
		return err
	}

	h.logger.Info("ai room created", "room", r.ID, "host", who, "level", level)
	h.sender.Send(connectionID, EventRoomCreated, RoomCreated{RoomID: r.ID})
	h.sender.Send(connectionID, EventOpponentJoined, OpponentJoined{RoomID: r.ID, Opponent: seat.Identity, AI: true})
	return nil
}

func (h *Hub) joinRoom(connectionID string, args []json.RawMessage) error {
	who, err := h.requireIdentity(connectionID)
	if err != nil {
		return err
	}
	var code string
	if len(args) < 1 || json.Unmarshal(args[0], &code) != nil || strings.TrimSpace(code) == "" {
		return newError(CodeInvalidPayload, "room code required")
	}
	if err := h.requireFree(connectionID); err != nil {
		return err
	}
	if r, ok := h.rooms.GetRoom(code); ok && r.Status != room.StatusWaiting {
		return newError(CodeInvalidState, "room is %s", r.Status)
	}

	r, err := h.rooms.JoinRoom(code, room.NewHuman(connectionID, who))
	if err != nil {
		return err
	}

	joiner := r.PlayerByConnectionID(connectionID)
	host := r.Opponent(connectionID)
	h.logger.Info("player joined", "room", r.ID, "identity", who)
	h.sendTo(joiner, EventOpponentJoined, OpponentJoined{RoomID: r.ID, Opponent: host.Identity})
	h.sendTo(host, EventOpponentJoined, OpponentJoined{RoomID: r.ID, Opponent: who})
	h.broadcastRoomList()
	return nil
}

func (h *Hub) joinRandomMatch(connectionID string, _ []json.RawMessage) error {
	who, err := h.requireIdentity(connectionID)
	if err != nil {
		return err
	}
	if _, ok := h.rooms.GetRoomByConnectionID(connectionID); ok {
		return errAlreadyIn
	}

	res, err := h.matchmaker.Enqueue(room.NewHuman(connectionID, who))
	if err != nil {
		return err
	}
	if res == nil {
		h.logger.Debug("queued for random match", "conn", connectionID, "queue", h.matchmaker.Len())
		return nil
	}

	h.logger.Info("random match paired", "room", res.Room.ID, "p1", res.Player1.Identity, "p2", res.Player2.Identity)
	h.sendTo(res.Player1, EventOpponentJoined, OpponentJoined{RoomID: res.Room.ID, Opponent: res.Player2.Identity})
	h.sendTo(res.Player2, EventOpponentJoined, OpponentJoined{RoomID: res.Room.ID, Opponent: res.Player1.Identity})
	return nil
}

func (h *Hub) cancelRandomMatch(connectionID string, _ []json.RawMessage) error {
	h.matchmaker.Dequeue(connectionID)
	return nil
}

func (h *Hub) setReady(connectionID string, _ []json.RawMessage) error {
	if _, err := h.requireIdentity(connectionID); err != nil {
		return err
	}
	r, err := h.roomOf(connectionID)
	if err != nil {
		return err
	}
	if r.Status != room.StatusWaiting {
		return newError(CodeInvalidState, "cannot ready up while %s", r.Status)
	}
	if err := r.SetReady(connectionID); err != nil {
		return err
	}
	if !r.BothReady() {
		return nil
	}
	return h.startMatch(r)
}

// startMatch opens a session for a room whose players are all ready and
// tells both sides the seed. An AI seat gets a fresh bot first.
func (h *Hub) startMatch(r *room.Room) error {
	seed, err := h.sessions.StartSession(r)
	if err != nil {
		return err
	}
	if seat := aiSeat(r); seat != nil {
		h.spawnBot(r.ID, seat, seed)
	}

	payload := BothReady{Seed: seed, Countdown: h.countdownSeconds()}
	for _, p := range r.Players() {
		h.sendTo(p, EventBothReady, payload)
	}
	h.logger.Info("match started", "room", r.ID, "seed", seed)
	return nil
}

func (h *Hub) updateField(connectionID string, args []json.RawMessage) error {
	field, stats, err := fieldFromArgs(args)
	if err != nil {
		return err
	}
	r, err := h.roomOf(connectionID)
	if err != nil {
		return err
	}
	if r.Status != room.StatusPlaying {
		// Late snapshots after the result are expected.
		return nil
	}

	h.sessions.UpdateStats(r.ID, connectionID, session.Stats(stats))
	h.sendTo(r.Opponent(connectionID), EventOpponentFieldUpdate, OpponentFieldUpdate{Field: field})
	return nil
}

// fieldFromArgs accepts either one field object or the positional form
// (grid, score, lines, level). Both forms require integer stats.
func fieldFromArgs(args []json.RawMessage) (json.RawMessage, fieldStats, error) {
	var field json.RawMessage
	switch {
	case len(args) == 1:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(args[0], &obj); err != nil || obj == nil {
			return nil, fieldStats{}, newError(CodeInvalidPayload, "field must be an object")
		}
		field = args[0]
	case len(args) >= 4:
		data, err := json.Marshal(map[string]json.RawMessage{
			"grid":  args[0],
			"score": args[1],
			"lines": args[2],
			"level": args[3],
		})
		if err != nil {
			return nil, fieldStats{}, newError(CodeInvalidPayload, "malformed field")
		}
		field = data
	default:
		return nil, fieldStats{}, newError(CodeInvalidPayload, "field required")
	}

	var stats fieldStats
	if err := json.Unmarshal(field, &stats); err != nil {
		return nil, fieldStats{}, newError(CodeInvalidPayload, "score, lines and level must be integers")
	}
	return field, stats, nil
}

func (h *Hub) linesCleared(connectionID string, args []json.RawMessage) error {
	var count int
	if len(args) < 1 || json.Unmarshal(args[0], &count) != nil {
		return newError(CodeInvalidPayload, "count must be an integer")
	}
	r, err := h.roomOf(connectionID)
	if err != nil {
		return err
	}
	h.sessions.HandleLinesCleared(r.ID, connectionID, count)
	return nil
}

func (h *Hub) gameOver(connectionID string, _ []json.RawMessage) error {
	r, err := h.roomOf(connectionID)
	if err != nil {
		return err
	}
	h.sessions.HandleGameOver(r.ID, connectionID)
	return nil
}

func (h *Hub) requestRematch(connectionID string, _ []json.RawMessage) error {
	if _, err := h.requireIdentity(connectionID); err != nil {
		return err
	}
	r, err := h.roomOf(connectionID)
	if err != nil {
		return err
	}
	if r.Status != room.StatusFinished {
		return newError(CodeInvalidState, "no finished match to replay")
	}
	if !r.IsFull() {
		return newError(CodeInvalidState, "opponent has left")
	}
	if err := r.RequestRematch(connectionID); err != nil {
		return err
	}
	if seat := aiSeat(r); seat != nil {
		if err := r.RequestRematch(seat.ConnectionID); err != nil {
			return err
		}
	}

	if !r.BothRequestedRematch() {
		h.sendTo(r.Opponent(connectionID), EventOpponentRematchRequested)
		return nil
	}
	return h.rematch(r)
}

// rematch restarts a finished room in place with a fresh seed.
func (h *Hub) rematch(r *room.Room) error {
	h.sessions.EndSession(r.ID)
	h.stopBot(r.ID)

	if err := r.ResetForRematch(); err != nil {
		return err
	}
	for _, p := range r.Players() {
		if err := r.SetReady(p.ConnectionID); err != nil {
			return err
		}
	}

	seed, err := h.sessions.StartSession(r)
	if err != nil {
		return err
	}
	// The bot must exist before the human can act on the new seed.
	if seat := aiSeat(r); seat != nil {
		h.spawnBot(r.ID, seat, seed)
	}

	ready := BothReady{Seed: seed, Countdown: h.countdownSeconds()}
	for _, p := range r.Players() {
		h.sendTo(p, EventRematchAccepted, RematchAccepted{RoomID: r.ID})
		h.sendTo(p, EventBothReady, ready)
	}
	h.logger.Info("rematch started", "room", r.ID, "seed", seed)
	return nil
}

func (h *Hub) leaveRoom(connectionID string, _ []json.RawMessage) error {
	queued := h.matchmaker.Dequeue(connectionID)
	r, ok := h.rooms.GetRoomByConnectionID(connectionID)
	if !ok {
		if queued {
			return nil
		}
		return errNotInRoom
	}
	h.removeFromRoom(r, connectionID)
	return nil
}

// removeFromRoom takes a player out for good. Mid-match departures forfeit.
// The room never outlives a departure.
func (h *Hub) removeFromRoom(r *room.Room, connectionID string) {
	if r.Status == room.StatusPlaying {
		h.sessions.Forfeit(r.ID, connectionID)
	}
	opponent := r.Opponent(connectionID)

	h.sessions.EndSession(r.ID)
	h.stopBot(r.ID)
	_, _ = r.Leave(connectionID)
	h.rooms.DeleteRoom(r.ID)

	h.logger.Info("player left", "room", r.ID, "conn", connectionID)
	h.sendTo(opponent, EventOpponentLeft, OpponentLeft{RoomID: r.ID})
	h.broadcastRoomList()
}

func (h *Hub) subscribeRoomList(connectionID string, _ []json.RawMessage) error {
	h.roomListSubs.Add(connectionID)
	h.sender.Send(connectionID, EventRoomList, RoomList{Rooms: h.waitingRooms()})
	return nil
}

func (h *Hub) unsubscribeRoomList(connectionID string, _ []json.RawMessage) error {
	h.roomListSubs.Remove(connectionID)
	return nil
}

func (h *Hub) subscribeLeaderboard(connectionID string, _ []json.RawMessage) error {
	h.leaderboardSubs.Add(connectionID)
	h.sendLeaderboardTo(connectionID)
	return nil
}

func (h *Hub) unsubscribeLeaderboard(connectionID string, _ []json.RawMessage) error {
	h.leaderboardSubs.Remove(connectionID)
	return nil
}

// handleConnected restores a player to a match they dropped out of. A seat
// still held by an older connection of the same identity is taken over and
// the older connection is closed.
func (h *Hub) handleConnected(connectionID string) {
	who, ok := h.identity(connectionID)
	if !ok || who == "" {
		return
	}
	r, p, found := h.rooms.FindByIdentity(who)
	if !found || r.Status != room.StatusPlaying || r.Seed == nil || p.ConnectionID == connectionID {
		return
	}

	old := p.ConnectionID
	superseded := p.Connected
	if err := h.rooms.RebindConnection(r.ID, old, connectionID); err != nil {
		h.logger.Error("rebind on reconnect", "room", r.ID, "err", err)
		return
	}
	h.sessions.Rebind(r.ID, old, connectionID)
	p.Connected = true
	h.sessions.HandleReconnect(r.ID)

	opponent := r.Opponent(connectionID)
	if superseded {
		// The old connection no longer owns a seat, so its disconnect is inert.
		h.logger.Info("seat taken over", "room", r.ID, "identity", who, "old", old)
		h.sender.CloseConnection(old)
	} else {
		h.logger.Info("player reconnected", "room", r.ID, "identity", who)
		h.sendTo(opponent, EventOpponentReconnected)
	}
	if opponent != nil {
		h.sendTo(p, EventOpponentJoined, OpponentJoined{RoomID: r.ID, Opponent: opponent.Identity, AI: opponent.IsAI()})
	}
	h.sendTo(p, EventBothReady, BothReady{Seed: *r.Seed, Countdown: 0})
}

// handleDisconnected cleans up after a closed connection.
func (h *Hub) handleDisconnected(connectionID string) {
	h.matchmaker.Dequeue(connectionID)
	h.roomListSubs.Remove(connectionID)
	h.leaderboardSubs.Remove(connectionID)

	r, ok := h.rooms.GetRoomByConnectionID(connectionID)
	if !ok {
		return
	}
	if r.Status != room.StatusPlaying {
		h.removeFromRoom(r, connectionID)
		return
	}

	opponent := r.Opponent(connectionID)
	if opponent == nil || !opponent.Connected {
		// Nobody left to win by forfeit.
		h.logger.Info("abandoning match", "room", r.ID)
		h.sessions.EndSession(r.ID)
		h.stopBot(r.ID)
		h.rooms.DeleteRoom(r.ID)
		h.broadcastRoomList()
		return
	}

	if p := r.PlayerByConnectionID(connectionID); p != nil {
		p.Connected = false
	}
	h.sessions.HandleDisconnect(r.ID, connectionID)
}

func (h *Hub) countdownSeconds() int {
	return int(h.cfg.Countdown.Seconds())
}

func aiSeat(r *room.Room) *room.Player {
	for _, p := range r.Players() {
		if p.IsAI() {
			return p
		}
	}
	return nil
}

func aiConnectionID(roomID string) string {
	return "ai:" + roomID
}

func aiIdentity(level int) identity.Identity {
	return identity.Identity(fmt.Sprintf("ai-level-%d", level))
}
