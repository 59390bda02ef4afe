package hub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/blockduel/internal/ai"
	"github.com/vovakirdan/blockduel/internal/room"
	"github.com/vovakirdan/blockduel/internal/session"
	"github.com/vovakirdan/blockduel/internal/storage"
)

// SendGarbage implements session.Notifier. AI seats take garbage directly.
func (h *Hub) SendGarbage(to string, lines int) {
	p := h.seat(to)
	if p == nil {
		return
	}
	if p.IsAI() {
		if r, ok := h.rooms.GetRoomByConnectionID(to); ok {
			if e, ok := h.bots[r.ID]; ok {
				e.bot.ReceiveGarbage(lines)
			}
		}
		return
	}
	h.sender.Send(to, EventReceiveGarbage, ReceiveGarbage{Lines: lines})
}

// SendOpponentDisconnected implements session.Notifier.
func (h *Hub) SendOpponentDisconnected(to string, timeout time.Duration) {
	h.sendTo(h.seat(to), EventOpponentDisconnected, OpponentDisconnected{TimeoutMs: timeout.Milliseconds()})
}

// SendGameResult implements session.Notifier. Both seats learn the outcome
// and the match is handed off for persistence.
func (h *Hub) SendGameResult(res session.Result) {
	h.stopBot(res.RoomID)

	payload := GameResult{
		Winner:         res.Winner,
		Loser:          res.Loser,
		LoserReason:    string(res.Reason),
		WinnerIdentity: res.WinnerIdentity,
		LoserIdentity:  res.LoserIdentity,
	}

	r, ok := h.rooms.GetRoom(res.RoomID)
	if !ok {
		h.persist(matchRecord(res, false, false))
		return
	}
	loser := r.PlayerByConnectionID(res.Loser)
	winnerAI := r.PlayerByConnectionID(res.Winner).IsAI()
	for _, p := range r.Players() {
		h.sendTo(p, EventGameResult, payload)
	}
	h.persist(matchRecord(res, winnerAI, loser.IsAI()))

	// A player who timed out is not coming back for a rematch.
	if res.Reason == session.ReasonDisconnect && loser != nil && !loser.IsAI() && !loser.Connected {
		h.removeFromRoom(r, res.Loser)
	}
}

func (h *Hub) seat(connectionID string) *room.Player {
	r, ok := h.rooms.GetRoomByConnectionID(connectionID)
	if !ok {
		return nil
	}
	return r.PlayerByConnectionID(connectionID)
}

func matchRecord(res session.Result, winnerAI, loserAI bool) storage.MatchRecord {
	return storage.MatchRecord{
		MatchID:      uuid.NewString(),
		RoomID:       res.RoomID,
		Winner:       string(res.WinnerIdentity),
		Loser:        string(res.LoserIdentity),
		WinnerAI:     winnerAI,
		LoserAI:      loserAI,
		WinnerScore:  res.WinnerStats.Score,
		LoserScore:   res.LoserStats.Score,
		WinnerLines:  res.WinnerStats.Lines,
		LoserLines:   res.LoserStats.Lines,
		Reason:       string(res.Reason),
		DurationSecs: int(res.Duration().Seconds()),
		CreatedAt:    res.EndedAt,
	}
}

// persist saves and publishes a finished match off-loop, then refreshes
// leaderboard subscribers.
func (h *Hub) persist(rec storage.MatchRecord) {
	if h.store == nil && h.publisher == nil {
		return
	}
	h.goOffLoop(func() {
		if h.store != nil {
			if _, err := h.store.SaveMatch(rec); err != nil {
				h.logger.Error("save match", "match", rec.MatchID, "err", err)
			}
		}
		if h.publisher != nil {
			if err := h.publisher.PublishMatch(rec); err != nil {
				h.logger.Warn("publish match", "match", rec.MatchID, "err", err)
			}
		}
		h.post(h.broadcastLeaderboard)
	})
}

// spawnBot replaces the room's bot with a fresh one on seed. It starts
// playing once the countdown elapses.
func (h *Hub) spawnBot(roomID string, seat *room.Player, seed int64) {
	h.stopBot(roomID)

	h.botGen++
	gen := h.botGen
	bot := ai.New(ai.Config{
		RoomID:       roomID,
		ConnectionID: seat.ConnectionID,
		Level:        aiLevel(string(seat.Identity), h.cfg.DefaultAILevel),
		Seed:         seed,
	}, botSink{hub: h, gen: gen})
	h.bots[roomID] = botEntry{bot: bot, gen: gen}

	h.scheduler.AfterFunc(h.cfg.Countdown, func() {
		if h.botCurrent(roomID, gen) {
			bot.Start()
		}
	})
}

func (h *Hub) stopBot(roomID string) {
	if e, ok := h.bots[roomID]; ok {
		e.bot.Stop()
		delete(h.bots, roomID)
	}
}

func (h *Hub) botCurrent(roomID string, gen uint64) bool {
	e, ok := h.bots[roomID]
	return ok && e.gen == gen
}

func aiLevel(id string, fallback int) int {
	var level int
	if _, err := fmt.Sscanf(strings.TrimPrefix(id, "ai-level-"), "%d", &level); err != nil {
		return ai.ClampLevel(fallback)
	}
	return ai.ClampLevel(level)
}

// botSink routes a bot's moves through the loop. Events from a replaced
// bot are dropped.
type botSink struct {
	hub *Hub
	gen uint64
}

func (s botSink) BotLinesCleared(roomID, connectionID string, count int) {
	s.hub.post(func() {
		if s.hub.botCurrent(roomID, s.gen) {
			s.hub.sessions.HandleLinesCleared(roomID, connectionID, count)
		}
	})
}

func (s botSink) BotFieldUpdate(roomID, connectionID string, field ai.Field) {
	s.hub.post(func() {
		h := s.hub
		if !h.botCurrent(roomID, s.gen) {
			return
		}
		r, ok := h.rooms.GetRoom(roomID)
		if !ok || r.Status != room.StatusPlaying {
			return
		}
		data, err := json.Marshal(field)
		if err != nil {
			h.logger.Error("encode bot field", "room", roomID, "err", err)
			return
		}
		h.sessions.UpdateStats(roomID, connectionID, session.Stats{Score: field.Score, Lines: field.Lines, Level: field.Level})
		h.sendTo(r.Opponent(connectionID), EventOpponentFieldUpdate, OpponentFieldUpdate{Field: data})
	})
}

func (s botSink) BotGameOver(roomID, connectionID string) {
	s.hub.post(func() {
		if s.hub.botCurrent(roomID, s.gen) {
			s.hub.sessions.HandleGameOver(roomID, connectionID)
		}
	})
}
