package hub

import (
	"sort"

	"github.com/vovakirdan/blockduel/internal/room"
	"github.com/vovakirdan/blockduel/internal/storage"
)

// subscriberSet is a set of connection ids receiving broadcast snapshots.
// Loop-owned, not safe for concurrent use.
type subscriberSet struct {
	ids map[string]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{ids: make(map[string]struct{})}
}

func (s *subscriberSet) Add(id string) {
	s.ids[id] = struct{}{}
}

func (s *subscriberSet) Remove(id string) {
	delete(s.ids, id)
}

func (s *subscriberSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *subscriberSet) Len() int {
	return len(s.ids)
}

// List returns a sorted copy, safe to hand to another goroutine.
func (s *subscriberSet) List() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// broadcastRoomList pushes the waiting-room list to every subscriber.
func (h *Hub) broadcastRoomList() {
	if h.roomListSubs.Len() == 0 {
		return
	}
	payload := RoomList{Rooms: h.waitingRooms()}
	for _, id := range h.roomListSubs.List() {
		h.sender.Send(id, EventRoomList, payload)
	}
}

func (h *Hub) waitingRooms() []room.RoomSummary {
	rooms := h.rooms.WaitingRooms()
	if rooms == nil {
		rooms = []room.RoomSummary{}
	}
	return rooms
}

// broadcastLeaderboard reloads the leaderboard off-loop and pushes it to
// every subscriber.
func (h *Hub) broadcastLeaderboard() {
	if h.store == nil || h.leaderboardSubs.Len() == 0 {
		return
	}
	subs := h.leaderboardSubs.List()
	h.goOffLoop(func() {
		entries, err := h.store.Leaderboard(h.cfg.LeaderboardSize)
		if err != nil {
			h.logger.Error("load leaderboard", "err", err)
			return
		}
		payload := Leaderboard{Entries: nonNil(entries)}
		for _, id := range subs {
			h.sender.Send(id, EventLeaderboard, payload)
		}
	})
}

// sendLeaderboardTo pushes the leaderboard, plus the caller's own history
// when their identity is known.
func (h *Hub) sendLeaderboardTo(connectionID string) {
	if h.store == nil {
		h.sender.Send(connectionID, EventLeaderboard, Leaderboard{Entries: []storage.LeaderboardEntry{}})
		return
	}
	who, known := h.identity(connectionID)
	h.goOffLoop(func() {
		entries, err := h.store.Leaderboard(h.cfg.LeaderboardSize)
		if err != nil {
			h.logger.Error("load leaderboard", "err", err)
			return
		}
		h.sender.Send(connectionID, EventLeaderboard, Leaderboard{Entries: nonNil(entries)})

		if !known {
			return
		}
		history, err := h.store.PlayerMatchHistory(string(who), h.cfg.HistorySize)
		if err != nil {
			h.logger.Error("load match history", "identity", who, "err", err)
			return
		}
		h.sender.Send(connectionID, EventMatchHistory, MatchHistory{Matches: nonNil(history)})
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
