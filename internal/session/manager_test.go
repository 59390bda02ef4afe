package session

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/blockduel/internal/room"
)

const tick = 100 * time.Millisecond

// fakeScheduler is a virtual clock. Timers fire only inside Advance.
type fakeScheduler struct {
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.now += d
	pending := append([]*fakeTimer(nil), s.timers...)
	for _, t := range pending {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			t.f()
		}
	}
}

type garbageCall struct {
	to    string
	lines int
}

type disconnectCall struct {
	to      string
	timeout time.Duration
}

type recordingNotifier struct {
	garbage     []garbageCall
	results     []Result
	disconnects []disconnectCall
}

func (n *recordingNotifier) SendGarbage(to string, lines int) {
	n.garbage = append(n.garbage, garbageCall{to, lines})
}

func (n *recordingNotifier) SendGameResult(r Result) {
	n.results = append(n.results, r)
}

func (n *recordingNotifier) SendOpponentDisconnected(to string, timeout time.Duration) {
	n.disconnects = append(n.disconnects, disconnectCall{to, timeout})
}

type fixture struct {
	rooms    *room.Manager
	sessions *Manager
	notifier *recordingNotifier
	clock    *fakeScheduler
	room     *room.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rooms:    room.NewManager(0),
		notifier: &recordingNotifier{},
		clock:    &fakeScheduler{},
	}
	logger := log.New(io.Discard)
	f.sessions = NewManager(Config{DisconnectTimeout: 10 * tick}, f.rooms, f.notifier, f.clock, logger)

	f.room = f.rooms.CreateRoom(room.NewHuman("c1", "alice"))
	if _, err := f.rooms.JoinRoom(f.room.ID, room.NewHuman("c2", "bob")); err != nil {
		t.Fatalf("JoinRoom() failed: %v", err)
	}
	return f
}

func (f *fixture) start(t *testing.T) int64 {
	t.Helper()
	seed, err := f.sessions.StartSession(f.room)
	if err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}
	return seed
}

func (f *fixture) disconnect(connID string) {
	f.room.PlayerByConnectionID(connID).Connected = false
	f.sessions.HandleDisconnect(f.room.ID, connID)
}

func TestGarbageFor(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{-1, 0},
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 4},
		{5, 0},
		{99, 0},
	}

	for _, tt := range tests {
		if got := GarbageFor(tt.count); got != tt.want {
			t.Errorf("GarbageFor(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestStartSessionRequiresTwoPlayers(t *testing.T) {
	rooms := room.NewManager(0)
	m := NewManager(DefaultConfig(), rooms, &recordingNotifier{}, &fakeScheduler{}, log.New(io.Discard))
	r := rooms.CreateRoom(room.NewHuman("c1", "alice"))

	if _, err := m.StartSession(r); err == nil {
		t.Fatal("StartSession() with one player should fail")
	}
	if r.Status != room.StatusWaiting {
		t.Errorf("Status = %s, want waiting", r.Status)
	}
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	seed := f.start(t)

	if seed < 0 {
		t.Errorf("seed = %d, want non-negative", seed)
	}
	if f.room.Status != room.StatusPlaying {
		t.Errorf("Status = %s, want playing", f.room.Status)
	}
	if f.room.Seed == nil || *f.room.Seed != seed {
		t.Error("room seed does not match session seed")
	}
	s, ok := f.sessions.Session(f.room.ID)
	if !ok {
		t.Fatal("Session() not found")
	}
	if s.Participants != [2]string{"c1", "c2"} {
		t.Errorf("Participants = %v", s.Participants)
	}
}

func TestLinesClearedSendsGarbageToOpponent(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	for _, count := range []int{0, 1, 2, 3, 4, 7} {
		f.sessions.HandleLinesCleared(f.room.ID, "c1", count)
	}
	f.sessions.HandleLinesCleared(f.room.ID, "c2", 2)
	f.sessions.HandleLinesCleared(f.room.ID, "stranger", 4)

	want := []garbageCall{{"c2", 1}, {"c2", 2}, {"c2", 4}, {"c1", 1}}
	if len(f.notifier.garbage) != len(want) {
		t.Fatalf("garbage calls = %v, want %v", f.notifier.garbage, want)
	}
	for i := range want {
		if f.notifier.garbage[i] != want[i] {
			t.Errorf("garbage[%d] = %v, want %v", i, f.notifier.garbage[i], want[i])
		}
	}
}

func TestLinesClearedRecordsClampedCounts(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	for _, count := range []int{3, 99, -5, 0} {
		f.sessions.HandleLinesCleared(f.room.ID, "c1", count)
	}

	s, ok := f.sessions.Session(f.room.ID)
	if !ok {
		t.Fatal("Session() not found")
	}
	if s.Cleared[0] != 3+MaxLinesPerClear {
		t.Errorf("Cleared[0] = %d, want %d", s.Cleared[0], 3+MaxLinesPerClear)
	}
	if s.Cleared[1] != 0 {
		t.Errorf("Cleared[1] = %d, want 0", s.Cleared[1])
	}
	// Out-of-table counts still send nothing.
	if len(f.notifier.garbage) != 1 {
		t.Errorf("garbage calls = %v, want one", f.notifier.garbage)
	}
}

func TestLinesClearedWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	f.sessions.HandleLinesCleared(f.room.ID, "c1", 4)
	if len(f.notifier.garbage) != 0 {
		t.Errorf("garbage sent without a session: %v", f.notifier.garbage)
	}
}

func TestGameOverIsIdempotent(t *testing.T) {
	orders := [][2]string{{"c1", "c2"}, {"c2", "c1"}, {"c1", "c1"}}

	for _, order := range orders {
		f := newFixture(t)
		f.start(t)

		f.sessions.HandleGameOver(f.room.ID, order[0])
		f.sessions.HandleGameOver(f.room.ID, order[1])

		if len(f.notifier.results) != 1 {
			t.Fatalf("order %v: %d results, want 1", order, len(f.notifier.results))
		}
		r := f.notifier.results[0]
		if r.Loser != order[0] || r.Reason != ReasonGameOver {
			t.Errorf("order %v: result = %+v", order, r)
		}
		if f.room.Status != room.StatusFinished {
			t.Errorf("order %v: Status = %s, want finished", order, f.room.Status)
		}
	}
}

func TestGameOverCarriesLatestStats(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.sessions.UpdateStats(f.room.ID, "c1", Stats{Score: 100, Lines: 4, Level: 1})
	f.sessions.UpdateStats(f.room.ID, "c1", Stats{Score: 250, Lines: 9, Level: 2})
	f.sessions.UpdateStats(f.room.ID, "c2", Stats{Score: 80, Lines: 3, Level: 1})
	f.sessions.HandleGameOver(f.room.ID, "c2")

	r := f.notifier.results[0]
	if r.Winner != "c1" || r.WinnerIdentity != "alice" || r.LoserIdentity != "bob" {
		t.Errorf("result = %+v", r)
	}
	if r.WinnerStats.Score != 250 || r.WinnerStats.Lines != 9 {
		t.Errorf("WinnerStats = %+v, want latest overwrite", r.WinnerStats)
	}
	if r.LoserStats.Score != 80 {
		t.Errorf("LoserStats = %+v", r.LoserStats)
	}

	// Finished sessions are frozen.
	f.sessions.UpdateStats(f.room.ID, "c1", Stats{Score: 1})
	s, _ := f.sessions.Session(f.room.ID)
	if s.Stats[0].Score != 250 {
		t.Errorf("stats changed after finish: %+v", s.Stats[0])
	}
}

func TestDisconnectTimeoutForfeits(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.disconnect("c1")
	if len(f.notifier.disconnects) != 1 || f.notifier.disconnects[0] != (disconnectCall{"c2", 10 * tick}) {
		t.Fatalf("disconnect notices = %v", f.notifier.disconnects)
	}

	f.clock.Advance(10*tick - 1)
	if len(f.notifier.results) != 0 {
		t.Fatal("forfeit fired before the timeout elapsed")
	}

	f.clock.Advance(1)
	if len(f.notifier.results) != 1 {
		t.Fatalf("%d results after timeout, want 1", len(f.notifier.results))
	}
	r := f.notifier.results[0]
	if r.Winner != "c2" || r.Loser != "c1" || r.Reason != ReasonDisconnect {
		t.Errorf("result = %+v", r)
	}
	if f.sessions.HasPendingTimeout(f.room.ID) {
		t.Error("timer still registered after firing")
	}
}

func TestReconnectOneTickBeforeTimeout(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.disconnect("c1")
	f.clock.Advance(10*tick - tick)

	f.room.Player1.Connected = true
	f.sessions.HandleReconnect(f.room.ID)

	f.clock.Advance(5 * tick)
	if len(f.notifier.results) != 0 {
		t.Errorf("forfeit fired after reconnect: %+v", f.notifier.results)
	}
	if f.sessions.HasPendingTimeout(f.room.ID) {
		t.Error("timer still armed after reconnect")
	}
}

func TestStaleTimeoutCallbackIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	// Capture the callback as if it had been queued before the reconnect.
	var fired func()
	f.sessions.scheduler = schedulerFunc(func(d time.Duration, fn func()) Timer {
		fired = fn
		return &fakeTimer{}
	})
	f.disconnect("c1")
	f.room.Player1.Connected = true
	f.sessions.HandleReconnect(f.room.ID)

	fired()
	if len(f.notifier.results) != 0 {
		t.Errorf("stale timeout resolved the match: %+v", f.notifier.results)
	}
}

func TestRepeatedDisconnectReplacesTimer(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.disconnect("c1")
	f.clock.Advance(5 * tick)
	f.disconnect("c1")

	f.clock.Advance(5 * tick)
	if len(f.notifier.results) != 0 {
		t.Fatal("superseded timer fired")
	}
	f.clock.Advance(5 * tick)
	if len(f.notifier.results) != 1 {
		t.Fatalf("%d results, want exactly 1", len(f.notifier.results))
	}
}

func TestGameOverCancelsTimer(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.disconnect("c1")
	f.sessions.HandleGameOver(f.room.ID, "c2")
	f.clock.Advance(20 * tick)

	if len(f.notifier.results) != 1 || f.notifier.results[0].Reason != ReasonGameOver {
		t.Errorf("results = %+v, want single gameover", f.notifier.results)
	}
}

func TestTimeoutAfterRoomDeletedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.disconnect("c1")
	f.rooms.DeleteRoom(f.room.ID)
	f.clock.Advance(20 * tick)

	if len(f.notifier.results) != 0 {
		t.Errorf("results = %+v, want none", f.notifier.results)
	}
}

func TestTimeoutPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.disconnect("c1")

	f.sessions.notifier = panickingNotifier{}
	f.clock.Advance(20 * tick)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.disconnect("c1")

	f.sessions.EndSession(f.room.ID)
	f.sessions.EndSession(f.room.ID)
	f.clock.Advance(20 * tick)

	if _, ok := f.sessions.Session(f.room.ID); ok {
		t.Error("session survived EndSession")
	}
	if len(f.notifier.results) != 0 {
		t.Error("timer fired after EndSession")
	}
}

func TestRebindKeepsParticipantsAligned(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.disconnect("c1")

	if err := f.rooms.RebindConnection(f.room.ID, "c1", "c1b"); err != nil {
		t.Fatalf("RebindConnection() failed: %v", err)
	}
	f.sessions.Rebind(f.room.ID, "c1", "c1b")
	f.room.Player1.Connected = true
	f.sessions.HandleReconnect(f.room.ID)

	f.sessions.HandleLinesCleared(f.room.ID, "c2", 4)
	if len(f.notifier.garbage) != 1 || f.notifier.garbage[0].to != "c1b" {
		t.Errorf("garbage = %v, want to c1b", f.notifier.garbage)
	}

	f.sessions.HandleGameOver(f.room.ID, "c1b")
	if f.notifier.results[0].Loser != "c1b" || f.notifier.results[0].LoserIdentity != "alice" {
		t.Errorf("result = %+v", f.notifier.results[0])
	}
}

type schedulerFunc func(d time.Duration, f func()) Timer

func (fn schedulerFunc) AfterFunc(d time.Duration, f func()) Timer { return fn(d, f) }

type panickingNotifier struct{}

func (panickingNotifier) SendGarbage(string, int) { panic("garbage") }
func (panickingNotifier) SendGameResult(Result) { panic("result") }
func (panickingNotifier) SendOpponentDisconnected(string, time.Duration) { panic("disconnect") }
