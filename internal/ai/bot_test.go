package ai

import (
	"reflect"
	"sync"
	"testing"
)

type event struct {
	kind  string
	count int
	score int
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) BotLinesCleared(_, _ string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{kind: "lines", count: count})
}

func (s *recordingSink) BotFieldUpdate(_, _ string, f Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{kind: "field", score: f.Score})
}

func (s *recordingSink) BotGameOver(_, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{kind: "gameover"})
}

func playOut(b *Bot, maxSteps int) int {
	steps := 0
	for steps < maxSteps && b.Step() {
		steps++
	}
	return steps
}

func TestClampLevel(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-3, 1}, {0, 1}, {1, 1}, {3, 3}, {5, 5}, {9, 5},
	}
	for _, tt := range tests {
		if got := ClampLevel(tt.in); got != tt.want {
			t.Errorf("ClampLevel(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBotIsDeterministicPerSeed(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	playOut(New(Config{Level: 3, Seed: 1234}, a), 200)
	playOut(New(Config{Level: 3, Seed: 1234}, b), 200)

	if !reflect.DeepEqual(a.events, b.events) {
		t.Error("same seed produced different event streams")
	}
	if len(a.events) == 0 {
		t.Error("bot emitted no events")
	}
}

func TestBotEventsAreWellFormed(t *testing.T) {
	sink := &recordingSink{}
	playOut(New(Config{Level: 5, Seed: 99}, sink), 500)

	for i, e := range sink.events {
		if e.kind == "lines" && (e.count < 1 || e.count > 4) {
			t.Errorf("event %d: cleared %d lines, want 1..4", i, e.count)
		}
		if e.kind == "gameover" && i != len(sink.events)-1 {
			t.Errorf("game over at %d is not the last event", i)
		}
	}
}

func TestGarbageTopsOutBot(t *testing.T) {
	sink := &recordingSink{}
	bot := New(Config{Level: 1, Seed: 7}, sink)

	bot.ReceiveGarbage(FieldHeight + 4)
	if bot.Step() {
		t.Error("Step() should report top out after a full field of garbage")
	}
	last := sink.events[len(sink.events)-1]
	if last.kind != "gameover" {
		t.Errorf("last event = %q, want gameover", last.kind)
	}
	if bot.Step() {
		t.Error("Step() after game over should be a no-op")
	}
}

func TestStoppedBotDoesNotStep(t *testing.T) {
	sink := &recordingSink{}
	bot := New(Config{Level: 2, Seed: 1}, sink)
	bot.Stop()
	bot.Stop()

	if bot.Step() {
		t.Error("Step() on a stopped bot should return false")
	}
	if len(sink.events) != 0 {
		t.Errorf("stopped bot emitted %d events", len(sink.events))
	}
}

func TestFieldShape(t *testing.T) {
	var got Field
	sink := &fieldSink{f: &got}
	bot := New(Config{Level: 2, Seed: 5}, sink)
	bot.ReceiveGarbage(6)
	bot.Step()

	if len(got.Grid) != FieldHeight {
		t.Fatalf("grid height = %d, want %d", len(got.Grid), FieldHeight)
	}
	for _, row := range got.Grid {
		if len(row) != FieldWidth {
			t.Fatalf("row width = %d, want %d", len(row), FieldWidth)
		}
	}
	if got.Level != 2 {
		t.Errorf("Level = %d, want 2", got.Level)
	}
	if bot.Height() == 0 {
		t.Error("garbage should raise the stack")
	}
}

type fieldSink struct{ f *Field }

func (s *fieldSink) BotLinesCleared(string, string, int) {}
func (s *fieldSink) BotFieldUpdate(_, _ string, f Field) { *s.f = f }
func (s *fieldSink) BotGameOver(string, string) {}
