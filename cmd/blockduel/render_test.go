package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/blockduel/internal/config"
	"github.com/vovakirdan/blockduel/internal/identity"
	"github.com/vovakirdan/blockduel/internal/storage"
)

func TestPlainTable(t *testing.T) {
	var buf bytes.Buffer
	out := output{w: &buf}
	out.table([]string{"Rank", "Player"}, [][]string{{"#1", "alice"}, {"#2", "bob"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "----") || !strings.Contains(lines[1], "------") {
		t.Errorf("separator line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "alice") {
		t.Errorf("first row = %q", lines[2])
	}
	if strings.ContainsAny(buf.String(), "╭│") {
		t.Error("plain output should not contain box drawing")
	}
}

func TestStyledTable(t *testing.T) {
	var buf bytes.Buffer
	out := output{w: &buf, styled: true, width: 60}
	out.table([]string{"Rank", "Player", "W", "L", "Best", "Lines"}, leaderboardRows([]storage.LeaderboardEntry{{Rank: 1, Player: "alice", Wins: 2}}))
	if !strings.Contains(buf.String(), "alice") {
		t.Errorf("styled table missing row:\n%s", buf.String())
	}
}

func TestHistoryRows(t *testing.T) {
	at := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	matches := []storage.MatchRecord{
		{Winner: "alice", Loser: "bob", WinnerScore: 900, LoserScore: 400, Reason: "gameover", DurationSecs: 95, CreatedAt: at},
		{Winner: "carol", Loser: "alice", WinnerScore: 300, LoserScore: 100, Reason: "disconnect", DurationSecs: 12, CreatedAt: at},
	}

	rows := historyRows("alice", matches)
	want := [][]string{
		{"2024-03-01 18:30", "W", "bob", "900-400", "gameover", "95s"},
		{"2024-03-01 18:30", "L", "carol", "100-300", "disconnect", "12s"},
	}
	for i := range want {
		if strings.Join(rows[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestAuthenticatorFromConfig(t *testing.T) {
	r := httptest.NewRequest("POST", "/hub/negotiate", nil)
	r.Header.Set("X-User-Id", "alice")
	r.Header.Set("Authorization", "Bearer s3cret")

	tests := []struct {
		name string
		auth config.AuthSection
		want identity.Identity
		ok   bool
	}{
		{"header", config.AuthSection{Mode: config.AuthHeader, Header: "X-User-Id"}, "alice", true},
		{"token", config.AuthSection{Mode: config.AuthToken, Tokens: map[string]string{"s3cret": "bob"}}, "bob", true},
		{"none", config.AuthSection{Mode: config.AuthNone}, "", false},
	}
	for _, tt := range tests {
		got, ok := authenticator(tt.auth).Authenticate(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: Authenticate() = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHubConfigFromMatchSection(t *testing.T) {
	m := config.DefaultServerConfig().Match
	hc := hubConfig(m, 4)
	if hc.Countdown != m.Countdown || hc.DisconnectTimeout != m.DisconnectTimeout {
		t.Errorf("timings not carried over: %+v", hc)
	}
	if hc.DefaultAILevel != 4 || hc.QueueSize != m.QueueSize {
		t.Errorf("hubConfig() = %+v", hc)
	}
}
