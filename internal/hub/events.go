package hub

import (
	"encoding/json"

	"github.com/vovakirdan/blockduel/internal/identity"
	"github.com/vovakirdan/blockduel/internal/room"
	"github.com/vovakirdan/blockduel/internal/storage"
)

// Client-invocable methods.
const (
	MethodCreateRoom             = "CreateRoom"
	MethodCreateAIRoom           = "CreateAIRoom"
	MethodJoinRoom               = "JoinRoom"
	MethodJoinRandomMatch        = "JoinRandomMatch"
	MethodCancelRandomMatch      = "CancelRandomMatch"
	MethodSetReady               = "SetReady"
	MethodUpdateField            = "UpdateField"
	MethodLinesCleared           = "LinesCleared"
	MethodGameOver               = "GameOver"
	MethodRequestRematch         = "RequestRematch"
	MethodLeaveRoom              = "LeaveRoom"
	MethodSubscribeRoomList      = "SubscribeRoomList"
	MethodUnsubscribeRoomList    = "UnsubscribeRoomList"
	MethodSubscribeLeaderboard   = "SubscribeLeaderboard"
	MethodUnsubscribeLeaderboard = "UnsubscribeLeaderboard"
)

// Server-pushed targets.
const (
	EventRoomCreated              = "RoomCreated"
	EventOpponentJoined           = "OpponentJoined"
	EventBothReady                = "BothReady"
	EventOpponentFieldUpdate      = "OpponentFieldUpdate"
	EventReceiveGarbage           = "ReceiveGarbage"
	EventGameResult               = "GameResult"
	EventOpponentRematchRequested = "OpponentRematchRequested"
	EventRematchAccepted          = "RematchAccepted"
	EventOpponentDisconnected     = "OpponentDisconnected"
	EventOpponentReconnected      = "OpponentReconnected"
	EventOpponentLeft             = "OpponentLeft"
	EventRoomList                 = "RoomList"
	EventLeaderboard              = "Leaderboard"
	EventMatchHistory             = "MatchHistory"
	EventError                    = "Error"
)

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

type OpponentJoined struct {
	RoomID   string            `json:"roomId"`
	Opponent identity.Identity `json:"opponent"`
	AI       bool              `json:"ai,omitempty"`
}

type BothReady struct {
	Seed      int64 `json:"seed"`
	Countdown int   `json:"countdown"`
}

type OpponentFieldUpdate struct {
	Field json.RawMessage `json:"field"`
}

type ReceiveGarbage struct {
	Lines int `json:"lines"`
}

type GameResult struct {
	Winner         string            `json:"winner"`
	Loser          string            `json:"loser"`
	LoserReason    string            `json:"loserReason"`
	WinnerIdentity identity.Identity `json:"winnerIdentity,omitempty"`
	LoserIdentity  identity.Identity `json:"loserIdentity,omitempty"`
}

type RematchAccepted struct {
	RoomID string `json:"roomId"`
}

type OpponentDisconnected struct {
	TimeoutMs int64 `json:"timeoutMs"`
}

type OpponentLeft struct {
	RoomID string `json:"roomId"`
}

type RoomList struct {
	Rooms []room.RoomSummary `json:"rooms"`
}

type Leaderboard struct {
	Entries []storage.LeaderboardEntry `json:"entries"`
}

type MatchHistory struct {
	Matches []storage.MatchRecord `json:"matches"`
}

// fieldStats is the part of a field snapshot the server keeps.
type fieldStats struct {
	Score int `json:"score"`
	Lines int `json:"lines"`
	Level int `json:"level"`
}
