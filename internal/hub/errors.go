package hub

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/blockduel/internal/room"
	"github.com/vovakirdan/blockduel/internal/session"
)

// ErrorCode is the stable numeric code carried by the Error event.
type ErrorCode int

const (
	CodeInvalidPayload ErrorCode = 4000
	CodeUnauthorized   ErrorCode = 4001
	CodeNotInRoom      ErrorCode = 4003
	CodeRoomNotFound   ErrorCode = 4004
	CodeRoomFull       ErrorCode = 4009
	CodeInvalidState   ErrorCode = 4010
	CodeAlreadyInRoom  ErrorCode = 4011
	CodeInternal       ErrorCode = 5000
)

// Error is reported to the originating connection only.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	errUnauthorized = &Error{Code: CodeUnauthorized, Message: "identity required"}
	errNotInRoom    = &Error{Code: CodeNotInRoom, Message: "not in a room"}
	errAlreadyIn    = &Error{Code: CodeAlreadyInRoom, Message: "already in a room or queue"}
	errInternal     = &Error{Code: CodeInternal, Message: "internal error"}
)

// toWireError maps a domain error to its wire form. The second result is
// true when the error signals a bug rather than a bad request.
func toWireError(err error) (*Error, bool) {
	var we *Error
	switch {
	case errors.As(err, &we):
		return we, false
	case errors.Is(err, room.ErrRoomNotFound):
		return &Error{Code: CodeRoomNotFound, Message: "room not found"}, false
	case errors.Is(err, room.ErrRoomFull):
		return &Error{Code: CodeRoomFull, Message: "room is full"}, false
	case errors.Is(err, room.ErrNotInRoom):
		return errNotInRoom, false
	case errors.Is(err, room.ErrAlreadyQueued):
		return errAlreadyIn, false
	case errors.Is(err, session.ErrRoomIncomplete):
		return &Error{Code: CodeInvalidState, Message: "room must have 2 players"}, false
	default:
		// Includes room.ErrInvalidTransition: handlers check state first.
		return errInternal, true
	}
}
