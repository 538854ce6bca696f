package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/extbridge/internal/protocol/frame"
)

var (
	ErrConnection       = errors.New("session: connection failed")
	ErrSessionClosed    = errors.New("session: closed")
	ErrTimeout          = errors.New("session: request timed out")
	ErrDuplicateChannel = errors.New("session: channel already registered")
	ErrEmptyChannel     = errors.New("session: empty channel")
	ErrInvalidAddress   = errors.New("session: invalid address")
	ErrNoHandler        = errors.New("session: no handler configured")
	ErrRemote           = errors.New("session: remote handler failed")
)

// ErrorPayload is the reply data sent when a handler fails. The protocol has
// no failed frame, only a frame whose data describes the failure.
type ErrorPayload struct {
	Error string `json:"error"`
}

func errorData(err error) json.RawMessage {
	data, mErr := json.Marshal(ErrorPayload{Error: err.Error()})
	if mErr != nil {
		return json.RawMessage(`{"error":"unencodable handler error"}`)
	}
	return data
}

// RemoteError is returned by Request when the peer answered with an
// error-shaped payload.
type RemoteError struct {
	Type    string
	Channel string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote %q failed on channel %s: %s", e.Type, e.Channel, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// remoteError reports whether data is exactly an ErrorPayload object.
func remoteError(f frame.Frame) *RemoteError {
	if len(f.Data) == 0 || f.Data[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &fields); err != nil || len(fields) != 1 {
		return nil
	}
	raw, ok := fields["error"]
	if !ok {
		return nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	return &RemoteError{Type: f.Type, Channel: f.Channel, Message: msg}
}
