package extension

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danmuck/extbridge/internal/protocol/frame"
)

const (
	TypePing              = "ping"
	TypeEcho              = "echo"
	TypeGetExtensionsInfo = "getExtensionsInfo"
)

// Info describes what a runner can answer.
type Info struct {
	Name      string    `json:"name"`
	Version   string    `json:"version,omitempty"`
	Types     []string  `json:"types"`
	StartedAt time.Time `json:"startedAt"`
}

// RegisterBuiltins installs the handlers every runner answers regardless of
// which extensions are loaded.
func RegisterBuiltins(m *Mux, name, version string) error {
	started := time.Now().UTC()
	if err := m.Register(TypePing, func(context.Context, frame.Frame) (any, error) {
		return "pong", nil
	}); err != nil {
		return err
	}
	if err := m.Register(TypeEcho, func(_ context.Context, f frame.Frame) (any, error) {
		if len(f.Data) == 0 {
			return nil, nil
		}
		return json.RawMessage(f.Data), nil
	}); err != nil {
		return err
	}
	return m.Register(TypeGetExtensionsInfo, func(context.Context, frame.Frame) (any, error) {
		return Info{
			Name:      name,
			Version:   version,
			Types:     m.Types(),
			StartedAt: started,
		}, nil
	})
}
