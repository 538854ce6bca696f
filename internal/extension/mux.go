package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/extbridge/internal/protocol/frame"
)

var (
	ErrUnknownMessageType = errors.New("extension: unknown message type")
	ErrHandlerExists      = errors.New("extension: handler already registered")
	ErrHandlerNil         = errors.New("extension: handler is nil")
	ErrInvalidType        = errors.New("extension: invalid message type")
	ErrDecode             = errors.New("extension: decode payload")
)

// HandlerFunc answers one message type. The returned value becomes the reply
// data.
type HandlerFunc func(ctx context.Context, f frame.Frame) (any, error)

// Mux routes frames to handlers by message type. It satisfies
// session.Handler.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]HandlerFunc)}
}

// Register binds fn to messageType.
func (m *Mux) Register(messageType string, fn HandlerFunc) error {
	if fn == nil {
		return ErrHandlerNil
	}
	name := strings.TrimSpace(messageType)
	if name == "" || name != messageType {
		return fmt.Errorf("%w: %q", ErrInvalidType, messageType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[name]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, name)
	}
	m.routes[name] = fn
	return nil
}

// MustRegister is Register for wiring at startup.
func (m *Mux) MustRegister(messageType string, fn HandlerFunc) {
	if err := m.Register(messageType, fn); err != nil {
		panic(err)
	}
}

// Types returns the registered message types in sorted order.
func (m *Mux) Types() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.routes))
	for name := range m.routes {
		out = append(out, name)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *Mux) Handle(ctx context.Context, f frame.Frame) (any, error) {
	m.mu.RLock()
	fn, ok := m.routes[f.Type]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, f.Type)
	}
	return fn(ctx, f)
}

// Decode unmarshals a frame's data into T. Missing or null data yields the
// zero value.
func Decode[T any](f frame.Frame) (T, error) {
	var out T
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(f.Data, &out); err != nil {
		return out, fmt.Errorf("%w: type=%s: %w", ErrDecode, f.Type, err)
	}
	return out, nil
}
