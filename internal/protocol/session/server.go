package session

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"

	"github.com/danmuck/extbridge/internal/observability"
	"github.com/rs/zerolog/log"
)

// Server accepts runner connections on the host side and wraps each in a
// Session sharing one handler.
type Server struct {
	cfg       Config
	handler   Handler
	onSession func(*Session)

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewServer builds a host-side acceptor. onSession, when set, runs on its own
// goroutine for every accepted session.
func NewServer(handler Handler, cfg Config, onSession func(*Session)) *Server {
	return &Server{
		cfg:       cfg.WithDefaults(),
		handler:   handler,
		onSession: onSession,
		sessions:  make(map[string]*Session),
	}
}

// Serve accepts connections until ctx is cancelled or ln fails. Every session
// is closed before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	log.Info().Str("role", s.cfg.Role).Str("addr", ln.Addr().String()).Msg("session.Server listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.track(New(conn, s.handler, s.cfg))
	}
}

// Sessions returns the open sessions ordered by id.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Statuses adapts Sessions for the admin server.
func (s *Server) Statuses() []observability.SessionStatus {
	sessions := s.Sessions()
	out := make([]observability.SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	active := len(s.sessions)
	s.mu.Unlock()
	sess.log.Info().Int("active_sessions", active).Msg("session.Server accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-sess.Done()
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		remaining := len(s.sessions)
		s.mu.Unlock()
		sess.log.Info().Int("active_sessions", remaining).Msg("session.Server released")
	}()

	if s.onSession != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.onSession(sess)
		}()
	}
}

func (s *Server) closeAll() {
	for _, sess := range s.Sessions() {
		_ = sess.Close()
	}
}
