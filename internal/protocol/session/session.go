package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is one live connection plus its receive buffer and pending
// channel registry.
type Session struct {
	id      string
	conn    net.Conn
	cfg     Config
	log     zerolog.Logger
	writer  *Writer
	router  *Router
	decoder *frame.Decoder

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	framesIn    atomic.Uint64
	framesOut   atomic.Uint64
	parseErrors atomic.Uint64
}

// Connect dials address and starts a session on the resulting connection,
// retrying with backoff up to cfg.MaxConnectAttempts (zero retries forever).
func Connect(ctx context.Context, address string, handler Handler, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			log.Info().Str("role", cfg.Role).Str("network", network).Str("addr", addr).Int("attempt", attempt).Msg("session.Connect connected")
			return New(conn, handler, cfg), nil
		}
		log.Warn().Err(err).Str("role", cfg.Role).Str("network", network).Str("addr", addr).Int("attempt", attempt).Msg("session.Connect dial failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrConnection, network, addr, attempt, err)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}
}

// New starts a session on an established connection. The session owns conn
// from here on.
func New(conn net.Conn, handler Handler, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	logger := log.With().Str("session_id", id).Str("role", cfg.Role).Str("remote", remote).Logger()

	s := &Session{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		log:     logger,
		writer:  NewWriter(conn, WriterOptions{WriteTimeout: cfg.WriteTimeout}),
		decoder: frame.NewDecoder(cfg.Limits),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.router = NewRouter(handler, s.send, RouterOptions{
		Role:                cfg.Role,
		MaxInflightHandlers: cfg.MaxInflightHandlers,
		HandlerQueue:        cfg.HandlerQueue,
		OrphanMemory:        cfg.OrphanMemory,
		ReplyToDispatch:     cfg.ReplyToDispatch,
		Logger:              &logger,
	})

	observability.AddActiveSessions(cfg.Role, 1)
	logger.Debug().Msg("session.New started")
	go s.readLoop()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Done is closed after teardown has settled every pending request.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed, or nil while it is open.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) Pending() int {
	return s.router.Pending()
}

func (s *Session) PendingRequests() []PendingRequest {
	return s.router.PendingRequests()
}

// Snapshot reports counters for the admin surface.
func (s *Session) Snapshot() observability.SessionStatus {
	remote := ""
	if addr := s.conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return observability.SessionStatus{
		ID:          s.id,
		Remote:      remote,
		Pending:     s.router.Pending(),
		FramesIn:    s.framesIn.Load(),
		FramesOut:   s.framesOut.Load(),
		ParseErrors: s.parseErrors.Load(),
		Orphans:     s.router.Orphans(),
		Closed:      s.closed(),
	}
}

// Request sends messageType with a fresh channel and waits for the reply's
// data. A reply carrying an ErrorPayload is returned as *RemoteError.
func (s *Session) Request(ctx context.Context, messageType string, payload any, origin string) (json.RawMessage, error) {
	f, err := frame.NewFrame(messageType, payload, "", origin)
	if err != nil {
		return nil, err
	}
	reply, err := s.RequestFrame(ctx, f)
	if err != nil {
		return nil, err
	}
	if rerr := remoteError(reply); rerr != nil {
		return nil, rerr
	}
	return reply.Data, nil
}

// RequestFrame sends f on a freshly generated channel and returns the whole
// reply frame. Any channel already set on f is replaced.
func (s *Session) RequestFrame(ctx context.Context, f frame.Frame) (frame.Frame, error) {
	if s.closed() {
		return frame.Frame{}, ErrSessionClosed
	}
	start := time.Now()
	f.Channel = uuid.NewString()
	replies, err := s.router.register(PendingRequest{
		Channel:      f.Channel,
		Type:         f.Type,
		Origin:       f.ExtensionName,
		RegisteredAt: start,
	})
	if err != nil {
		return frame.Frame{}, err
	}

	if err := s.send(ctx, f); err != nil {
		if !s.router.Abandon(f.Channel, err) {
			// teardown got there first
			return s.settle(f, <-replies, start)
		}
		<-replies
		s.observeRequest(f.Type, "send_error", start)
		return frame.Frame{}, err
	}

	waitCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	select {
	case r := <-replies:
		return s.settle(f, r, start)
	case <-waitCtx.Done():
		cause := waitCtx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: type=%q channel=%s after %s: %w", ErrTimeout, f.Type, f.Channel, time.Since(start).Round(time.Millisecond), context.DeadlineExceeded)
		}
		if s.router.Abandon(f.Channel, cause) {
			s.log.Debug().Str("type", f.Type).Str("channel", f.Channel).Err(cause).Msg("session.Request abandoned")
		}
		// Either our abandon or a racing reply/teardown settled the wait.
		return s.settle(f, <-replies, start)
	}
}

func (s *Session) settle(f frame.Frame, r Reply, start time.Time) (frame.Frame, error) {
	switch {
	case r.Err == nil:
		s.observeRequest(f.Type, "ok", start)
		return r.Frame, nil
	case errors.Is(r.Err, ErrTimeout):
		s.observeRequest(f.Type, "timeout", start)
	case errors.Is(r.Err, ErrSessionClosed):
		s.observeRequest(f.Type, "closed", start)
	default:
		s.observeRequest(f.Type, "cancelled", start)
	}
	return frame.Frame{}, r.Err
}

func (s *Session) observeRequest(messageType, outcome string, start time.Time) {
	observability.RecordRequest(s.cfg.Role, messageType, outcome, time.Since(start))
}

// Dispatch sends a channel-less frame. It returns once the frame is written.
func (s *Session) Dispatch(ctx context.Context, messageType string, payload any, origin string) error {
	if s.closed() {
		return ErrSessionClosed
	}
	f, err := frame.NewFrame(messageType, payload, "", origin)
	if err != nil {
		return err
	}
	return s.send(ctx, f)
}

// Close tears the session down; pending requests fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.teardown(ErrSessionClosed)
	return nil
}

func (s *Session) send(ctx context.Context, f frame.Frame) error {
	b, err := frame.EncodeWithLimits(f, s.cfg.Limits)
	if err != nil {
		return err
	}
	if err := s.writer.Submit(ctx, b); err != nil {
		return err
	}
	s.framesOut.Add(1)
	observability.RecordFrameSent(s.cfg.Role, f.Type)
	return nil
}

func (s *Session) readLoop() {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, errs := s.decoder.Feed(buf[:n])
			for _, perr := range errs {
				s.parseErrors.Add(1)
				observability.RecordParseError(s.cfg.Role)
				s.log.Warn().Err(perr).Msg("session.readLoop skipped frame")
			}
			for _, f := range frames {
				s.framesIn.Add(1)
				observability.RecordFrameReceived(s.cfg.Role, f.Type)
				s.router.OnFrameReceived(s.ctx, f)
			}
		}
		if err != nil {
			s.teardown(err)
			return
		}
	}
}

func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()

		s.cancel()
		settled := s.router.AbandonAll(ErrSessionClosed)
		s.router.Close()
		s.writer.Close()
		_ = s.conn.Close()
		observability.AddActiveSessions(s.cfg.Role, -1)

		event := s.log.Info()
		if !errors.Is(cause, ErrSessionClosed) && !isClosedConn(cause) {
			event = s.log.Warn().Err(cause)
		}
		event.Int("abandoned", settled).Msg("session closed")
		close(s.done)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
	}
	return s.ctx.Err() != nil
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
