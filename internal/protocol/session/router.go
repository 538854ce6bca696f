package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol/frame"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Handler interprets a frame no local request is waiting for and returns the
// reply payload.
type Handler interface {
	Handle(ctx context.Context, f frame.Frame) (any, error)
}

type HandlerFunc func(ctx context.Context, f frame.Frame) (any, error)

func (fn HandlerFunc) Handle(ctx context.Context, f frame.Frame) (any, error) {
	return fn(ctx, f)
}

// ReplyFunc transmits a reply frame built by the router.
type ReplyFunc func(ctx context.Context, f frame.Frame) error

// Reply settles one registered wait: either the matching frame or the reason
// the wait was abandoned.
type Reply struct {
	Frame frame.Frame
	Err   error
}

type RouterOptions struct {
	Role string
	// MaxInflightHandlers bounds concurrent handler calls; 1 handles frames
	// one at a time in receive order.
	MaxInflightHandlers int
	HandlerQueue        int
	OrphanMemory        int
	// ReplyToDispatch also replies to frames that carry no channel. Off by
	// default: only channel-bearing frames get a reply.
	ReplyToDispatch bool
	Logger          *zerolog.Logger
}

type inbound struct {
	ctx   context.Context
	frame frame.Frame
}

// Router routes inbound frames by channel: a registered channel resolves its
// waiter, anything else goes to the handler. Handler calls start in receive
// order; one dispatcher goroutine takes a slot for each queued frame before
// starting the next.
type Router struct {
	handler   Handler
	reply     ReplyFunc
	opts      RouterOptions
	log       zerolog.Logger
	pending   *registry
	abandoned *lru.Cache
	sem       *semaphore.Weighted
	inflight  sync.WaitGroup
	orphans   atomic.Uint64

	queueMu sync.RWMutex
	queue   chan inbound
	closed  bool
}

func NewRouter(handler Handler, reply ReplyFunc, opts RouterOptions) *Router {
	if opts.MaxInflightHandlers <= 0 {
		opts.MaxInflightHandlers = DefaultConfig().MaxInflightHandlers
	}
	if opts.HandlerQueue <= 0 {
		opts.HandlerQueue = DefaultConfig().HandlerQueue
	}
	if opts.OrphanMemory <= 0 {
		opts.OrphanMemory = DefaultConfig().OrphanMemory
	}
	if strings.TrimSpace(opts.Role) == "" {
		opts.Role = DefaultConfig().Role
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	abandoned, err := lru.New(opts.OrphanMemory)
	if err != nil {
		// only fails for a non-positive size, which is ruled out above
		panic(err)
	}
	r := &Router{
		handler:   handler,
		reply:     reply,
		opts:      opts,
		log:       logger,
		pending:   newRegistry(),
		abandoned: abandoned,
		sem:       semaphore.NewWeighted(int64(opts.MaxInflightHandlers)),
		queue:     make(chan inbound, opts.HandlerQueue),
	}
	go r.dispatchLoop()
	return r
}

// RegisterWait reserves channel for exactly one reply.
func (r *Router) RegisterWait(channel string) (<-chan Reply, error) {
	return r.register(PendingRequest{Channel: channel})
}

func (r *Router) register(info PendingRequest) (<-chan Reply, error) {
	if strings.TrimSpace(info.Channel) == "" {
		return nil, ErrEmptyChannel
	}
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = time.Now()
	}
	w, err := r.pending.insert(info)
	if err != nil {
		if err == ErrDuplicateChannel {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, info.Channel)
		}
		return nil, err
	}
	r.abandoned.Remove(info.Channel)
	observability.AddPendingRequests(r.opts.Role, 1)
	return w.reply, nil
}

// OnFrameReceived resolves the waiter registered for f.Channel, drops late
// replies to abandoned channels, and queues everything else for the handler.
// It blocks only when the handler queue is full.
func (r *Router) OnFrameReceived(ctx context.Context, f frame.Frame) {
	if f.HasChannel() {
		if w, ok := r.pending.take(f.Channel); ok {
			observability.AddPendingRequests(r.opts.Role, -1)
			w.reply <- Reply{Frame: f}
			return
		}
		if r.abandoned.Remove(f.Channel) {
			r.orphans.Add(1)
			observability.RecordOrphanedReply(r.opts.Role)
			r.log.Warn().Str("channel", f.Channel).Str("type", f.Type).Msg("session.Router dropped reply for abandoned channel")
			return
		}
	}
	r.dispatch(ctx, f)
}

// Abandon settles the wait on channel with cause. It reports false when the
// channel was no longer registered.
func (r *Router) Abandon(channel string, cause error) bool {
	w, ok := r.pending.take(channel)
	if !ok {
		return false
	}
	r.abandoned.Add(channel, time.Now())
	observability.AddPendingRequests(r.opts.Role, -1)
	w.reply <- Reply{Err: cause}
	return true
}

// AbandonAll settles every registered wait with cause and refuses new
// registrations from then on. It returns how many waits were settled.
func (r *Router) AbandonAll(cause error) int {
	waits := r.pending.drain(cause)
	for _, w := range waits {
		w.reply <- Reply{Err: cause}
	}
	if len(waits) > 0 {
		observability.AddPendingRequests(r.opts.Role, -len(waits))
	}
	return len(waits)
}

func (r *Router) Pending() int {
	return r.pending.len()
}

// PendingRequests lists registered channels, oldest first.
func (r *Router) PendingRequests() []PendingRequest {
	return r.pending.list()
}

func (r *Router) Orphans() uint64 {
	return r.orphans.Load()
}

// Wait blocks until every frame queued for the handler so far has been
// handled or dropped.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// Close stops accepting frames for the handler. Frames already queued are
// dropped once their context is done.
func (r *Router) Close() {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
}

func (r *Router) dispatch(ctx context.Context, f frame.Frame) {
	r.queueMu.RLock()
	defer r.queueMu.RUnlock()
	if r.closed {
		r.log.Debug().Str("type", f.Type).Str("channel", f.Channel).Msg("session.Router closed, frame dropped")
		return
	}
	r.inflight.Add(1)
	select {
	case r.queue <- inbound{ctx: ctx, frame: f}:
	case <-ctx.Done():
		r.inflight.Done()
		r.log.Warn().Err(ctx.Err()).Str("type", f.Type).Str("channel", f.Channel).Msg("session.Router frame dropped before queueing")
	}
}

func (r *Router) dispatchLoop() {
	for in := range r.queue {
		err := in.ctx.Err()
		if err == nil {
			err = r.sem.Acquire(in.ctx, 1)
		}
		if err != nil {
			r.log.Warn().Err(err).Str("type", in.frame.Type).Str("channel", in.frame.Channel).Msg("session.Router handler slot unavailable")
			r.inflight.Done()
			continue
		}
		go func(in inbound) {
			defer r.inflight.Done()
			defer r.sem.Release(1)
			r.handle(in.ctx, in.frame)
		}(in)
	}
}

func (r *Router) handle(ctx context.Context, f frame.Frame) {
	data := r.invoke(ctx, f)
	if !f.HasChannel() && !r.opts.ReplyToDispatch {
		return
	}
	if r.reply == nil {
		return
	}
	if err := r.reply(ctx, f.Reply(data)); err != nil {
		r.log.Warn().Err(err).Str("type", f.Type).Str("channel", f.Channel).Msg("session.Router reply not sent")
	}
}

func (r *Router) invoke(ctx context.Context, f frame.Frame) (data []byte) {
	defer func() {
		if p := recover(); p != nil {
			observability.RecordHandlerError(r.opts.Role, f.Type)
			r.log.Error().Interface("panic", p).Str("type", f.Type).Msg("session.Router handler panicked")
			data = errorData(fmt.Errorf("handler panic: %v", p))
		}
	}()

	if r.handler == nil {
		return errorData(ErrNoHandler)
	}
	result, err := r.handler.Handle(ctx, f)
	if err != nil {
		observability.RecordHandlerError(r.opts.Role, f.Type)
		r.log.Debug().Err(err).Str("type", f.Type).Str("origin", f.Origin()).Msg("session.Router handler failed")
		return errorData(err)
	}
	out, err := frame.MarshalPayload(result)
	if err != nil {
		observability.RecordHandlerError(r.opts.Role, f.Type)
		return errorData(err)
	}
	return out
}
