package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type WriterOptions struct {
	// WriteTimeout sets a per-write deadline when the destination supports it.
	WriteTimeout time.Duration
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

type writeRequest struct {
	ctx  context.Context
	buf  []byte
	done chan error
}

// Writer is the single writer for one connection. Submissions are handed to
// one goroutine over an unbuffered channel, so at most one write is in flight
// and blocked submitters are serviced in arrival order.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	queue     chan writeRequest
	closing   chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	wr := &Writer{
		w:       w,
		opts:    opts,
		queue:   make(chan writeRequest),
		closing: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go wr.loop()
	return wr
}

// Submit writes b as one unit and returns that write's outcome. A write that
// has already started runs to completion even if ctx is cancelled meanwhile.
func (wr *Writer) Submit(ctx context.Context, b []byte) error {
	select {
	case <-wr.closing:
		return ErrSessionClosed
	default:
	}

	req := writeRequest{ctx: ctx, buf: b, done: make(chan error, 1)}
	select {
	case wr.queue <- req:
	case <-wr.closing:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes. Submitters still waiting fail with
// ErrSessionClosed.
func (wr *Writer) Close() {
	wr.closeOnce.Do(func() {
		close(wr.closing)
	})
}

// Done is closed once the write loop has exited.
func (wr *Writer) Done() <-chan struct{} {
	return wr.exited
}

func (wr *Writer) loop() {
	defer close(wr.exited)
	for {
		select {
		case req := <-wr.queue:
			req.done <- wr.write(req)
		case <-wr.closing:
			for {
				select {
				case req := <-wr.queue:
					req.done <- ErrSessionClosed
				default:
					return
				}
			}
		}
	}
}

func (wr *Writer) write(req writeRequest) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	if dw, ok := wr.w.(deadlineWriter); ok && wr.opts.WriteTimeout > 0 {
		_ = dw.SetWriteDeadline(time.Now().Add(wr.opts.WriteTimeout))
	}
	if _, err := wr.w.Write(req.buf); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}
