package session

import (
	"sort"
	"sync"
	"time"
)

// PendingRequest describes one registered channel awaiting its reply.
type PendingRequest struct {
	Channel      string
	Type         string
	Origin       string
	RegisteredAt time.Time
}

type pendingWait struct {
	info  PendingRequest
	reply chan Reply
}

// registry is the pending channel table for one session.
type registry struct {
	mu     sync.Mutex
	items  map[string]*pendingWait
	closed error
}

func newRegistry() *registry {
	return &registry{
		items: make(map[string]*pendingWait),
	}
}

func (r *registry) insert(info PendingRequest) (*pendingWait, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return nil, r.closed
	}
	if _, ok := r.items[info.Channel]; ok {
		return nil, ErrDuplicateChannel
	}
	w := &pendingWait{info: info, reply: make(chan Reply, 1)}
	r.items[info.Channel] = w
	return w, nil
}

// take removes and returns the entry for channel.
func (r *registry) take(channel string) (*pendingWait, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[channel]
	if ok {
		delete(r.items, channel)
	}
	return w, ok
}

// drain closes the registry to new entries and removes every entry.
func (r *registry) drain(cause error) []*pendingWait {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = cause
	}
	out := make([]*pendingWait, 0, len(r.items))
	for channel, w := range r.items {
		out = append(out, w)
		delete(r.items, channel)
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *registry) list() []PendingRequest {
	r.mu.Lock()
	out := make([]PendingRequest, 0, len(r.items))
	for _, w := range r.items {
		out = append(out, w.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].Channel < out[j].Channel
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}
