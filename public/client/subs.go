package client

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// MsgHandler is invoked for every message delivered to a subscription.
// Unless the client was configured with a dispatch pool, the handler runs on
// the reader goroutine and msg.Data is a view into the receive buffer: copy
// it to retain it past the callback.
type MsgHandler func(msg *Msg)

// RequestHandler serves inbound requests; the returned bytes are published
// to the request's reply subject.
type RequestHandler func(msg *Msg) ([]byte, error)

// Subscription is a registered interest in a subject. Unsubscribe releases
// it.
type Subscription struct {
	sid     uint64
	subject string
	queue   string
	cb      MsgHandler
	c       *Client
	closed  atomic.Bool
}

func (s *Subscription) Subject() string { return s.subject }
func (s *Subscription) Queue() string   { return s.queue }

// Unsubscribe removes the subscription and enqueues UNSUB.
func (s *Subscription) Unsubscribe() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.c.subs.remove(s.sid)
	if s.c.disposed.Load() {
		return ErrDisposed
	}
	cmd := s.c.pool.get()
	cmd.kind = cmdUnsub
	cmd.sid = s.sid
	s.c.out.enqueue(cmd)
	return nil
}

// subRegistry maps sid to subscription. Sids are unique for the lifetime of
// the client. Routing is per-sid: the server binds sid to subject at SUB
// time and echoes it on every MSG.
type subRegistry struct {
	mu   sync.RWMutex
	subs map[uint64]*Subscription
	sid  atomic.Uint64

	dispatchPool *ants.Pool
	l            *slog.Logger
}

func newSubRegistry(dispatchPoolSize int, l *slog.Logger) (*subRegistry, error) {
	r := &subRegistry{
		subs: make(map[uint64]*Subscription),
		l:    l,
	}
	if dispatchPoolSize > 0 {
		p, err := ants.NewPool(dispatchPoolSize, ants.WithNonblocking(false))
		if err != nil {
			return nil, fmt.Errorf("new dispatch pool: %w", err)
		}
		r.dispatchPool = p
	}
	return r, nil
}

func (r *subRegistry) add(c *Client, subject, queue string, cb MsgHandler) *Subscription {
	sub := &Subscription{
		sid:     r.sid.Add(1),
		subject: subject,
		queue:   queue,
		cb:      cb,
		c:       c,
	}
	r.mu.Lock()
	r.subs[sub.sid] = sub
	r.mu.Unlock()
	return sub
}

func (r *subRegistry) remove(sid uint64) {
	r.mu.Lock()
	delete(r.subs, sid)
	r.mu.Unlock()
}

// snapshot lists active subscriptions for SUB replay after a reconnect.
func (r *subRegistry) snapshot() []replaySub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]replaySub, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, replaySub{sid: sub.sid, subject: sub.subject, queue: sub.queue})
	}
	return out
}

// dispatch routes a message to its subscription. Handler panics are caught
// and logged, never propagated to the reader. With a dispatch pool the
// message data is copied first, since the receive buffer is reused.
func (r *subRegistry) dispatch(sid uint64, msg *Msg) {
	r.mu.RLock()
	sub := r.subs[sid]
	r.mu.RUnlock()
	if sub == nil {
		// unsubscribed while frames were in flight
		return
	}

	run := func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.l.Error("subscription handler panic", "subject", sub.subject, "panic", rec)
			}
		}()
		sub.cb(msg)
	}

	if r.dispatchPool != nil {
		msg.Data = append([]byte(nil), msg.Data...)
		if err := r.dispatchPool.Submit(run); err != nil {
			run()
		}
		return
	}
	run()
}

func (r *subRegistry) clearAll() {
	r.mu.Lock()
	for sid, sub := range r.subs {
		sub.closed.Store(true)
		delete(r.subs, sid)
	}
	r.mu.Unlock()
}

func (r *subRegistry) close() {
	if r.dispatchPool != nil {
		r.dispatchPool.Release()
	}
}
