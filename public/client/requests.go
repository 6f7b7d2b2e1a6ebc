package client

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nuid"
)

type reqAnswer struct {
	msg *Msg
	err error
}

// reqRegistry routes request/response traffic through a single wildcard
// inbox subscription. Each request gets a monotonic id and a reply subject
// of {prefix}{id}; the prefix carries a process-unique nuid so two clients
// never share a reply space.
type reqRegistry struct {
	prefix string

	mu      sync.Mutex
	waiters map[uint64]chan reqAnswer
	nextID  atomic.Uint64

	muxOnce sync.Once
}

func newReqRegistry(configuredPrefix string) *reqRegistry {
	return &reqRegistry{
		prefix:  configuredPrefix + nuid.Next() + ".",
		waiters: make(map[uint64]chan reqAnswer),
	}
}

// ensureMux installs the wildcard inbox subscription on first use. It is a
// regular subscription, so reconnect replay re-establishes it.
func (r *reqRegistry) ensureMux(c *Client) {
	r.muxOnce.Do(func() {
		sub := c.subs.add(c, r.prefix+"*", "", r.muxHandler)
		c.enqueueSub(sub)
	})
}

func (r *reqRegistry) muxHandler(msg *Msg) {
	tail, ok := strings.CutPrefix(msg.Subject, r.prefix)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(tail, 10, 64)
	if err != nil {
		return
	}

	r.mu.Lock()
	ch := r.waiters[id]
	delete(r.waiters, id)
	r.mu.Unlock()
	if ch == nil {
		// waiter cancelled or already reset
		return
	}

	// handed off to another goroutine; the receive buffer view must not
	// escape the callback
	msg.Data = append([]byte(nil), msg.Data...)
	ch <- reqAnswer{msg: msg}
}

func (r *reqRegistry) register() (uint64, chan reqAnswer) {
	id := r.nextID.Add(1)
	ch := make(chan reqAnswer, 1)
	r.mu.Lock()
	r.waiters[id] = ch
	r.mu.Unlock()
	return id, ch
}

func (r *reqRegistry) replySubject(id uint64) string {
	return r.prefix + strconv.FormatUint(id, 10)
}

func (r *reqRegistry) cancel(id uint64) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

// reset fails every pending waiter. Used on connection loss and on close.
func (r *reqRegistry) reset(err error) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[uint64]chan reqAnswer)
	r.mu.Unlock()
	for _, ch := range waiters {
		ch <- reqAnswer{err: err}
	}
}
