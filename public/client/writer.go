package client

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/fujin-io/nats-client/internal/observability"
)

// cmdQueue is an intrusive multi-producer single-consumer queue (Vyukov
// style). Producers swap the head and link the previous node; the single
// consumer walks next pointers from the tail. push never blocks and never
// locks.
type cmdQueue struct {
	head atomic.Pointer[command]
	tail *command
	stub command
}

func (q *cmdQueue) init() {
	q.head.Store(&q.stub)
	q.tail = &q.stub
}

func (q *cmdQueue) push(c *command) {
	c.next.Store(nil)
	prev := q.head.Swap(c)
	prev.next.Store(c)
}

// pop returns the next command, or nil when the queue is empty or a producer
// is mid-push (the producer signals once the link is visible). Single
// consumer only.
func (q *cmdQueue) pop() *command {
	tail := q.tail
	next := tail.next.Load()

	if tail == &q.stub {
		if next == nil {
			return nil
		}
		q.tail = next
		tail = next
		next = tail.next.Load()
	}

	if next != nil {
		q.tail = next
		return tail
	}

	if tail != q.head.Load() {
		return nil
	}

	q.push(&q.stub)
	next = tail.next.Load()
	if next != nil {
		q.tail = next
		return tail
	}
	return nil
}

// outbound owns everything that survives a reconnect on the write side: the
// command queue, the priority lane and the coalescing buffer. The buffer is
// touched only by the single write loop of the current socket.
type outbound struct {
	mu    sync.Mutex
	cond  *sync.Cond
	pri   []*command
	gated bool
	close bool

	q cmdQueue
	n atomic.Int64

	buf  *bytebufferpool.ByteBuffer
	hw   int
	pool *cmdPool

	stats *connStats
	l     *slog.Logger
}

func newOutbound(hw int, p *cmdPool, stats *connStats, l *slog.Logger) *outbound {
	o := &outbound{
		buf:   bytebufferpool.Get(),
		hw:    hw,
		pool:  p,
		gated: true,
		stats: stats,
		l:     l,
	}
	o.cond = sync.NewCond(&o.mu)
	o.q.init()
	return o
}

func (o *outbound) enqueue(c *command) {
	o.n.Add(1)
	o.q.push(c)
	o.mu.Lock()
	o.cond.Signal()
	o.mu.Unlock()
}

// enqueuePriority places commands on the priority lane, serialized strictly
// before anything on the queue.
func (o *outbound) enqueuePriority(cmds ...*command) {
	o.n.Add(int64(len(cmds)))
	o.mu.Lock()
	o.pri = append(o.pri, cmds...)
	o.cond.Signal()
	o.mu.Unlock()
}

// setGated controls whether the write loop may consume the normal queue.
// The queue stays gated from socket creation until the handshake completes,
// so replayed SUBs and CONNECT always precede buffered user commands.
func (o *outbound) setGated(gated bool) {
	o.mu.Lock()
	o.gated = gated
	o.cond.Signal()
	o.mu.Unlock()
}

func (o *outbound) shutdown() {
	o.mu.Lock()
	o.close = true
	o.cond.Broadcast()
	o.mu.Unlock()
}

func (o *outbound) wake() {
	o.mu.Lock()
	o.cond.Broadcast()
	o.mu.Unlock()
}

// clearPriority fails and releases everything on the priority lane. Called
// with no write loop running.
func (o *outbound) clearPriority(err error) {
	o.mu.Lock()
	pri := o.pri
	o.pri = nil
	o.mu.Unlock()
	for _, c := range pri {
		o.n.Add(-1)
		c.complete(err)
		o.pool.put(c)
	}
}

// failQueued fails and releases every queued command. Called with no write
// loop running.
func (o *outbound) failQueued(err error) {
	o.clearPriority(err)
	for {
		c := o.q.pop()
		if c == nil {
			return
		}
		o.n.Add(-1)
		c.complete(err)
		o.pool.put(c)
	}
}

// drain waits until the queue has been fully serialized and flushed, up to
// timeout. Used by Close for a bounded graceful drain.
func (o *outbound) drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.n.Load() == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return o.n.Load() == 0
}

// next blocks until a command is available, a flush is due, or the loop must
// exit. Returns (nil, true) to request a flush of unflushed bytes.
func (o *outbound) next(s *socket, unflushed bool) (*command, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if o.close || s.isClosed() {
			return nil, false
		}
		if len(o.pri) > 0 {
			c := o.pri[0]
			o.pri = o.pri[1:]
			return c, true
		}
		if !o.gated {
			if c := o.q.pop(); c != nil {
				return c, true
			}
		}
		if unflushed {
			return nil, true
		}
		o.cond.Wait()
	}
}

// writeLoop drains the priority lane and the command queue into the shared
// buffer and flushes it to the socket. It is the only goroutine touching the
// buffer. Exits when the socket dies or the outbound is shut down; queued
// commands that were not serialized stay queued for the next socket.
func (o *outbound) writeLoop(s *socket, done chan<- struct{}) {
	defer close(done)

	batch := make([]*command, 0, 128)

	for {
		cmd, ok := o.next(s, len(batch) > 0 || o.buf.Len() > 0)
		if !ok {
			if len(batch) > 0 {
				o.failBatch(batch, ErrConnectionLost)
				batch = batch[:0]
			}
			o.buf.Reset()
			return
		}

		if cmd != nil {
			if err := o.serialize(cmd); err != nil {
				o.l.Error("serialize command", "err", err)
				o.n.Add(-1)
				cmd.complete(err)
				o.pool.put(cmd)
				continue
			}
			batch = append(batch, cmd)
			if o.buf.Len() < o.hw {
				continue
			}
		}

		if o.buf.Len() == 0 {
			batch = o.completeBatch(batch, nil)
			continue
		}

		n, err := s.write(o.buf.B)
		observability.AddBytesOut(n)
		o.stats.outBytes.Add(uint64(n))
		o.buf.Reset()
		if err != nil {
			werr := fmt.Errorf("%w: %w", ErrWriteFailed, err)
			o.failBatch(batch, werr)
			s.closeWith(werr)
			return
		}
		batch = o.completeBatch(batch, nil)
	}
}

func (o *outbound) completeBatch(batch []*command, err error) []*command {
	for _, c := range batch {
		o.n.Add(-1)
		c.complete(err)
		o.pool.put(c)
	}
	return batch[:0]
}

func (o *outbound) failBatch(batch []*command, err error) {
	for _, c := range batch {
		o.n.Add(-1)
		c.complete(err)
		o.pool.put(c)
	}
}

func (o *outbound) serialize(c *command) error {
	b := o.buf
	switch c.kind {
	case cmdConnect:
		b.B = append(b.B, "CONNECT "...)
		b.B = append(b.B, c.connect...)
		b.B = append(b.B, crlf...)
	case cmdPing:
		b.B = append(b.B, "PING"+crlf...)
	case cmdPong:
		b.B = append(b.B, "PONG"+crlf...)
	case cmdPub:
		var data []byte
		if c.payload != nil {
			data = c.payload.B
		}
		b.B = appendPub(b.B, c.subject, c.reply, c.hdr, data)
	case cmdSub:
		b.B = appendSub(b.B, c.subject, c.queue, c.sid)
	case cmdSubBatch:
		for _, sub := range c.subs {
			b.B = appendSub(b.B, sub.subject, sub.queue, sub.sid)
		}
	case cmdUnsub:
		b.B = append(b.B, "UNSUB "...)
		b.B = strconv.AppendUint(b.B, c.sid, 10)
		b.B = append(b.B, crlf...)
	case cmdRaw:
		repeat := c.repeat
		if repeat <= 0 {
			repeat = 1
		}
		for range repeat {
			if c.payload != nil {
				b.B = append(b.B, c.payload.B...)
			}
		}
	default:
		return fmt.Errorf("nats: unknown command kind %d", c.kind)
	}
	return nil
}

// appendPub encodes a single PUB or HPUB frame.
func appendPub(dst []byte, subject, reply string, hdr, data []byte) []byte {
	if len(hdr) > 0 {
		dst = append(dst, "HPUB "...)
	} else {
		dst = append(dst, "PUB "...)
	}
	dst = append(dst, subject...)
	dst = append(dst, ' ')
	if reply != "" {
		dst = append(dst, reply...)
		dst = append(dst, ' ')
	}
	if len(hdr) > 0 {
		dst = strconv.AppendInt(dst, int64(len(hdr)), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(hdr)+len(data)), 10)
	} else {
		dst = strconv.AppendInt(dst, int64(len(data)), 10)
	}
	dst = append(dst, crlf...)
	dst = append(dst, hdr...)
	dst = append(dst, data...)
	return append(dst, crlf...)
}

func appendSub(dst []byte, subject, queue string, sid uint64) []byte {
	dst = append(dst, "SUB "...)
	dst = append(dst, subject...)
	dst = append(dst, ' ')
	if queue != "" {
		dst = append(dst, queue...)
		dst = append(dst, ' ')
	}
	dst = strconv.AppendUint(dst, sid, 10)
	return append(dst, crlf...)
}
