package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

type cmdKind uint8

const (
	cmdConnect cmdKind = iota + 1
	cmdPing
	cmdPong
	cmdPub
	cmdSub
	cmdSubBatch
	cmdUnsub
	cmdRaw
)

type replaySub struct {
	sid     uint64
	subject string
	queue   string
}

// command is a unit of outbound protocol work. Commands are rented from the
// pool, enqueued, serialized exactly once by the write loop, completed after
// the flush containing their bytes succeeds, and returned to the pool. The
// generation counter is bumped on every release; a completion handle from a
// prior rental no longer matches and is ignored.
type command struct {
	next atomic.Pointer[command]

	kind    cmdKind
	subject string
	reply   string
	queue   string
	hdr     []byte
	payload *bytebufferpool.ByteBuffer
	connect []byte
	sid     uint64
	subs    []replaySub
	repeat  int

	gen  uint64
	done chan error
}

// stagePayload copies data into a pooled buffer owned by the command.
func (c *command) stagePayload(hdr []byte, data []byte) {
	c.payload = bytebufferpool.Get()
	if len(hdr) > 0 {
		c.hdr = hdr
	}
	c.payload.B = append(c.payload.B, data...)
}

func (c *command) complete(err error) {
	if c.done != nil {
		c.done <- err
		c.done = nil
	}
}

func (c *command) completeIf(gen uint64, err error) {
	if c.gen == gen {
		c.complete(err)
	}
}

func (c *command) reset() {
	if c.payload != nil {
		bytebufferpool.Put(c.payload)
		c.payload = nil
	}
	c.next.Store(nil)
	c.kind = 0
	c.subject, c.reply, c.queue = "", "", ""
	c.hdr, c.connect, c.subs = nil, nil, nil
	c.sid, c.repeat = 0, 0
	c.done = nil
	c.gen++
}

// future is the await half of an async command. The channel is written by
// the write loop exactly once.
type future struct {
	ch <-chan error
}

func (f future) wait(ctx context.Context) error {
	if f.ch == nil {
		return nil
	}
	select {
	case err := <-f.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cmdPool is a bounded free-list of command instances.
type cmdPool struct {
	mu   sync.Mutex
	free []*command
	max  int
}

func newCmdPool(max int) *cmdPool {
	return &cmdPool{max: max}
}

func (p *cmdPool) get() *command {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return c
	}
	p.mu.Unlock()
	return &command{}
}

// getAwait rents a command with a fresh completion channel attached.
func (p *cmdPool) getAwait() (*command, future) {
	c := p.get()
	ch := make(chan error, 1)
	c.done = ch
	return c, future{ch: ch}
}

func (p *cmdPool) put(c *command) {
	c.reset()
	p.mu.Lock()
	if len(p.free) < p.max {
		p.free = append(p.free, c)
	}
	p.mu.Unlock()
}
