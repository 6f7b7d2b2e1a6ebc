package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdPool_ReuseAndBound(t *testing.T) {
	p := newCmdPool(2)

	c1 := p.get()
	c2 := p.get()
	c3 := p.get()
	p.put(c1)
	p.put(c2)
	p.put(c3) // over capacity, dropped

	assert.Len(t, p.free, 2)

	r1 := p.get()
	r2 := p.get()
	assert.Contains(t, []*command{c1, c2, c3}, r1)
	assert.Contains(t, []*command{c1, c2, c3}, r2)
}

func TestCmdPool_ResetClearsStateAndBumpsGeneration(t *testing.T) {
	p := newCmdPool(4)

	c, _ := p.getAwait()
	c.kind = cmdPub
	c.subject = "s"
	c.reply = "r"
	c.sid = 7
	c.stagePayload([]byte("h"), []byte("data"))
	gen := c.gen

	p.put(c)

	assert.Equal(t, gen+1, c.gen)
	assert.Equal(t, cmdKind(0), c.kind)
	assert.Empty(t, c.subject)
	assert.Empty(t, c.reply)
	assert.Nil(t, c.payload)
	assert.Nil(t, c.hdr)
	assert.Nil(t, c.done)
	assert.Zero(t, c.sid)
}

func TestCommand_StaleCompletionRejected(t *testing.T) {
	p := newCmdPool(4)

	c, fut := p.getAwait()
	gen := c.gen
	p.put(c) // rental ends without completion; generation moves on

	c.completeIf(gen, nil)
	select {
	case <-fut.ch:
		t.Fatal("stale completion delivered")
	default:
	}
}

func TestCommand_CompleteSignalsOnce(t *testing.T) {
	p := newCmdPool(4)

	c, fut := p.getAwait()
	c.complete(nil)
	c.complete(ErrWriteFailed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fut.wait(ctx))

	select {
	case <-fut.ch:
		t.Fatal("completion delivered twice")
	default:
	}
}

func TestFuture_NilChannelIsImmediate(t *testing.T) {
	var f future
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	assert.NoError(t, f.wait(ctx))
}
