package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReqRegistry_PrefixIsProcessUnique(t *testing.T) {
	r1 := newReqRegistry("_INBOX.")
	r2 := newReqRegistry("_INBOX.")

	assert.True(t, strings.HasPrefix(r1.prefix, "_INBOX."))
	assert.True(t, strings.HasSuffix(r1.prefix, "."))
	assert.NotEqual(t, r1.prefix, r2.prefix)
}

func TestReqRegistry_MuxDeliversToWaiter(t *testing.T) {
	r := newReqRegistry("_INBOX.")

	id, ch := r.register()
	r.muxHandler(&Msg{Subject: r.replySubject(id), Data: []byte("v")})

	select {
	case ans := <-ch:
		require.NoError(t, ans.err)
		assert.Equal(t, []byte("v"), ans.msg.Data)
	default:
		t.Fatal("waiter not signalled")
	}
}

func TestReqRegistry_MuxCopiesPayload(t *testing.T) {
	r := newReqRegistry("_INBOX.")

	id, ch := r.register()
	buf := []byte("value")
	r.muxHandler(&Msg{Subject: r.replySubject(id), Data: buf})
	copy(buf, "XXXXX")

	ans := <-ch
	assert.Equal(t, []byte("value"), ans.msg.Data)
}

func TestReqRegistry_CancelRemovesWaiter(t *testing.T) {
	r := newReqRegistry("_INBOX.")

	id, ch := r.register()
	r.cancel(id)
	r.muxHandler(&Msg{Subject: r.replySubject(id), Data: []byte("late")})

	select {
	case <-ch:
		t.Fatal("cancelled waiter received a response")
	default:
	}
}

func TestReqRegistry_ResetFailsAllWaitersExactlyOnce(t *testing.T) {
	r := newReqRegistry("_INBOX.")

	_, ch1 := r.register()
	_, ch2 := r.register()
	r.reset(ErrConnectionLost)

	for _, ch := range []chan reqAnswer{ch1, ch2} {
		select {
		case ans := <-ch:
			assert.ErrorIs(t, ans.err, ErrConnectionLost)
		default:
			t.Fatal("waiter not failed")
		}
		select {
		case <-ch:
			t.Fatal("waiter signalled twice")
		default:
		}
	}

	// waiters registered after reset are unaffected until the next reset
	id3, ch3 := r.register()
	r.muxHandler(&Msg{Subject: r.replySubject(id3), Data: []byte("ok")})
	ans := <-ch3
	require.NoError(t, ans.err)
}

func TestReqRegistry_IgnoresForeignSubjects(t *testing.T) {
	r := newReqRegistry("_INBOX.")

	_, ch := r.register()
	r.muxHandler(&Msg{Subject: "other.subject", Data: []byte("x")})
	r.muxHandler(&Msg{Subject: r.prefix + "not-a-number", Data: []byte("x")})

	select {
	case <-ch:
		t.Fatal("foreign subject delivered to waiter")
	default:
	}
}
