package client

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/nats-client/public/client/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(config.ClientConfig{}, WithLogger(discardLogger()))
	require.NoError(t, err)
	return c
}

func newTestSocket(t *testing.T) *socket {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		_ = c1.Close()
		_ = c2.Close()
	})
	return newSocket(c1, "test")
}

type recvMsg struct {
	subject string
	reply   string
	header  Header
	data    string
}

// collectClient returns a client with a single subscription (sid 1) that
// records everything it receives.
func collectClient(t *testing.T) (*Client, *[]recvMsg) {
	t.Helper()
	c := newTestClient(t)
	got := &[]recvMsg{}
	c.subs.add(c, "s", "", func(m *Msg) {
		*got = append(*got, recvMsg{
			subject: m.Subject,
			reply:   m.Reply,
			header:  m.Header,
			data:    string(m.Data),
		})
	})
	return c, got
}

func TestParse_PartialPayloadAcrossChunks(t *testing.T) {
	c, got := collectClient(t)
	p := newParser(c, newTestSocket(t))

	require.NoError(t, p.parse([]byte("MSG s 1 5\r\nhel")))
	require.Len(t, *got, 0)
	require.NoError(t, p.parse([]byte("lo\r\n")))

	require.Len(t, *got, 1)
	assert.Equal(t, "hello", (*got)[0].data)
	assert.Equal(t, "s", (*got)[0].subject)
}

func TestParse_MsgWithReply(t *testing.T) {
	c, got := collectClient(t)
	p := newParser(c, newTestSocket(t))

	require.NoError(t, p.parse([]byte("MSG s 1 reply.to 2\r\nhi\r\n")))

	require.Len(t, *got, 1)
	assert.Equal(t, "reply.to", (*got)[0].reply)
	assert.Equal(t, "hi", (*got)[0].data)
}

func TestParse_EmptyPayload(t *testing.T) {
	c, got := collectClient(t)
	p := newParser(c, newTestSocket(t))

	require.NoError(t, p.parse([]byte("MSG s 1 0\r\n\r\n")))

	require.Len(t, *got, 1)
	assert.Equal(t, "", (*got)[0].data)
}

func TestParse_HMsg(t *testing.T) {
	c, got := collectClient(t)
	p := newParser(c, newTestSocket(t))

	hdr := "NATS/1.0\r\nFoo: bar\r\n\r\n"
	frame := fmt.Sprintf("HMSG s 1 %d %d\r\n%shello\r\n", len(hdr), len(hdr)+5, hdr)
	require.NoError(t, p.parse([]byte(frame)))

	require.Len(t, *got, 1)
	assert.Equal(t, "hello", (*got)[0].data)
	assert.Equal(t, "bar", (*got)[0].header.Get("Foo"))
}

func TestParse_HMsgMalformedHeadersClosesSocket(t *testing.T) {
	c, got := collectClient(t)
	s := newTestSocket(t)
	p := newParser(c, s)

	hdr := "BOGUS/9.9\r\n\r\n"
	frame := fmt.Sprintf("HMSG s 1 %d %d\r\n%shello\r\n", len(hdr), len(hdr)+5, hdr)
	require.NoError(t, p.parse([]byte(frame)))

	assert.Len(t, *got, 0)
	assert.True(t, s.isClosed())
	assert.ErrorIs(t, s.closeErr(), ErrProtocol)
}

func TestParse_Info(t *testing.T) {
	c := newTestClient(t)
	p := newParser(c, newTestSocket(t))

	require.NoError(t, p.parse([]byte(`INFO {"server_id":"abc","headers":true,"max_payload":1048576,"connect_urls":["10.0.0.1:4222"]}`+crlf)))

	info := c.ServerInfo()
	assert.Equal(t, "abc", info.ID)
	assert.True(t, info.Headers)
	assert.Equal(t, []string{"10.0.0.1:4222"}, info.ConnectURLs)
}

func TestParse_InfoSignalsHandshake(t *testing.T) {
	c := newTestClient(t)
	s := newTestSocket(t)
	p := newParser(c, s)

	hs := &handshake{s: s, info: newSignal(), pong: newSignal()}
	c.hs.Store(hs)

	require.NoError(t, p.parse([]byte(`INFO {"server_id":"abc"}`+crlf)))
	select {
	case <-hs.info.done():
	default:
		t.Fatal("info signal not completed")
	}
}

func TestParse_ErrDuringHandshakeFailsPongSignal(t *testing.T) {
	c := newTestClient(t)
	s := newTestSocket(t)
	p := newParser(c, s)

	hs := &handshake{s: s, info: newSignal(), pong: newSignal()}
	c.hs.Store(hs)

	require.NoError(t, p.parse([]byte("-ERR 'Authorization Violation'\r\n")))
	select {
	case <-hs.pong.done():
		assert.Error(t, hs.pong.err)
	default:
		t.Fatal("pong signal not completed")
	}
}

func TestParse_AuthorizationErrAbortsSocket(t *testing.T) {
	c := newTestClient(t)
	s := newTestSocket(t)
	p := newParser(c, s)

	require.NoError(t, p.parse([]byte("-ERR 'Authorization Violation'\r\n")))
	assert.True(t, s.isClosed())
	assert.ErrorIs(t, s.closeErr(), ErrAuthorization)
}

func TestParse_PongCompletesOldestPingWaiter(t *testing.T) {
	c := newTestClient(t)
	p := newParser(c, newTestSocket(t))

	pw := pingWaiter{ch: make(chan pingResult, 1)}
	c.pongMu.Lock()
	c.pongs = append(c.pongs, pw)
	c.pongMu.Unlock()

	require.NoError(t, p.parse([]byte("PONG\r\n")))
	select {
	case r := <-pw.ch:
		require.NoError(t, r.err)
	default:
		t.Fatal("ping waiter not completed")
	}
}

func TestParse_UnknownProtocolByte(t *testing.T) {
	c := newTestClient(t)
	p := newParser(c, newTestSocket(t))

	err := p.parse([]byte("XYZ\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParse_BadMsgArgs(t *testing.T) {
	c := newTestClient(t)

	for _, frame := range []string{
		"MSG s\r\n",
		"MSG s one 5\r\n",
		"MSG s 1 -5\r\n",
		"HMSG s 1 10 5\r\n",
	} {
		p := newParser(c, newTestSocket(t))
		err := p.parse([]byte(frame))
		assert.ErrorIs(t, err, ErrProtocol, "frame %q", frame)
	}
}

// Feeding the same frame sequence split at every byte boundary must produce
// the same dispatch sequence as one contiguous chunk.
func TestParse_SplitInvariance(t *testing.T) {
	hdr := "NATS/1.0\r\nFoo: bar\r\n\r\n"
	stream := []byte("INFO {\"server_id\":\"abc\",\"headers\":true}\r\n" +
		"+OK\r\n" +
		"MSG s 1 5\r\nhello\r\n" +
		fmt.Sprintf("HMSG s 1 %d %d\r\n%sworld\r\n", len(hdr), len(hdr)+5, hdr) +
		"MSG s 1 reply.to 0\r\n\r\n" +
		"PONG\r\n")

	feed := func(chunks ...[]byte) []recvMsg {
		c, got := collectClient(t)
		p := newParser(c, newTestSocket(t))
		for _, chunk := range chunks {
			require.NoError(t, p.parse(chunk))
		}
		return *got
	}

	want := feed(stream)
	require.Len(t, want, 3)

	for i := 1; i < len(stream); i++ {
		got := feed(stream[:i], stream[i:])
		assert.Equal(t, want, got, "split at %d", i)
	}
}
