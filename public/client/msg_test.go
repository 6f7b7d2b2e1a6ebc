package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader_KeyValues(t *testing.T) {
	h, err := parseHeader([]byte("NATS/1.0\r\nFoo: bar\r\nFoo: baz\r\nX-Id: 7\r\n\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "bar", h.Get("Foo"))
	assert.Equal(t, []string{"bar", "baz"}, h.Values("Foo"))
	assert.Equal(t, "7", h.Get("X-Id"))
	assert.Equal(t, "", h.Get("Missing"))
}

func TestParseHeader_InlineStatus(t *testing.T) {
	h, err := parseHeader([]byte("NATS/1.0 503 No Responders Available For Request\r\n\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "503", h.Get(statusHdr))
	assert.Equal(t, "No Responders Available For Request", h.Get(descriptionHdr))
}

func TestParseHeader_StatusOnly(t *testing.T) {
	h, err := parseHeader([]byte("NATS/1.0 503\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "503", h.Get(statusHdr))
}

func TestParseHeader_Malformed(t *testing.T) {
	for _, data := range []string{
		"HTTP/1.1\r\n\r\n",
		"NATS/1.0",
		"NATS/1.0\r\nno-colon-here\r\n\r\n",
		"NATS/1.0\r\n: empty-key\r\n\r\n",
		"NATS/1.0\r\nFoo: bar",
	} {
		_, err := parseHeader([]byte(data))
		assert.ErrorIs(t, err, ErrProtocol, "header %q", data)
	}
}

func TestAppendHeader_RoundTrip(t *testing.T) {
	in := Header{
		"Foo":  {"bar", "baz"},
		"X-Id": {"7"},
	}
	encoded := appendHeader(nil, in)

	out, err := parseHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, []string{"bar", "baz"}, out.Values("Foo"))
	assert.Equal(t, "7", out.Get("X-Id"))
}

func TestHeader_SetAdd(t *testing.T) {
	h := make(Header)
	h.Set("K", "a")
	h.Add("K", "b")
	assert.Equal(t, []string{"a", "b"}, h.Values("K"))

	h.Set("K", "c")
	assert.Equal(t, []string{"c"}, h.Values("K"))
}

func TestMsg_RespondWithoutReply(t *testing.T) {
	m := &Msg{Subject: "x"}
	assert.ErrorIs(t, m.Respond(nil), ErrNoReply)
}
