package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawSerializer(t *testing.T) {
	s := RawSerializer{}

	b, err := s.Marshal([]byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), b)

	b, err = s.Marshal("text")
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), b)

	_, err = s.Marshal(42)
	assert.ErrorIs(t, err, ErrRawValueType)

	var out []byte
	require.NoError(t, s.Unmarshal([]byte("v"), &out))
	assert.Equal(t, []byte("v"), out)

	var str string
	require.NoError(t, s.Unmarshal([]byte("v"), &str))
	assert.Equal(t, "v", str)

	assert.ErrorIs(t, s.Unmarshal([]byte("v"), &struct{}{}), ErrRawValueType)
}

func TestJSONSerializer_RoundTrip(t *testing.T) {
	s := JSONSerializer{}

	type payload struct {
		N int    `json:"n"`
		S string `json:"s"`
	}

	b, err := s.Marshal(payload{N: 1, S: "x"})
	require.NoError(t, err)

	var out payload
	require.NoError(t, s.Unmarshal(b, &out))
	assert.Equal(t, payload{N: 1, S: "x"}, out)
}

func TestProtoSerializer_RejectsNonMessages(t *testing.T) {
	s := ProtoSerializer{}

	_, err := s.Marshal("not a proto")
	assert.ErrorIs(t, err, ErrNotProtoMessage)
	assert.ErrorIs(t, s.Unmarshal(nil, "not a proto"), ErrNotProtoMessage)
}
