package realtime

import (
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := withBody(newFrame(frame.SEND, frame.Destination, "/topic/a:b", frame.ContentType, "application/json"),
		[]byte("{\"x\":\"line\\nbreak\"}\x00tail"))

	raw, err := encodeFrame(f)
	require.NoError(t, err)
	got, err := decodeFrame(raw)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, frame.SEND, got.Command)
	assert.Equal(t, "/topic/a:b", got.Header.Get(frame.Destination))
	assert.Equal(t, f.Body, got.Body, "content-length keeps embedded NUL")
}

func TestDecodeFrame(t *testing.T) {
	f, err := decodeFrame([]byte("MESSAGE\nsubscription:sub-1\ndestination:/topic/tasks\n\n{}\x00"))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, frame.MESSAGE, f.Command)
	assert.Equal(t, "sub-1", f.Header.Get(frame.Subscription))
	assert.Equal(t, "{}", string(f.Body))

	f, err = decodeFrame([]byte("CONNECTED\nversion:1.2\nversion:1.1\n\n\x00"))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "1.2", f.Header.Get(frame.Version), "first header wins")
}

func TestDecodeHeartbeat(t *testing.T) {
	for _, raw := range []string{"\n", ""} {
		f, err := decodeFrame([]byte(raw))
		require.NoError(t, err, "%q", raw)
		assert.Nil(t, f, "%q", raw)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	cases := map[string]string{
		"no header end": "MESSAGE\nsubscription:x",
		"no terminator": "MESSAGE\n\nbody",
		"short body":    "MESSAGE\ncontent-length:10\n\nabc\x00",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeFrame([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestWithBodySetsContentLength(t *testing.T) {
	f := withBody(newFrame(frame.SEND, frame.Destination, "/app/x"), []byte("hello"))
	assert.Equal(t, "5", f.Header.Get(frame.ContentLength))

	empty := withBody(newFrame(frame.SEND, frame.Destination, "/app/x"), nil)
	_, ok := empty.Header.Contains(frame.ContentLength)
	assert.False(t, ok)
}
