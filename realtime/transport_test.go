package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://board.example.com", "wss://board.example.com/ws"},
		{"http://localhost:8080/", "ws://localhost:8080/ws"},
		{"https://board.example.com/api?x=1#frag", "wss://board.example.com/api/ws"},
		{"WS://host", "ws://host/ws"},
	}
	for _, c := range cases {
		got, err := EndpointURL(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got)
	}

	for _, bad := range []string{"ftp://host", "https://", "://nope"} {
		_, err := EndpointURL(bad)
		assert.Error(t, err, bad)
	}
}
