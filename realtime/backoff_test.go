package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(5))
	assert.Equal(t, 5*time.Second, b.Delay(50))
}

func TestBackoffWithoutCap(t *testing.T) {
	b := Backoff{Base: 200 * time.Millisecond}
	assert.Equal(t, 2*time.Second, b.Delay(10))
}
