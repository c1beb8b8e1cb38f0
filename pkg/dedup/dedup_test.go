package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitRejectsRedelivery(t *testing.T) {
	h := New(10 * time.Millisecond)
	key := Key{Topic: "t", Partition: 0, Offset: 42}

	assert.True(t, h.Admit(key))
	assert.False(t, h.Admit(key), "redelivered key must not be admitted twice")
}

func TestReadyWaitsForSettleDelay(t *testing.T) {
	h := New(20 * time.Millisecond)
	key := Key{Topic: "t", Partition: 0, Offset: 1}
	h.Admit(key)

	assert.False(t, h.Ready(key))
	time.Sleep(25 * time.Millisecond)
	assert.True(t, h.Ready(key))
}

func TestReleaseFreesEntry(t *testing.T) {
	h := New(time.Millisecond)
	key := Key{Topic: "t", Partition: 0, Offset: 7}
	h.Admit(key)
	assert.Equal(t, 1, h.Len())

	h.Release(key)
	assert.Equal(t, 0, h.Len())
	assert.True(t, h.Admit(key), "a released key is treated as new again")
}
