package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySendAndPollDoc(t *testing.T) {
	m := NewMemory(MemoryConfig{SourceCapacity: 4})
	defer m.Close()

	doc, err := document.New("d1")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SendForProcessing(ctx, doc))

	got, err := m.PollDoc(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID())
}

func TestMemoryPollDocTimesOut(t *testing.T) {
	m := NewMemory(MemoryConfig{SourceCapacity: 4})
	defer m.Close()

	got, err := m.PollDoc(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryEventsRoundTrip(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.SendEvent(ctx, event.NewCreate("c1", "r1")))
	assert.True(t, m.HasEvents())

	got, err := m.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.Create, got.Type)
	assert.False(t, m.HasEvents())
}

func TestMemoryDestinationRoundTrip(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	defer m.Close()

	doc, err := document.New("d1")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SendCompleted(ctx, doc))

	got, err := m.PollDestination(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID())
}
