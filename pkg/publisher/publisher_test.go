package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/messenger"
)

func TestPublishAssignsRunIDAndRecordsLedgerEntry(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	p := New(msn, "pipeline", "r1")

	doc, err := document.New("d1")
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), doc))
	assert.Equal(t, "r1", doc.RunID())
	assert.False(t, p.ledgerEmpty())

	got, err := msn.PollDoc(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID())
}

func TestWaitForCompletionSimplePassThrough(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	p := New(msn, "pipeline", "r1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	doc, err := document.New("d1")
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), doc))

	connectorDone := make(chan error, 1)
	connectorDone <- nil

	go func() {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, msn.SendEvent(context.Background(), event.NewFinish("d1", "r1")))
	}()

	err = p.WaitForCompletion(context.Background(), connectorDone, 2*time.Second)
	assert.NoError(t, err)
	assert.True(t, p.ledgerEmpty())
}

func TestWaitForCompletionWithFanOut(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	p := New(msn, "pipeline", "r1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	doc, err := document.New("d1")
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), doc))

	connectorDone := make(chan error, 1)
	connectorDone <- nil

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, msn.SendEvent(context.Background(), event.NewCreate("d1-c1", "r1")))
		require.NoError(t, msn.SendEvent(context.Background(), event.NewCreate("d1-c2", "r1")))
		require.NoError(t, msn.SendEvent(context.Background(), event.NewFinish("d1", "r1")))
		require.NoError(t, msn.SendEvent(context.Background(), event.NewFinish("d1-c1", "r1")))
		require.NoError(t, msn.SendEvent(context.Background(), event.NewFinish("d1-c2", "r1")))
	}()

	err = p.WaitForCompletion(context.Background(), connectorDone, 2*time.Second)
	assert.NoError(t, err)
	assert.True(t, p.ledgerEmpty())
}

func TestWaitForCompletionReturnsConnectorError(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	p := New(msn, "pipeline", "r1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	connectorDone := make(chan error, 1)
	connectorDone <- assertErr{}

	err := p.WaitForCompletion(context.Background(), connectorDone, 2*time.Second)
	assert.Error(t, err)
}

func TestApplyEventDropsUnknownTerminalEvent(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	p := New(msn, "pipeline", "r1")

	// No Publish call happened, so the ledger has no entry for "ghost".
	p.applyEvent(event.NewFinish("ghost", "r1"))
	assert.True(t, p.ledgerEmpty())
}

type assertErr struct{}

func (assertErr) Error() string { return "connector exploded" }
