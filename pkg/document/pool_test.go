package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseRecursesIntoChildren(t *testing.T) {
	parent, err := New("parent")
	require.NoError(t, err)
	child, err := New("child")
	require.NoError(t, err)

	require.NoError(t, parent.AddChild(child))

	assert.NotPanics(t, func() { Release(parent) })
}

func TestReleaseIsIdempotentForSharedChild(t *testing.T) {
	parent, err := New("parent")
	require.NoError(t, err)
	child, err := New("child")
	require.NoError(t, err)

	require.NoError(t, parent.AddChild(child))

	// child is both nested under parent and released a second time
	// standalone, the way an independent-FINISH fan-out would hand it to
	// ship() as its own batch entry. This must not double-Put child into
	// docPool.
	Release(parent)
	assert.NotPanics(t, func() { Release(child) })
}

func TestReleaseNilIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { Release(nil) })
}
