package document

import (
	"testing"

	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ContractViolation))
}

func TestSetRunIDOnce(t *testing.T) {
	doc, err := New("d1")
	require.NoError(t, err)

	require.NoError(t, doc.SetRunID("r1"))
	assert.Equal(t, "r1", doc.RunID())

	err = doc.SetRunID("r2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ContractViolation))
	assert.Equal(t, "r1", doc.RunID(), "run_id must not change on a failed second init")
}

func TestSetReservedFieldFails(t *testing.T) {
	doc, err := New("d1")
	require.NoError(t, err)

	err = doc.Set(FieldID, String("other"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ContractViolation))
}

func TestSetOrAddUpgradesToMultiValued(t *testing.T) {
	doc, err := New("d1")
	require.NoError(t, err)

	require.NoError(t, doc.SetOrAdd("tag", String("a")))
	require.NoError(t, doc.SetOrAdd("tag", String("b")))
	require.NoError(t, doc.SetOrAdd("tag", String("c")))

	values := doc.Get("tag")
	require.Len(t, values, 3)
	assert.Equal(t, "a", values[0].Str)
	assert.Equal(t, "b", values[1].Str)
	assert.Equal(t, "c", values[2].Str)
}

func TestUpdateModes(t *testing.T) {
	t.Run("skip leaves existing field unchanged", func(t *testing.T) {
		doc, _ := New("d1")
		require.NoError(t, doc.Set("f", String("x")))
		require.NoError(t, doc.Update("f", Skip, String("a")))
		values := doc.Get("f")
		require.Len(t, values, 1)
		assert.Equal(t, "x", values[0].Str)
	})

	t.Run("overwrite replaces with first then appends rest", func(t *testing.T) {
		doc, _ := New("d1")
		require.NoError(t, doc.Set("f", String("old")))
		require.NoError(t, doc.Update("f", Overwrite, String("a"), String("b"), String("c")))
		values := doc.Get("f")
		require.Len(t, values, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{values[0].Str, values[1].Str, values[2].Str})
	})

	t.Run("append adds onto existing field", func(t *testing.T) {
		doc, _ := New("d1")
		require.NoError(t, doc.Set("f", String("x")))
		require.NoError(t, doc.Update("f", Append, String("a")))
		values := doc.Get("f")
		require.Len(t, values, 2)
		assert.Equal(t, "x", values[0].Str)
		assert.Equal(t, "a", values[1].Str)
	})
}

func TestRemoveDuplicateValuesPreservesOrder(t *testing.T) {
	doc, _ := New("d1")
	require.NoError(t, doc.SetOrAdd("tag", String("a")))
	require.NoError(t, doc.SetOrAdd("tag", String("b")))
	require.NoError(t, doc.SetOrAdd("tag", String("a")))
	require.NoError(t, doc.SetOrAdd("tag", String("c")))
	require.NoError(t, doc.SetOrAdd("tag", String("b")))

	require.NoError(t, doc.RemoveDuplicateValues("tag", ""))
	values := doc.Get("tag")
	require.Len(t, values, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{values[0].Str, values[1].Str, values[2].Str})

	// idempotent
	require.NoError(t, doc.RemoveDuplicateValues("tag", ""))
	assert.Len(t, doc.Get("tag"), 3)
}

func TestAddChildRejectsGrandchildren(t *testing.T) {
	parent, _ := New("p")
	child, _ := New("c")
	grandchild, _ := New("gc")
	require.NoError(t, child.AddChild(grandchild))

	err := parent.AddChild(child)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ContractViolation))
}

func TestCloneIsIndependent(t *testing.T) {
	doc, _ := New("d1")
	require.NoError(t, doc.SetRunID("r1"))
	require.NoError(t, doc.SetOrAdd("tag", String("a")))
	child, _ := New("d1-c1")
	require.NoError(t, doc.AddChild(child))

	clone := doc.Clone()
	require.NoError(t, clone.SetOrAdd("tag", String("b")))

	assert.Len(t, doc.Get("tag"), 1, "mutating the clone must not affect the original")
	assert.Len(t, clone.Get("tag"), 2)
	assert.Equal(t, doc.ID(), clone.ID())
	assert.Equal(t, doc.RunID(), clone.RunID())
}
