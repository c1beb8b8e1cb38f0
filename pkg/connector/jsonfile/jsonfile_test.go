package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestExecuteReadsLineDelimitedJSON(t *testing.T) {
	path := writeTempFile(t, `{"id":"r1","name":"alpha"}`+"\n"+`{"id":"r2","name":"beta"}`+"\n")

	c, err := New("json-test", map[string]interface{}{"path": path, "idField": "id"})
	require.NoError(t, err)
	src := c.(*Source)

	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	pub := publisher.New(msn, "pipeline", "run-1")

	require.NoError(t, src.Execute(context.Background(), pub))

	doc1, err := msn.PollDoc(context.Background(), time.Second)
	require.NoError(t, err)
	doc2, err := msn.PollDoc(context.Background(), time.Second)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"r1", "r2"}, []string{doc1.ID(), doc2.ID()})
}

func TestExecuteReadsJSONArray(t *testing.T) {
	path := writeTempFile(t, `[{"id":"r1"},{"id":"r2"},{"id":"r3"}]`)

	c, err := New("json-test", map[string]interface{}{
		"path":    path,
		"format":  string(FormatArray),
		"idField": "id",
	})
	require.NoError(t, err)
	src := c.(*Source)

	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	pub := publisher.New(msn, "pipeline", "run-1")

	require.NoError(t, src.Execute(context.Background(), pub))

	var ids []string
	for i := 0; i < 3; i++ {
		doc, err := msn.PollDoc(context.Background(), time.Second)
		require.NoError(t, err)
		ids = append(ids, doc.ID())
	}
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, ids)
}

func TestNewRejectsMissingPath(t *testing.T) {
	_, err := New("json-test", map[string]interface{}{})
	assert.Error(t, err)
}
