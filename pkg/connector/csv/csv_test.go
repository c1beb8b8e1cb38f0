package csv

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

func writeTempCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestExecutePublishesOneDocumentPerRow(t *testing.T) {
	path := writeTempCSV(t, "id,name\nr1,alpha\nr2,beta\n")

	c, err := New("csv-test", map[string]interface{}{"path": path, "idField": "id"})
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

	ids := []string{doc1.ID(), doc2.ID()}
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)
}

func TestResolveIDFallsBackToGeneratedSequenceWithoutIDField(t *testing.T) {
	path := writeTempCSV(t, "name\nalpha\nbeta\n")

	c, err := New("csv-test", map[string]interface{}{"path": path})
	require.NoError(t, err)
	src := c.(*Source)

	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	pub := publisher.New(msn, "pipeline", "run-1")

	require.NoError(t, src.Execute(context.Background(), pub))

	doc, err := msn.PollDoc(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Contains(t, doc.ID(), "csv-test")
}

func TestNewRejectsMissingPath(t *testing.T) {
	_, err := New("csv-test", map[string]interface{}{})
	assert.Error(t, err)
}
