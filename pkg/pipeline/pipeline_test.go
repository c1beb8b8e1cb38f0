package pipeline

import (
	"context"
	"testing"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fnStage struct {
	name string
	fn   func(ctx context.Context, doc *document.Document) ([]*document.Document, error)
}

func (s *fnStage) Name() string                    { return s.name }
func (s *fnStage) Start(ctx context.Context) error { return nil }
func (s *fnStage) Close() error                    { return nil }
func (s *fnStage) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	return s.fn(ctx, doc)
}

func TestPipelinePassThroughWhenNoStagesEmit(t *testing.T) {
	doc, _ := document.New("d1")
	tag := &fnStage{name: "tag", fn: func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
		doc.Set("touched", document.Bool(true))
		return nil, nil
	}}

	p := New("p", tag)
	require.NoError(t, p.Start(context.Background()))

	results, err := p.Process(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID())
	v, _ := results[0].GetFirst("touched")
	assert.True(t, v.Bool)
}

func TestPipelineChildrenSkipAlreadyAppliedStages(t *testing.T) {
	var stage2Seen []string

	fanOut := &fnStage{name: "fanout", fn: func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
		c1, _ := document.New(doc.ID() + "-c1")
		c2, _ := document.New(doc.ID() + "-c2")
		return []*document.Document{c1, c2}, nil
	}}
	mark := &fnStage{name: "mark", fn: func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
		stage2Seen = append(stage2Seen, doc.ID())
		return nil, nil
	}}

	p := New("p", fanOut, mark)
	doc, _ := document.New("d1")

	results, err := p.Process(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, results, 3)

	ids := []string{results[0].ID(), results[1].ID(), results[2].ID()}
	assert.ElementsMatch(t, []string{"d1", "d1-c1", "d1-c2"}, ids)

	// "mark" must see the children (emitted after fanout, so it runs on
	// them) but fanout must never see its own output.
	assert.ElementsMatch(t, []string{"d1", "d1-c1", "d1-c2"}, stage2Seen)
}

func TestPipelineStageFailureAbortsDocument(t *testing.T) {
	boom := &fnStage{name: "boom", fn: func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
		return nil, assertError{}
	}}
	p := New("p", boom)
	doc, _ := document.New("bad")

	_, err := p.Process(context.Background(), doc)
	require.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "stage exploded" }
