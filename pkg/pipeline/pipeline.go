package pipeline

import (
	"context"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
)

// Pipeline is an ordered, immutable sequence of Stages applied to each
// document that enters a connector's run.
type Pipeline struct {
	name   string
	stages []Stage
}

// New builds a Pipeline with the given name and stage order. The order is
// fixed for the lifetime of the Pipeline: spec Non-goals exclude dynamic
// reconfiguration while a run is in progress.
func New(name string, stages ...Stage) *Pipeline {
	return &Pipeline{name: name, stages: stages}
}

// Name returns the pipeline's name, used as its queue/topic namespace.
func (p *Pipeline) Name() string { return p.name }

// Start invokes Start on every stage in order, stopping at the first error.
func (p *Pipeline) Start(ctx context.Context) error {
	for _, s := range p.stages {
		if err := s.Start(ctx); err != nil {
			return errors.Wrap(err, errors.ConfigViolation, "start stage "+s.Name())
		}
	}
	return nil
}

// Close releases every stage's resources, continuing past individual errors
// so one stage's failure to close doesn't leak the rest.
func (p *Pipeline) Close() error {
	var first error
	for _, s := range p.stages {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Process applies stages in declared order to doc. After each stage, any
// additional documents it emitted are run through the remaining stages
// only — a stage never reprocesses output it produced. The result is
// [doc-after-all-stages, ...all-emitted-descendants]. A stage returning an
// error aborts processing for doc; the caller (the Worker) is responsible
// for surfacing it as a per-document failure.
func (p *Pipeline) Process(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	return p.processFrom(ctx, doc, 0)
}

func (p *Pipeline) processFrom(ctx context.Context, doc *document.Document, from int) ([]*document.Document, error) {
	current := doc
	var descendants []*document.Document

	for i := from; i < len(p.stages); i++ {
		emitted, err := p.stages[i].ProcessDocument(ctx, current)
		if err != nil {
			return nil, errors.Wrap(err, errors.ProcessingFailure, "stage "+p.stages[i].Name()+" failed on document "+current.ID())
		}
		for _, e := range emitted {
			sub, err := p.processFrom(ctx, e, i+1)
			if err != nil {
				return nil, err
			}
			descendants = append(descendants, sub...)
		}
	}

	return append([]*document.Document{current}, descendants...), nil
}
