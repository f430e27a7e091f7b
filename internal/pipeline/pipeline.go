// Package pipeline runs transaction records through an ordered list of
// stages with per-record fault isolation.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/store"
)

// Stage transforms one record in place.
type Stage interface {
	Name() string
	Process(ctx context.Context, rec *model.Record) error
}

// BatchStarter is implemented by stages that load reference data. BeginBatch
// runs once before each batch so no data is reused across batches.
type BatchStarter interface {
	BeginBatch(ctx context.Context) error
}

// Pipeline is an ordered, mutable list of stages.
type Pipeline struct {
	stages []Stage
	log    zerolog.Logger
}

// New creates a pipeline running stages in the given order.
func New(log zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: append([]Stage(nil), stages...),
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

// Add appends a stage.
func (p *Pipeline) Add(s Stage) {
	p.stages = append(p.stages, s)
}

// Remove drops every stage with the given name and reports whether any was
// removed.
func (p *Pipeline) Remove(name string) bool {
	kept := p.stages[:0]
	for _, s := range p.stages {
		if s.Name() != name {
			kept = append(kept, s)
		}
	}
	removed := len(kept) != len(p.stages)
	for i := len(kept); i < len(p.stages); i++ {
		p.stages[i] = nil
	}
	p.stages = kept
	return removed
}

// Names returns the stage names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Only returns a copy of p keeping just the named stages, in their original
// order. p itself is unchanged. Unknown names are an error.
func (p *Pipeline) Only(names ...string) (*Pipeline, error) {
	known := make(map[string]bool, len(p.stages))
	for _, n := range p.Names() {
		known[n] = true
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		if !known[n] {
			return nil, fmt.Errorf("unknown stage %q", n)
		}
		keep[n] = true
	}

	out := &Pipeline{log: p.log}
	for _, s := range p.stages {
		out.Add(s)
	}
	for _, n := range p.Names() {
		if !keep[n] {
			out.Remove(n)
		}
	}
	return out, nil
}

// ProcessOne runs a single record as its own batch.
func (p *Pipeline) ProcessOne(ctx context.Context, rec *model.Record) {
	p.beginBatch(ctx)
	p.run(ctx, rec)
}

// ProcessMany runs recs in order as one batch. It stops early only when ctx
// is cancelled.
func (p *Pipeline) ProcessMany(ctx context.Context, recs []*model.Record) error {
	p.beginBatch(ctx)
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.run(ctx, rec)
	}
	return nil
}

// ProcessPersisted runs every stored transaction selected by filter through
// the pipeline and writes them back in one storage transaction. Returns the
// number of transactions processed. A storage failure rolls the whole batch
// back and is returned as *model.PersistenceError.
func (p *Pipeline) ProcessPersisted(ctx context.Context, st *store.Store, filter model.TransactionFilter) (int, error) {
	// reference data is loaded before the write transaction opens
	p.beginBatch(ctx)

	attempted := 0
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		txns, err := tx.ListTransactions(ctx, filter)
		if err != nil {
			return err
		}
		attempted = len(txns)
		for _, t := range txns {
			before := t.Hash
			p.run(ctx, model.NewEntity(t))
			if t.Hash != before && t.Hash != "" {
				taken, err := tx.HashExists(ctx, t.Hash)
				if err != nil {
					return err
				}
				if taken {
					p.log.Warn().Int64("id", t.ID).Str("hash", t.Hash).Msg("fingerprint collides with a stored transaction, not assigned")
					t.Hash = before
				}
			}
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &model.PersistenceError{Op: "process persisted", Attempted: attempted, Err: err}
	}
	p.log.Info().Int("count", attempted).Msg("reprocessed stored transactions")
	return attempted, nil
}

func (p *Pipeline) beginBatch(ctx context.Context) {
	for _, s := range p.stages {
		bs, ok := s.(BatchStarter)
		if !ok {
			continue
		}
		if err := bs.BeginBatch(ctx); err != nil {
			p.log.Error().Err(err).Str("stage", s.Name()).Msg("loading reference data")
		}
	}
}

func (p *Pipeline) run(ctx context.Context, rec *model.Record) {
	for _, s := range p.stages {
		if err := p.runStage(ctx, s, rec); err != nil {
			p.log.Error().Err(err).Str("stage", s.Name()).Msg("stage failed, record passed through unchanged")
		}
	}
}

// runStage applies s to rec. On error or panic rec is restored to its state
// before the stage ran.
func (p *Pipeline) runStage(ctx context.Context, s Stage, rec *model.Record) (err error) {
	snapshot := rec.Clone()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			rec.Restore(snapshot)
		}
	}()
	return s.Process(ctx, rec)
}
