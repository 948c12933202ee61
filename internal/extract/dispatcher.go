package extract

import (
	"context"

	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/pkg/filter"
	"github.com/asset-graph/pkg/utils"
)

// Entry is one traversal hit handed to a worker.
type Entry = traverse.Entry

// Predicate selects the entries a strategy handles.
type Predicate func(Entry) bool

type route struct {
	match    Predicate
	strategy Strategy
}

// Dispatcher routes each entry to the first strategy whose predicate
// matches. Entries are processed sequentially: a worker process owns one
// extraction context.
type Dispatcher struct {
	routes []route
	logger utils.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRoute appends a (predicate, strategy) pair.
func WithRoute(match Predicate, s Strategy) Option {
	return func(d *Dispatcher) {
		d.routes = append(d.routes, route{match: match, strategy: s})
	}
}

// WithLogger sets the logger used for contained failures.
func WithLogger(l utils.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher with the given routes.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: &utils.NullLogger{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDefaultDispatcher routes files to a FileStrategy using ex and folders
// to a FolderStrategy.
func NewDefaultDispatcher(f *filter.AssetFilter, ex Extractor, logger utils.Logger) *Dispatcher {
	if f == nil {
		f = filter.Default()
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return NewDispatcher(
		WithLogger(logger),
		WithRoute(func(e Entry) bool { return !e.IsDir }, &FileStrategy{Filter: f, Extractor: ex, Logger: logger}),
		WithRoute(func(e Entry) bool { return e.IsDir }, &FolderStrategy{Filter: f}),
	)
}

// Run analyzes entries in order. Per-entry failures are logged and the
// entry keeps whatever it recorded; only cancellation stops the run.
func (d *Dispatcher) Run(ctx context.Context, entries []Entry) (References, error) {
	refs := NewReferences()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return refs, err
		}
		for _, r := range d.routes {
			if !r.match(e) {
				continue
			}
			if err := r.strategy.Analyze(ctx, e.Path, refs); err != nil {
				if ctx.Err() != nil {
					return refs, ctx.Err()
				}
				d.logger.Warn("analyze %s: %v", e.Path, err)
			}
			break
		}
	}
	return refs, nil
}
