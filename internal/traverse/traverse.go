// Package traverse walks a project tree and lists every file and directory
// that survives the exclusion rules.
package traverse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/asset-graph/pkg/filter"
	"github.com/asset-graph/pkg/utils"
)

// Entry is one traversed path. Path is absolute with forward slashes.
type Entry struct {
	Path  string
	IsDir bool
}

// Options tunes a traversal.
type Options struct {
	// Workers bounds the number of directories read concurrently.
	Workers int
	Logger  utils.Logger
}

type collector struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *collector) add(batch []Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, batch...)
	c.mu.Unlock()
}

// Traverse visits every file and directory under root, root excluded.
// Subtrees are read concurrently; the result order is unspecified.
// Unreadable subdirectories are logged and skipped, an unreadable root is
// an error.
func Traverse(ctx context.Context, root string, f *filter.AssetFilter, opts Options) ([]Entry, error) {
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	if f == nil {
		f = filter.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	children, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read project root %s: %w", abs, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	out := &collector{}

	var visit func(dir string, children []os.DirEntry)
	visit = func(dir string, children []os.DirEntry) {
		batch := make([]Entry, 0, len(children))
		for _, child := range children {
			p := filepath.Join(dir, child.Name())
			if f.Excluded(p) {
				continue
			}
			if child.Type()&os.ModeSymlink != 0 {
				// Symlinks are recorded with their target's kind but never descended.
				info, err := os.Stat(p)
				batch = append(batch, Entry{Path: filepath.ToSlash(p), IsDir: err == nil && info.IsDir()})
				continue
			}
			batch = append(batch, Entry{Path: filepath.ToSlash(p), IsDir: child.IsDir()})
			if !child.IsDir() {
				continue
			}

			sub := p
			spawn := func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				entries, err := os.ReadDir(sub)
				if err != nil {
					opts.Logger.Warn("skipping unreadable directory %s: %v", sub, err)
					return nil
				}
				visit(sub, entries)
				return nil
			}
			// All workers busy: read inline.
			if !g.TryGo(spawn) {
				if err := spawn(); err != nil {
					out.add(batch)
					return
				}
			}
		}
		out.add(batch)
	}

	g.Go(func() error {
		visit(abs, children)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out.entries, nil
}
