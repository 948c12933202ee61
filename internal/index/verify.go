package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/asset-graph/pkg/parallel"
)

const metaSuffix = ".meta"

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	// Checked counts entries whose .meta file was found and read.
	Checked int
	// NoMeta counts entries without a .meta file; they are not checked.
	NoMeta int
	// Mismatched lists, in order, the paths whose .meta file does not
	// mention the recorded GUID.
	Mismatched []string
}

// OK reports whether every checked entry matched.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatched) == 0
}

// Verify checks a path → GUID table against the project's .meta files:
// an entry whose <path>.meta exists but does not contain the GUID is
// reported as mismatched. Paths are matched case-insensitively.
func Verify(ctx context.Context, root string, table map[string]string, cfg parallel.PoolConfig) (*VerifyReport, error) {
	metas, err := metaFiles(root, table)
	if err != nil {
		return nil, err
	}

	type check struct {
		path, guid, meta string
	}
	report := &VerifyReport{}
	checks := make([]check, 0, len(table))
	for p, guid := range table {
		meta, ok := metas[NormalizePath(p)]
		if !ok {
			report.NoMeta++
			continue
		}
		checks = append(checks, check{path: p, guid: strings.ToLower(guid), meta: meta})
	}

	var mu sync.Mutex
	_, err = parallel.ForEach(ctx, checks, cfg, func(ctx context.Context, c check) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(c.meta)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		report.Checked++
		if !strings.Contains(strings.ToLower(string(data)), c.guid) {
			report.Mismatched = append(report.Mismatched, c.path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(report.Mismatched)
	return report, nil
}

// metaFiles maps the normalized project-relative path of every asset with
// a .meta file to that file. Only top-level directories named by a table
// entry are walked.
func metaFiles(root string, table map[string]string) (map[string]string, error) {
	tops := make(map[string]bool)
	for p := range table {
		top, _, _ := strings.Cut(NormalizePath(p), "/")
		tops[top] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() || !tops[strings.ToLower(e.Name())] {
			continue
		}
		err := filepath.WalkDir(filepath.Join(root, e.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), metaSuffix) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			key := NormalizePath(filepath.ToSlash(rel))
			out[key[:len(key)-len(metaSuffix)]] = path
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
