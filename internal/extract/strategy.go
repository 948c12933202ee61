package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/asset-graph/pkg/filter"
	"github.com/asset-graph/pkg/utils"
)

// Strategy records the raw references of one traversal entry into refs.
type Strategy interface {
	Analyze(ctx context.Context, path string, refs References) error
}

// FolderStrategy records every direct child of a folder as a reference of
// the folder. Excluded files are skipped.
type FolderStrategy struct {
	Filter *filter.AssetFilter
}

// Analyze implements Strategy.
func (s *FolderStrategy) Analyze(ctx context.Context, path string, refs References) error {
	set := refs.Ensure(path)

	children, err := os.ReadDir(filepath.FromSlash(path))
	if err != nil {
		return err
	}
	for _, child := range children {
		p := filepath.ToSlash(filepath.Join(filepath.FromSlash(path), child.Name()))
		if !child.IsDir() && s.Filter.Excluded(p) {
			continue
		}
		set[p] = struct{}{}
	}
	return nil
}

// FileStrategy gives every file an entry and extracts references from the
// files the filter marks for analysis.
type FileStrategy struct {
	Filter    *filter.AssetFilter
	Extractor Extractor
	Logger    utils.Logger
}

// Analyze implements Strategy. Extraction failures other than an
// unsupported format are logged and leave the file without references.
func (s *FileStrategy) Analyze(ctx context.Context, path string, refs References) error {
	refs.Ensure(path)
	if !s.Filter.NeedsAnalysis(path) {
		return nil
	}

	tokens, err := s.extract(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnsupportedFormat):
		tokens = ScanGUIDs(filepath.FromSlash(path))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.Logger.Warn("extract %s: %v", path, err)
		return nil
	}
	refs.Add(path, tokens...)
	return nil
}

func (s *FileStrategy) extract(ctx context.Context, path string) ([]string, error) {
	if s.Extractor == nil {
		return nil, ErrUnsupportedFormat
	}
	return s.Extractor.ExtractReferences(ctx, filepath.FromSlash(path))
}
