package orchestrator

import (
	"context"
	"fmt"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/pkg/compression"
)

// Handler turns a shard's entries into references. It runs in the worker
// process.
type Handler func(ctx context.Context, entries []traverse.Entry) (extract.References, error)

// ServeTask is the worker side of the protocol: it reads the task file,
// runs handler and writes the result file.
func ServeTask(ctx context.Context, taskPath, resultPath string, ct compression.Type, handler Handler) (int, error) {
	entries, err := ReadTaskFile(taskPath)
	if err != nil {
		return 0, fmt.Errorf("read task %s: %w", taskPath, err)
	}
	refs, err := handler(ctx, entries)
	if err != nil {
		return 0, err
	}
	if err := WriteResultFile(resultPath, refs, ct); err != nil {
		return 0, fmt.Errorf("write result %s: %w", resultPath, err)
	}
	return refs.Len(), nil
}
