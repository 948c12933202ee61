package analyzer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/mock"
	"github.com/asset-graph/internal/orchestrator"
	"github.com/asset-graph/internal/testutil"
	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/pkg/compression"
	apperrors "github.com/asset-graph/pkg/errors"
)

func TestRunWorker(t *testing.T) {
	p := testutil.NewProject(t)
	prefab := filepath.ToSlash(p.AddAsset("Assets/A.prefab", testutil.GUID(1), testutil.GUID(2)))
	mat := filepath.ToSlash(p.WriteFile("Assets/B.mat", "not yaml but guid: "+testutil.GUID(3)))
	dir := filepath.ToSlash(filepath.Join(p.Root, "Assets"))

	cfg := testConfig(t, p.Root)
	work := t.TempDir()
	taskPath := filepath.Join(work, "task.bin")
	resultPath := filepath.Join(work, "result.bin")
	require.NoError(t, orchestrator.WriteTaskFile(taskPath, []traverse.Entry{
		{Path: prefab},
		{Path: mat},
		{Path: dir, IsDir: true},
	}, compression.TypeZstd))

	n, err := RunWorker(context.Background(), cfg, WorkerOptions{TaskPath: taskPath, ResultPath: resultPath})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	refs, err := orchestrator.ReadResultFile(resultPath)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.GUID(2)}, refs.Tokens(prefab))
	assert.Equal(t, []string{testutil.GUID(3)}, refs.Tokens(mat), "non-yaml content falls back to the guid scan")
	assert.ElementsMatch(t, []string{prefab, mat}, refs.Tokens(dir), ".meta files are excluded from folder listings")
}

func TestRunWorker_CustomExtractor(t *testing.T) {
	p := testutil.NewProject(t)
	prefab := filepath.ToSlash(p.WriteFile("Assets/A.prefab", "binary"))
	broken := filepath.ToSlash(p.WriteFile("Assets/Broken.prefab", "binary"))

	ex := &mock.MockExtractor{}
	ex.ExpectExtract(prefab, []string{testutil.GUID(7)}, nil)
	ex.ExpectExtract(broken, nil, errors.New("parser crashed"))

	cfg := testConfig(t, p.Root)
	work := t.TempDir()
	taskPath := filepath.Join(work, "task.bin")
	resultPath := filepath.Join(work, "result.bin")
	require.NoError(t, orchestrator.WriteTaskFile(taskPath, []traverse.Entry{{Path: prefab}, {Path: broken}}, compression.TypeNone))

	_, err := RunWorker(context.Background(), cfg, WorkerOptions{
		TaskPath:   taskPath,
		ResultPath: resultPath,
		Extractor:  ex,
	})
	require.NoError(t, err)

	refs, err := orchestrator.ReadResultFile(resultPath)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.GUID(7)}, refs.Tokens(prefab))
	assert.Empty(t, refs.Tokens(broken), "a failing file is recorded without references")
	assert.Contains(t, refs.Sources(), broken)
	ex.AssertExpectations(t)
}

func TestRunWorker_MissingArguments(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	_, err := RunWorker(context.Background(), cfg, WorkerOptions{TaskPath: "task.bin"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestRunWorker_UnreadableTask(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	dir := t.TempDir()
	_, err := RunWorker(context.Background(), cfg, WorkerOptions{
		TaskPath:   filepath.Join(dir, "missing.bin"),
		ResultPath: filepath.Join(dir, "result.bin"),
	})
	assert.Error(t, err)
}

func TestDefaultExtractor(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	chain, ok := DefaultExtractor(cfg).(extract.Chain)
	require.True(t, ok)
	assert.Len(t, chain, 1)

	cfg.Analysis.ExtractorCommand = []string{"unity-refs"}
	chain = DefaultExtractor(cfg).(extract.Chain)
	require.Len(t, chain, 2)
	_, ok = chain[0].(*extract.CommandExtractor)
	assert.True(t, ok)
}
