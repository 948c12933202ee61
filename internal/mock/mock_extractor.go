package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/asset-graph/internal/orchestrator"
)

// MockExtractor is a mock implementation of extract.Extractor.
type MockExtractor struct {
	mock.Mock
}

// ExtractReferences mocks the ExtractReferences method.
func (m *MockExtractor) ExtractReferences(ctx context.Context, path string) ([]string, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// ExpectExtract sets up an expectation for ExtractReferences on path.
func (m *MockExtractor) ExpectExtract(path string, tokens []string, err error) *mock.Call {
	return m.On("ExtractReferences", mock.Anything, path).Return(tokens, err)
}

// MockLauncher is a mock implementation of orchestrator.Launcher.
type MockLauncher struct {
	mock.Mock
}

// Launch mocks the Launch method.
func (m *MockLauncher) Launch(ctx context.Context, shard orchestrator.Shard) error {
	args := m.Called(ctx, shard)
	return args.Error(0)
}

// ExpectLaunch sets up an expectation for launching shard index.
func (m *MockLauncher) ExpectLaunch(index int, err error) *mock.Call {
	return m.On("Launch", mock.Anything, mock.MatchedBy(func(s orchestrator.Shard) bool {
		return s.Index == index
	})).Return(err)
}
