package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/asset-graph/internal/graph"
)

// MockSink is a mock implementation of query.Sink.
type MockSink struct {
	mock.Mock
}

// Upsert mocks the Upsert method.
func (m *MockSink) Upsert(ctx context.Context, n *graph.Node) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// Delete mocks the Delete method.
func (m *MockSink) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

// ExpectDelete sets up an expectation for Delete.
func (m *MockSink) ExpectDelete(path string, err error) *mock.Call {
	return m.On("Delete", mock.Anything, path).Return(err)
}

// ExpectUpsertPath sets up an expectation for Upsert of the node at path.
func (m *MockSink) ExpectUpsertPath(path string, err error) *mock.Call {
	return m.On("Upsert", mock.Anything, mock.MatchedBy(func(n *graph.Node) bool {
		return n.Self.Path == path
	})).Return(err)
}
