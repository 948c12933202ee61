package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeNotFound, "asset missing"),
			expected: "[NOT_FOUND] asset missing",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeArtifactIO, "write snapshot", errors.New("disk full")),
			expected: "[ARTIFACT_IO] write snapshot: disk full",
		},
		{
			name:     "formatted message",
			err:      Wrapf(CodeWorkerFailed, errors.New("exit status 1"), "shard %d", 3),
			expected: "[WORKER_FAILED] shard 3: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeIndexError, "open index", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeHasDependents, "error 1")
	err2 := New(CodeHasDependents, "error 2")
	err3 := New(CodeNotFound, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestIsHelpers(t *testing.T) {
	wrapped := fmt.Errorf("delete: %w", Wrap(CodeHasDependents, "Assets/a.mat", nil))

	assert.True(t, IsHasDependents(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsArtifactIO(Wrap(CodeArtifactIO, "rename", errors.New("EXDEV"))))
	assert.False(t, IsArtifactIO(nil))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeResultCorrupt, GetErrorCode(ErrResultCorrupt))
	assert.Equal(t, CodeStorageError, GetErrorCode(fmt.Errorf("ctx: %w", ErrStorageError)))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "guid index error", GetErrorMessage(ErrIndexError))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
