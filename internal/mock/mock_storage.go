// Package mock provides testify mocks for the pipeline's collaborators.
package mock

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/stretchr/testify/mock"
)

// MockStorage stands in for the artifact store behind a Publisher.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64) error {
	args := m.Called(ctx, key, reader, size)
	return args.Error(0)
}

func (m *MockStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

func (m *MockStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// ExpectUpload expects a streamed upload under key.
func (m *MockStorage) ExpectUpload(key string, err error) *mock.Call {
	return m.On("Upload", mock.Anything, key, mock.Anything, mock.Anything).Return(err)
}

// ExpectUploadFile expects the artifact at localPath to be uploaded under key.
func (m *MockStorage) ExpectUploadFile(key, localPath string, err error) *mock.Call {
	return m.On("UploadFile", mock.Anything, key, localPath).Return(err)
}

// CaptureUpload expects a streamed upload under key and copies the body into
// dst. Publishers stream the manifest this way.
func (m *MockStorage) CaptureUpload(key string, dst *bytes.Buffer) *mock.Call {
	return m.On("Upload", mock.Anything, key, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = io.Copy(dst, args.Get(2).(io.Reader))
		}).
		Return(nil)
}

// ExpectDownloadFile expects key to be fetched into localPath.
func (m *MockStorage) ExpectDownloadFile(key, localPath string, err error) *mock.Call {
	return m.On("DownloadFile", mock.Anything, key, localPath).Return(err)
}

// ServeFile expects key to be fetched and answers by copying the bytes of
// src into whatever local path the caller asked for.
func (m *MockStorage) ServeFile(key, src string) *mock.Call {
	return m.On("DownloadFile", mock.Anything, key, mock.Anything).
		Run(func(args mock.Arguments) {
			data, err := os.ReadFile(src)
			if err == nil {
				err = os.WriteFile(args.String(2), data, 0644)
			}
			if err != nil {
				panic(err)
			}
		}).
		Return(nil)
}

func (m *MockStorage) ExpectGetURL(key, url string) *mock.Call {
	return m.On("GetURL", key).Return(url)
}
