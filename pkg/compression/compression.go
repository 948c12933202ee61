// Package compression provides the codecs used for shard files and the
// graph artifact.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Type identifies a compression algorithm. The numeric value is written into
// file headers and must never be reassigned.
type Type uint8

const (
	// TypeNone stores data as is.
	TypeNone Type = 0
	// TypeZstd uses zstd compression.
	TypeZstd Type = 1
	// TypeGzip uses gzip compression.
	TypeGzip Type = 2
)

// String returns the configuration name of the type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeZstd:
		return "zstd"
	case TypeGzip:
		return "gzip"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType parses a configuration name such as "zstd".
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return TypeZstd, nil
	case "gzip":
		return TypeGzip, nil
	case "none":
		return TypeNone, nil
	default:
		return TypeNone, fmt.Errorf("unknown compression type: %q", name)
	}
}

// Level represents the compression level.
type Level int

const (
	// LevelFastest prioritizes speed over compression ratio
	LevelFastest Level = 1
	// LevelDefault balances speed and compression ratio
	LevelDefault Level = 3
	// LevelBest prioritizes compression ratio over speed
	LevelBest Level = 9
)

// Compressor compresses whole buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
}

// GzipCompressor implements Compressor using gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a new gzip compressor.
func NewGzipCompressor(level Level) *GzipCompressor {
	switch level {
	case LevelFastest:
		return &GzipCompressor{level: gzip.BestSpeed}
	case LevelBest:
		return &GzipCompressor{level: gzip.BestCompression}
	default:
		return &GzipCompressor{level: gzip.DefaultCompression}
	}
}

// Compress compresses data using gzip.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses gzip data.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Type returns TypeGzip.
func (c *GzipCompressor) Type() Type {
	return TypeGzip
}

// ZstdCompressor implements Compressor using zstd. It is safe for
// concurrent use; Close releases its encoder and decoder.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a new zstd compressor.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	zstdLevel := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		zstdLevel = zstd.SpeedFastest
	case LevelBest:
		zstdLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Compress compresses data using zstd.
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decompresses zstd data.
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

// Type returns TypeZstd.
func (c *ZstdCompressor) Type() Type {
	return TypeZstd
}

// Close releases resources used by the compressor.
func (c *ZstdCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// NoOpCompressor is a pass-through compressor.
type NoOpCompressor struct{}

// Compress returns the data unchanged.
func (NoOpCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress returns the data unchanged.
func (NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// Type returns TypeNone.
func (NoOpCompressor) Type() Type { return TypeNone }

// New creates a compressor by type and level.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeNone:
		return NoOpCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

// Closeable is implemented by compressors that hold resources.
type Closeable interface {
	Close()
}

// Close closes a compressor if it implements Closeable.
func Close(c Compressor) {
	if closer, ok := c.(Closeable); ok {
		closer.Close()
	}
}

// Encode compresses data with a throwaway compressor of type t.
func Encode(t Type, data []byte) ([]byte, error) {
	c, err := New(t, LevelDefault)
	if err != nil {
		return nil, err
	}
	defer Close(c)
	return c.Compress(data)
}

// Decode decompresses data with a throwaway compressor of type t.
func Decode(t Type, data []byte) ([]byte, error) {
	c, err := New(t, LevelDefault)
	if err != nil {
		return nil, err
	}
	defer Close(c)
	return c.Decompress(data)
}
