// Package snapshot persists a dependency graph as one compact, versioned
// binary artifact and reads it back.
//
// Layout: magic "ADGS", version byte, compression byte, then the
// compressed protobuf-wire body:
//
//	message Body {
//	  Metadata metadata = 1;
//	  repeated string asset_type = 2;        // string table
//	  repeated Identifier identifier = 3;    // identifier table
//	  repeated Node node = 4;
//	}
//	message Metadata   { int64 created_at_ms = 1; uint64 nodes = 2; uint64 identifiers = 3; }
//	message Identifier { string path = 1; uint32 type = 2; string guid = 3; string hash = 4; }
//	message Node       { uint32 self = 1; uint32 kind = 2; repeated uint32 deps = 3 [packed]; repeated uint32 dependents = 4 [packed]; }
//
// Sets reference identifiers by table index, so an identifier that lost its
// node through deletion still round-trips.
package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/pkg/compression"
	apperrors "github.com/asset-graph/pkg/errors"
)

const (
	// Version is the current artifact format version.
	Version = 1

	// MagicBytes identify an artifact file.
	MagicBytes = "ADGS"

	headerSize = 6
)

const (
	fieldMetadata   protowire.Number = 1
	fieldAssetType  protowire.Number = 2
	fieldIdentifier protowire.Number = 3
	fieldNode       protowire.Number = 4

	fieldCreatedAt  protowire.Number = 1
	fieldNodeCount  protowire.Number = 2
	fieldIdentCount protowire.Number = 3

	fieldIdentPath protowire.Number = 1
	fieldIdentType protowire.Number = 2
	fieldIdentGUID protowire.Number = 3
	fieldIdentHash protowire.Number = 4

	fieldNodeSelf       protowire.Number = 1
	fieldNodeKind       protowire.Number = 2
	fieldNodeDeps       protowire.Number = 3
	fieldNodeDependents protowire.Number = 4
)

// Options controls how an artifact is written.
type Options struct {
	Compression compression.Type
	Level       compression.Level
	// Now stamps the artifact; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns zstd compression at the default level.
func DefaultOptions() Options {
	return Options{Compression: compression.TypeZstd, Level: compression.LevelDefault}
}

// Metadata describes an artifact.
type Metadata struct {
	Version     int
	Compression compression.Type
	CreatedAt   time.Time
	Nodes       int
	Identifiers int
}

// Stats reports the outcome of a save.
type Stats struct {
	Nodes          int
	Identifiers    int
	RawSize        int64
	CompressedSize int64
	Duration       time.Duration
}

// Encode serializes g.
func Encode(g *graph.Graph, opts Options) ([]byte, *Stats, error) {
	start := time.Now()
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Level == 0 {
		opts.Level = compression.LevelDefault
	}

	tables := newTables()
	nodes := g.Nodes()

	var nodeMsgs []byte
	var msg, packed []byte
	for _, n := range nodes {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldNodeSelf, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(tables.identifier(n.Self)))
		msg = protowire.AppendTag(msg, fieldNodeKind, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(n.Kind))

		packed = packIndices(packed[:0], tables, n.Dependencies)
		if len(packed) > 0 {
			msg = protowire.AppendTag(msg, fieldNodeDeps, protowire.BytesType)
			msg = protowire.AppendBytes(msg, packed)
		}
		packed = packIndices(packed[:0], tables, n.Dependents)
		if len(packed) > 0 {
			msg = protowire.AppendTag(msg, fieldNodeDependents, protowire.BytesType)
			msg = protowire.AppendBytes(msg, packed)
		}

		nodeMsgs = protowire.AppendTag(nodeMsgs, fieldNode, protowire.BytesType)
		nodeMsgs = protowire.AppendBytes(nodeMsgs, msg)
	}

	var body []byte
	msg = msg[:0]
	msg = protowire.AppendTag(msg, fieldCreatedAt, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(opts.Now().UnixMilli()))
	msg = protowire.AppendTag(msg, fieldNodeCount, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(len(nodes)))
	msg = protowire.AppendTag(msg, fieldIdentCount, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(len(tables.idents)))
	body = protowire.AppendTag(body, fieldMetadata, protowire.BytesType)
	body = protowire.AppendBytes(body, msg)

	for _, s := range tables.types {
		body = protowire.AppendTag(body, fieldAssetType, protowire.BytesType)
		body = protowire.AppendString(body, s)
	}
	for _, id := range tables.idents {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldIdentPath, protowire.BytesType)
		msg = protowire.AppendString(msg, id.Path)
		msg = protowire.AppendTag(msg, fieldIdentType, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(tables.assetType(id.AssetType)))
		if id.GUID != "" {
			msg = protowire.AppendTag(msg, fieldIdentGUID, protowire.BytesType)
			msg = protowire.AppendString(msg, id.GUID)
		}
		if id.ContentHash != "" {
			msg = protowire.AppendTag(msg, fieldIdentHash, protowire.BytesType)
			msg = protowire.AppendString(msg, id.ContentHash)
		}
		body = protowire.AppendTag(body, fieldIdentifier, protowire.BytesType)
		body = protowire.AppendBytes(body, msg)
	}
	body = append(body, nodeMsgs...)

	c, err := compression.New(opts.Compression, opts.Level)
	if err != nil {
		return nil, nil, err
	}
	defer compression.Close(c)
	compressed, err := c.Compress(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compress data: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(compressed))
	buf.WriteString(MagicBytes)
	buf.WriteByte(Version)
	buf.WriteByte(byte(opts.Compression))
	buf.Write(compressed)

	stats := &Stats{
		Nodes:          len(nodes),
		Identifiers:    len(tables.idents),
		RawSize:        int64(len(body)),
		CompressedSize: int64(buf.Len()),
		Duration:       time.Since(start),
	}
	return buf.Bytes(), stats, nil
}

func packIndices(dst []byte, t *tables, set graph.IdentifierSet) []byte {
	for _, id := range set.Sorted() {
		dst = protowire.AppendVarint(dst, uint64(t.identifier(id)))
	}
	return dst
}

// tables interns asset types and identifiers. The type table is built as
// identifiers are interned, so it is complete before it is written.
type tables struct {
	typeIdx  map[string]uint32
	types    []string
	identIdx map[graph.Identifier]uint32
	idents   []graph.Identifier
}

func newTables() *tables {
	return &tables{
		typeIdx:  make(map[string]uint32),
		identIdx: make(map[graph.Identifier]uint32),
	}
}

func (t *tables) assetType(s string) uint32 {
	if i, ok := t.typeIdx[s]; ok {
		return i
	}
	i := uint32(len(t.types))
	t.typeIdx[s] = i
	t.types = append(t.types, s)
	return i
}

func (t *tables) identifier(id graph.Identifier) uint32 {
	if i, ok := t.identIdx[id]; ok {
		return i
	}
	t.assetType(id.AssetType)
	i := uint32(len(t.idents))
	t.identIdx[id] = i
	t.idents = append(t.idents, id)
	return i
}

// Save writes g to path atomically: the artifact goes to a temporary file
// in the destination directory, is synced, then renamed over path. On any
// failure the previous artifact is left untouched.
func Save(g *graph.Graph, path string, opts Options) (*Stats, error) {
	data, stats, err := Encode(g, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArtifactIO, "encode graph", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeArtifactIO, err, "write %s", path)
	}
	return stats, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// Load reads the artifact at path into a finalized graph.
func Load(path string) (*graph.Graph, error) {
	g, _, err := LoadWithMetadata(path)
	return g, err
}

// LoadWithMetadata reads the artifact at path and its metadata.
func LoadWithMetadata(path string) (*graph.Graph, Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Metadata{}, apperrors.Wrapf(apperrors.CodeArtifactIO, err, "read %s", path)
	}
	g, meta, err := Decode(data)
	if err != nil {
		return nil, Metadata{}, apperrors.Wrapf(apperrors.CodeArtifactIO, err, "decode %s", path)
	}
	return g, meta, nil
}
