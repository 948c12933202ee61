package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/asset-graph/internal/extract"
	"github.com/asset-graph/internal/traverse"
	"github.com/asset-graph/internal/wire"
	"github.com/asset-graph/pkg/compression"
	apperrors "github.com/asset-graph/pkg/errors"
)

const (
	// CodecVersion is bumped whenever the task or result layout changes.
	CodecVersion = 1

	taskMagic   = "ADGT"
	resultMagic = "ADGR"
	headerSize  = 6 // magic(4) + version(1) + compression(1)
)

// Task file body:
//
//	repeated bytes entry = 1   { string path = 1; bool is_dir = 2; }
//
// Result file body:
//
//	repeated bytes source = 1  { string path = 1; repeated string token = 2; }
const (
	fieldEntry  protowire.Number = 1
	fieldPath   protowire.Number = 1
	fieldIsDir  protowire.Number = 2
	fieldSource protowire.Number = 1
	fieldToken  protowire.Number = 2
)

// EncodeTask serializes a shard.
func EncodeTask(entries []traverse.Entry, ct compression.Type) ([]byte, error) {
	var body, msg []byte
	for _, e := range entries {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldPath, protowire.BytesType)
		msg = protowire.AppendString(msg, e.Path)
		if e.IsDir {
			msg = protowire.AppendTag(msg, fieldIsDir, protowire.VarintType)
			msg = protowire.AppendVarint(msg, 1)
		}
		body = protowire.AppendTag(body, fieldEntry, protowire.BytesType)
		body = protowire.AppendBytes(body, msg)
	}
	return frame(taskMagic, ct, body)
}

// DecodeTask is the inverse of EncodeTask.
func DecodeTask(data []byte) ([]traverse.Entry, error) {
	body, err := unframe(taskMagic, data)
	if err != nil {
		return nil, err
	}

	var entries []traverse.Entry
	err = wire.Messages(body, fieldEntry, func(msg []byte) error {
		var e traverse.Entry
		err := wire.Fields(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch {
			case num == fieldPath && typ == protowire.BytesType:
				v, n := protowire.ConsumeString(b)
				e.Path = v
				return n, nil
			case num == fieldIsDir && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				e.IsDir = v != 0
				return n, nil
			}
			return protowire.ConsumeFieldValue(num, typ, b), nil
		})
		entries = append(entries, e)
		return err
	})
	if err != nil {
		return nil, corrupt("task", err)
	}
	return entries, nil
}

// EncodeResult serializes a worker's references. Sources and tokens are
// written in sorted order so equal inputs give equal files.
func EncodeResult(refs extract.References, ct compression.Type) ([]byte, error) {
	var body, msg []byte
	for _, source := range refs.Sources() {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldPath, protowire.BytesType)
		msg = protowire.AppendString(msg, source)
		for _, t := range refs.Tokens(source) {
			msg = protowire.AppendTag(msg, fieldToken, protowire.BytesType)
			msg = protowire.AppendString(msg, t)
		}
		body = protowire.AppendTag(body, fieldSource, protowire.BytesType)
		body = protowire.AppendBytes(body, msg)
	}
	return frame(resultMagic, ct, body)
}

// DecodeResult is the inverse of EncodeResult.
func DecodeResult(data []byte) (extract.References, error) {
	body, err := unframe(resultMagic, data)
	if err != nil {
		return nil, err
	}

	refs := extract.NewReferences()
	err = wire.Messages(body, fieldSource, func(msg []byte) error {
		var source string
		var tokens []string
		err := wire.Fields(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if typ == protowire.BytesType && (num == fieldPath || num == fieldToken) {
				v, n := protowire.ConsumeString(b)
				if num == fieldPath {
					source = v
				} else {
					tokens = append(tokens, v)
				}
				return n, nil
			}
			return protowire.ConsumeFieldValue(num, typ, b), nil
		})
		if err != nil {
			return err
		}
		refs.Add(source, tokens...)
		return nil
	})
	if err != nil {
		return nil, corrupt("result", err)
	}
	return refs, nil
}

func frame(magic string, ct compression.Type, body []byte) ([]byte, error) {
	compressed, err := compression.Encode(ct, body)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(headerSize + len(compressed))
	buf.WriteString(magic)
	buf.WriteByte(CodecVersion)
	buf.WriteByte(byte(ct))
	buf.Write(compressed)
	return buf.Bytes(), nil
}

func unframe(magic string, data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, apperrors.New(apperrors.CodeResultCorrupt, "file too short")
	}
	if string(data[:4]) != magic {
		return nil, apperrors.New(apperrors.CodeResultCorrupt,
			fmt.Sprintf("invalid magic bytes: expected %q, got %q", magic, string(data[:4])))
	}
	if data[4] != CodecVersion {
		return nil, apperrors.New(apperrors.CodeResultCorrupt,
			fmt.Sprintf("unsupported version: %d", data[4]))
	}
	body, err := compression.Decode(compression.Type(data[5]), data[headerSize:])
	if err != nil {
		return nil, corrupt("decompress", err)
	}
	return body, nil
}

func corrupt(what string, err error) error {
	return apperrors.Wrap(apperrors.CodeResultCorrupt, what, err)
}

// WriteFile writes data to path through a temporary file in the same
// directory, so readers never see a partial file.
func WriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteTaskFile encodes entries into path.
func WriteTaskFile(path string, entries []traverse.Entry, ct compression.Type) error {
	data, err := EncodeTask(entries, ct)
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}

// ReadTaskFile decodes the task file at path.
func ReadTaskFile(path string) ([]traverse.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTask(data)
}

// WriteResultFile encodes refs into path.
func WriteResultFile(path string, refs extract.References, ct compression.Type) error {
	data, err := EncodeResult(refs, ct)
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}

// ReadResultFile decodes the result file at path.
func ReadResultFile(path string) (extract.References, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeResult(data)
}
