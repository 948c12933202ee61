package snapshot

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/wire"
	"github.com/asset-graph/pkg/compression"
)

// Decode is the inverse of Encode.
func Decode(data []byte) (*graph.Graph, Metadata, error) {
	var meta Metadata
	if len(data) < headerSize {
		return nil, meta, fmt.Errorf("data too short")
	}
	if string(data[:4]) != MagicBytes {
		return nil, meta, fmt.Errorf("invalid magic bytes: expected %q, got %q", MagicBytes, string(data[:4]))
	}
	if data[4] != Version {
		return nil, meta, fmt.Errorf("unsupported version: %d", data[4])
	}
	meta.Version = int(data[4])
	meta.Compression = compression.Type(data[5])

	body, err := compression.Decode(meta.Compression, data[headerSize:])
	if err != nil {
		return nil, meta, fmt.Errorf("failed to decompress data: %w", err)
	}

	d := &decoder{}
	if err := d.body(body, &meta); err != nil {
		return nil, meta, err
	}

	g := graph.New()
	for _, rec := range d.nodes {
		self, err := d.ident(rec.self)
		if err != nil {
			return nil, meta, err
		}
		deps, err := d.set(rec.deps)
		if err != nil {
			return nil, meta, err
		}
		dependents, err := d.set(rec.dependents)
		if err != nil {
			return nil, meta, err
		}
		g.Put(graph.NewNode(self, graph.NodeKind(rec.kind), deps, dependents))
	}
	g.Freeze()

	if meta.Nodes != g.Len() {
		return nil, meta, fmt.Errorf("node count mismatch: header says %d, decoded %d", meta.Nodes, g.Len())
	}
	return g, meta, nil
}

type nodeRecord struct {
	self       uint64
	kind       uint64
	deps       []uint64
	dependents []uint64
}

type rawIdent struct {
	path, guid, hash string
	typ              uint64
}

type decoder struct {
	types  []string
	idents []graph.Identifier
	raw    []rawIdent
	nodes  []nodeRecord
}

func (d *decoder) body(b []byte, meta *Metadata) error {
	err := wire.Fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		msg, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, nil
		}
		switch num {
		case fieldMetadata:
			return n, d.metadata(msg, meta)
		case fieldAssetType:
			d.types = append(d.types, string(msg))
		case fieldIdentifier:
			return n, d.identifier(msg)
		case fieldNode:
			return n, d.node(msg)
		}
		return n, nil
	})
	if err != nil {
		return err
	}

	d.idents = make([]graph.Identifier, len(d.raw))
	for i, r := range d.raw {
		if r.typ >= uint64(len(d.types)) {
			return fmt.Errorf("identifier %d: asset type %d out of range", i, r.typ)
		}
		d.idents[i] = graph.Identifier{Path: r.path, AssetType: d.types[r.typ], GUID: r.guid, ContentHash: r.hash}
	}
	if meta.Identifiers != len(d.idents) {
		return fmt.Errorf("identifier count mismatch: header says %d, decoded %d", meta.Identifiers, len(d.idents))
	}
	return nil
}

func (d *decoder) metadata(b []byte, meta *Metadata) error {
	return wire.Fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		x, n := protowire.ConsumeVarint(v)
		switch num {
		case fieldCreatedAt:
			meta.CreatedAt = time.UnixMilli(int64(x))
		case fieldNodeCount:
			meta.Nodes = int(x)
		case fieldIdentCount:
			meta.Identifiers = int(x)
		}
		return n, nil
	})
}

func (d *decoder) identifier(b []byte) error {
	var r rawIdent
	err := wire.Fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case typ == protowire.VarintType && num == fieldIdentType:
			x, n := protowire.ConsumeVarint(v)
			r.typ = x
			return n, nil
		case typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			switch num {
			case fieldIdentPath:
				r.path = s
			case fieldIdentGUID:
				r.guid = s
			case fieldIdentHash:
				r.hash = s
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	d.raw = append(d.raw, r)
	return err
}

func (d *decoder) node(b []byte) error {
	var rec nodeRecord
	err := wire.Fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case typ == protowire.VarintType && num == fieldNodeSelf:
			x, n := protowire.ConsumeVarint(v)
			rec.self = x
			return n, nil
		case typ == protowire.VarintType && num == fieldNodeKind:
			x, n := protowire.ConsumeVarint(v)
			rec.kind = x
			return n, nil
		case typ == protowire.BytesType && (num == fieldNodeDeps || num == fieldNodeDependents):
			packed, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			idx, err := wire.Varints(packed)
			if err != nil {
				return n, err
			}
			if num == fieldNodeDeps {
				rec.deps = append(rec.deps, idx...)
			} else {
				rec.dependents = append(rec.dependents, idx...)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	d.nodes = append(d.nodes, rec)
	return err
}

func (d *decoder) ident(i uint64) (graph.Identifier, error) {
	if i >= uint64(len(d.idents)) {
		return graph.Identifier{}, fmt.Errorf("identifier index %d out of range", i)
	}
	return d.idents[i], nil
}

func (d *decoder) set(indices []uint64) (graph.IdentifierSet, error) {
	s := make(graph.IdentifierSet, len(indices))
	for _, i := range indices {
		id, err := d.ident(i)
		if err != nil {
			return nil, err
		}
		s.Add(id)
	}
	return s, nil
}
