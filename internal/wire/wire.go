// Package wire holds the protobuf wire-format walkers shared by the task,
// result and snapshot codecs.
package wire

import "google.golang.org/protobuf/encoding/protowire"

// FieldFunc consumes one field value and returns the number of bytes it
// used, or a negative protowire error code.
type FieldFunc func(num protowire.Number, typ protowire.Type, v []byte) (int, error)

// Fields walks the fields of b in order.
func Fields(b []byte, fn FieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// Messages calls fn with every length-delimited field num of b. Other
// fields are skipped.
func Messages(b []byte, num protowire.Number, fn func(msg []byte) error) error {
	return Fields(b, func(n protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if n != num || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(n, typ, v), nil
		}
		msg, m := protowire.ConsumeBytes(v)
		if m < 0 {
			return m, nil
		}
		return m, fn(msg)
	})
}

// Varints decodes a packed run of varints.
func Varints(b []byte) ([]uint64, error) {
	var out []uint64
	for len(b) > 0 {
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, x)
		b = b[n:]
	}
	return out, nil
}
