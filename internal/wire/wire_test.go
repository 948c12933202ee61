package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFields_VisitsInOrder(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 300)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "assets/a.mat")

	var nums []protowire.Number
	err := Fields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		nums = append(nums, num)
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []protowire.Number{1, 2}, nums)
}

func TestFields_Truncated(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "assets/a.mat")

	err := Fields(b[:len(b)-3], func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	assert.Error(t, err)
}

func TestMessages_SkipsOtherFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("first"))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("ignored"))
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("second"))

	var got []string
	err := Messages(b, 1, func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestVarints(t *testing.T) {
	var b []byte
	for _, x := range []uint64{0, 1, 127, 128, 1 << 40} {
		b = protowire.AppendVarint(b, x)
	}
	got, err := Varints(b)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 127, 128, 1 << 40}, got)

	_, err = Varints([]byte{0x80})
	assert.Error(t, err)
}
