package bytecode

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func buildSampleChunk() *Chunk {
	c := NewChunk()
	idx := c.AddConst(42)
	c.Code = append(c.Code, byte(OpConst))
	c.Code = binary.BigEndian.AppendUint32(c.Code, idx)
	sidx := c.AddString("hello")
	c.Code = append(c.Code, byte(OpStr))
	c.Code = binary.BigEndian.AppendUint32(c.Code, sidx)
	c.Code = append(c.Code, byte(OpPrint))
	c.Code = append(c.Code, byte(OpRet))
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := buildSampleChunk()

	data, err := Encode(c)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := []byte{0, 0, 0, 0, 1, 0}
	_, err := Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	c := buildSampleChunk()
	data, err := Encode(c)
	require.NoError(t, err)
	data[4] = 99 // version byte
	_, err = Decode(data)
	require.Error(t, err)
}

func TestEncodeDecodeEmptyChunk(t *testing.T) {
	c := NewChunk()
	data, err := Encode(c)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Empty(t, got.Code)
	require.Empty(t, got.Consts)
	require.Empty(t, got.Strings)
}
