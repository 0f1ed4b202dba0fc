// This file implements serialization and deserialization for .emc bytecode
// container files.
//
// File Format Specification:
//
// The .emc format is a binary container for a single compiled Ember Chunk.
// All multi-byte integers are big-endian (spec.md §6: "big-endian
// multi-byte operands, no alignment" extends to the on-disk container).
//
//	Header:
//	  magic    uint32  "EMBR" (0x454D4252)
//	  version  uint8   1
//	  flags    uint8   reserved, currently 0
//
//	Number pool (cp):
//	  count    uint32
//	  values   float64 * count
//
//	String pool (sp):
//	  count    uint32
//	  { len uint32; bytes []byte } * count
//
//	Code:
//	  len      uint32
//	  bytes    []byte
package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	magicNumber  uint32 = 0x454D4252 // "EMBR"
	formatVersion byte  = 1
)

// Encode serializes a chunk into the .emc container format.
func Encode(c *Chunk) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, magicNumber); err != nil {
		return nil, err
	}
	buf.WriteByte(formatVersion)
	buf.WriteByte(0) // flags, reserved

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(c.Consts))); err != nil {
		return nil, err
	}
	for _, v := range c.Consts {
		if err := binary.Write(&buf, binary.BigEndian, math.Float64bits(v)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(c.Strings))); err != nil {
		return nil, err
	}
	for _, s := range c.Strings {
		writeString(&buf, s)
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(c.Code))); err != nil {
		return nil, err
	}
	buf.Write(c.Code)

	return buf.Bytes(), nil
}

// Decode parses a .emc container back into a Chunk.
func Decode(data []byte) (*Chunk, error) {
	r := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != magicNumber {
		return nil, fmt.Errorf("not an Ember bytecode file: bad magic %#x", magic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported bytecode format version %d", version)
	}
	if _, err := r.ReadByte(); err != nil { // flags, unused
		return nil, err
	}

	var numConsts uint32
	if err := binary.Read(r, binary.BigEndian, &numConsts); err != nil {
		return nil, err
	}
	consts := make([]float64, numConsts)
	for i := range consts {
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, err
		}
		consts[i] = math.Float64frombits(bits)
	}

	var numStrings uint32
	if err := binary.Read(r, binary.BigEndian, &numStrings); err != nil {
		return nil, err
	}
	strs := make([]string, numStrings)
	for i := range strs {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		strs[i] = s
	}

	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, err
	}

	return &Chunk{Code: code, Consts: consts, Strings: strs}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
