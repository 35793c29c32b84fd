// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package canon builds the canonical byte string signed and verified by the
// GOOSE authentication pipeline.
package canon

import "github.com/hhorai/goosesec/internal/ber"

// Tuple is the security-binding tuple that both publisher and verifier must
// canonicalize identically.
type Tuple struct {
	GoID     string
	GocbRef  string
	AppID    uint16
	StNum    uint32
	SqNum    uint32
	DataSet  []byte // already-canonicalized dataset bytes, see BuildDataset
}

const magic = "GOOSE"

// Build serializes t into the fixed F0/F1/F2/F3 TLV sequence: "GOOSE", goID,
// gocbRef, appId, stNum, sqNum, dataset — in that mandatory order.
func Build(t Tuple) []byte {
	var buf []byte
	buf = ber.PutString(buf, magic)
	buf = ber.PutString(buf, t.GoID)
	buf = ber.PutString(buf, t.GocbRef)
	buf = ber.PutUint16(buf, t.AppID)
	buf = ber.PutUint32(buf, t.StNum)
	buf = ber.PutUint32(buf, t.SqNum)
	buf = ber.PutBlob(buf, t.DataSet)
	return buf
}

// DataField is one typed element of a GOOSE dataset. Only Boolean and
// Integer contribute to the canonical dataset bytes; any other Type is
// ignored by BuildDataset. Raw carries the on-wire bytes for an Other field
// (e.g. binarytime), which the frame encoder still places on the wire even
// though it is never signed.
type DataField struct {
	Type  FieldType
	Bool  bool
	Int32 int32
	Raw   []byte
}

// FieldType enumerates the dataset field kinds the canonicalizer recognizes.
type FieldType int

const (
	Boolean FieldType = iota
	Integer
	// Other field kinds (e.g. binarytime) may appear in a real dataset but
	// never reach BuildDataset's canonical form.
	Other
)

// BuildDataset serializes fields into the canonical dataset bytes: each
// boolean as BER tag 0x01 length 0x01, each integer as tag 0x02 length 0x04
// two's-complement big-endian. Fields are not type-labeled in the output —
// the wire form already fixes each position's semantic type.
func BuildDataset(fields []DataField) []byte {
	var buf []byte
	for _, f := range fields {
		switch f.Type {
		case Boolean:
			var v byte
			if f.Bool {
				v = 0x01
			}
			buf = append(buf, 0x01, 0x01, v)
		case Integer:
			u := uint32(f.Int32)
			buf = append(buf, 0x02, 0x04, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
		default:
			// not part of the canonical dataset
		}
	}
	return buf
}
