// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package goose

import (
	"fmt"

	"github.com/hhorai/goosesec/internal/canon"
)

// MMS Data CHOICE tags used for the allData entries this encoder emits and
// DecodeAllData decodes back. The verifier's own dataset canonicalization
// (DatasetCanonFromFrame) reads allData positionally and does not depend on
// these tag values; only the subscriber's dataset decode does.
const (
	BoolElementTag  = 0x83
	IntElementTag   = 0x85
	OtherElementTag = 0x84
	TagElementTag   = 0x89
)

func encodeLen(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var octs []byte
	for v := n; v > 0; v >>= 8 {
		octs = append([]byte{byte(v)}, octs...)
	}
	return append([]byte{0x80 | byte(len(octs))}, octs...)
}

func tlv(tag byte, value []byte) []byte {
	out := append([]byte{tag}, encodeLen(len(value))...)
	return append(out, value...)
}

// beInt returns the minimal big-endian two's-complement encoding of v, as a
// BER INTEGER content octet string (always at least one byte).
func beInt(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	neg := v < 0
	for {
		out = append([]byte{byte(v)}, out...)
		v >>= 8
		if (neg && v == -1) || (!neg && v == 0) {
			break
		}
	}
	// Ensure the sign bit of the leading octet matches the value's sign.
	if neg && out[0]&0x80 == 0 {
		out = append([]byte{0xFF}, out...)
	} else if !neg && out[0]&0x80 != 0 {
		out = append([]byte{0x00}, out...)
	}
	return out
}

func boolByte(b bool) []byte {
	if b {
		return []byte{0xFF}
	}
	return []byte{0x00}
}

// FrameParams is everything BuildFrame needs to produce one GOOSE Ethernet
// frame, mirroring a publication record's fields.
type FrameParams struct {
	DstMAC  [6]byte
	SrcMAC  [6]byte
	VlanID  int // 0 disables the 802.1Q tag
	VlanPriority int

	AppID               uint16
	GocbRef             string
	TimeAllowedToLiveMs int
	DatSet              string
	GoID                string
	ConfRev             int
	NdsCom              bool
	Test                bool

	StNum uint32
	SqNum uint32

	Dataset []canon.DataField
	// Tag, if non-empty, is appended as the final allData entry (the HMAC
	// authentication tag).
	Tag []byte
}

// buildAllData encodes the dataset entries plus the optional trailing tag
// into the allData SEQUENCE OF value bytes.
func buildAllData(fields []canon.DataField, tag []byte) []byte {
	var out []byte
	for _, f := range fields {
		switch f.Type {
		case canon.Boolean:
			out = append(out, tlv(BoolElementTag, boolByte(f.Bool))...)
		case canon.Integer:
			out = append(out, tlv(IntElementTag, beInt(int64(f.Int32)))...)
		case canon.Other:
			out = append(out, tlv(OtherElementTag, f.Raw)...)
		}
	}
	if len(tag) > 0 {
		out = append(out, tlv(TagElementTag, tag)...)
	}
	return out
}

// buildAPDU encodes the GOOSE PDU SEQUENCE (tag 0x61) in positional field
// order per IEC 61850-8-1's GOOSE ASN.1 module: gocbRef, timeAllowedtoLive,
// datSet, goID, t, stNum, sqNum, test, confRev, ndsCom,
// numDatSetEntries, allData.
func buildAPDU(p FrameParams) []byte {
	var v []byte
	v = append(v, tlv(0x80, []byte(p.GocbRef))...)
	v = append(v, tlv(0x81, beInt(int64(p.TimeAllowedToLiveMs)))...)
	v = append(v, tlv(0x82, []byte(p.DatSet))...)
	v = append(v, tlv(0x83, []byte(p.GoID))...)
	v = append(v, tlv(0x84, make([]byte, 8))...) // t: UtcTime, not examined by the verifier
	v = append(v, tlv(0x85, beInt(int64(p.StNum)))...)
	v = append(v, tlv(0x86, beInt(int64(p.SqNum)))...)
	v = append(v, tlv(0x87, boolByte(p.Test))...)
	v = append(v, tlv(0x88, beInt(int64(p.ConfRev)))...)
	v = append(v, tlv(0x89, boolByte(p.NdsCom))...)

	allData := buildAllData(p.Dataset, p.Tag)
	numEntries := len(p.Dataset)
	if len(p.Tag) > 0 {
		numEntries++
	}
	v = append(v, tlv(0x8A, beInt(int64(numEntries)))...)
	v = append(v, tlv(AllDataTag, allData)...)

	return tlv(APDUTag, v)
}

// BuildFrame encodes p into a complete Ethernet frame: header (with an
// optional 802.1Q tag), the APPID/Length/Reserved1/Reserved2 GOOSE PDU
// header, and the APDU.
func BuildFrame(p FrameParams) ([]byte, error) {
	if p.AppID == 0 {
		return nil, fmt.Errorf("goose: appId is required")
	}
	apdu := buildAPDU(p)

	var frame []byte
	frame = append(frame, p.DstMAC[:]...)
	frame = append(frame, p.SrcMAC[:]...)
	if p.VlanID > 0 {
		tci := uint16(p.VlanPriority&0x7)<<13 | uint16(p.VlanID&0x0FFF)
		frame = append(frame, byte(EtherTypeVLAN>>8), byte(EtherTypeVLAN&0xFF))
		frame = append(frame, byte(tci>>8), byte(tci))
	}
	frame = append(frame, byte(EtherTypeGOOSE>>8), byte(EtherTypeGOOSE&0xFF))
	frame = append(frame, byte(p.AppID>>8), byte(p.AppID))

	pduLen := 8 + len(apdu)
	if pduLen > 0xFFFF {
		return nil, fmt.Errorf("goose: PDU length %d overflows 16 bits", pduLen)
	}
	frame = append(frame, byte(pduLen>>8), byte(pduLen))
	frame = append(frame, 0, 0, 0, 0) // reserved1, reserved2
	frame = append(frame, apdu...)

	if len(frame) < minFrameLen {
		frame = append(frame, make([]byte, minFrameLen-len(frame))...)
	}
	return frame, nil
}
