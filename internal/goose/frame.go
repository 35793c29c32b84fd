// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package goose implements the Ethernet/VLAN and BER-level frame handling
// shared by the gateway, publisher and subscriber: locating the GOOSE APDU,
// extracting stNum/sqNum/allData/tag candidates, verifying the
// authentication tag, stripping it, and building frames for publication.
package goose

import (
	"fmt"

	"github.com/hhorai/goosesec/internal/ber"
)

// EtherType values this engine recognizes on the wire.
const (
	EtherTypeVLAN = 0x8100
	EtherTypeGOOSE = 0x88b8
	EtherTypePTP   = 0x88f7
)

// APDUTag is the outer GOOSE PDU SEQUENCE tag and AllDataTag is the
// allData SEQUENCE OF tag, both from IEC 61850-8-1's GOOSE ASN.1 module.
const (
	APDUTag    = 0x61
	AllDataTag = 0xAB
)

// minFrameLen is the shortest Ethernet frame goose_extract_meta accepts.
const minFrameLen = 42

func be16(b []byte, off int) uint16 { return uint16(b[off])<<8 | uint16(b[off+1]) }

func setBE16(b []byte, off int, v uint16) {
	b[off] = byte(v >> 8)
	b[off+1] = byte(v)
}

// Offsets describes where the APDU and the APPID length field sit within a
// frame, depending on whether an 802.1Q VLAN tag is present.
type Offsets struct {
	ApduOff   int
	AppLenOff int
	HasVLAN   bool
}

// ParseEther inspects the Ethernet header (and, if present, the 802.1Q tag)
// to locate the GOOSE APDU. It returns an error if the frame is too short
// or carries neither a bare nor VLAN-tagged GOOSE EtherType.
func ParseEther(frame []byte) (Offsets, uint16, error) {
	if len(frame) < minFrameLen {
		return Offsets{}, 0, fmt.Errorf("goose: frame too short (%d bytes)", len(frame))
	}
	et := be16(frame, 12)
	switch et {
	case EtherTypeVLAN:
		if len(frame) < 26 || be16(frame, 16) != EtherTypeGOOSE {
			return Offsets{}, 0, fmt.Errorf("goose: VLAN-tagged frame is not GOOSE")
		}
		return Offsets{ApduOff: 26, AppLenOff: 20, HasVLAN: true}, be16(frame, 18), nil
	case EtherTypeGOOSE:
		return Offsets{ApduOff: 22, AppLenOff: 16, HasVLAN: false}, be16(frame, 14), nil
	default:
		return Offsets{}, 0, fmt.Errorf("goose: unrecognized ethertype 0x%04x", et)
	}
}

// IsGOOSE reports whether frame carries a GOOSE EtherType, bare or
// VLAN-tagged, without requiring the rest of the frame to be well-formed.
func IsGOOSE(frame []byte) bool {
	if len(frame) < 14 {
		return false
	}
	et := be16(frame, 12)
	if et == EtherTypeGOOSE {
		return true
	}
	if et == EtherTypeVLAN && len(frame) >= 18 {
		return be16(frame, 16) == EtherTypeGOOSE
	}
	return false
}

// IsPTP reports whether frame carries the PTP EtherType, bare or
// VLAN-tagged; such frames pass through the gateway unexamined.
func IsPTP(frame []byte) bool {
	if len(frame) < 14 {
		return false
	}
	et := be16(frame, 12)
	if et == EtherTypePTP {
		return true
	}
	if et == EtherTypeVLAN && len(frame) >= 18 {
		return be16(frame, 16) == EtherTypePTP
	}
	return false
}

// Region is a half-open byte range [Start, End) within a frame.
type Region struct {
	Start int
	End   int
}

func (r Region) empty() bool { return r.Start == 0 && r.End == 0 }

// LocateSeqAndAllData decodes the outer APDU SEQUENCE's value region and, if
// present, the allData SEQUENCE OF's value region within it.
func LocateSeqAndAllData(frame []byte, apduOff int) (seq, all Region, haveAll bool, err error) {
	if apduOff+2 > len(frame) || frame[apduOff] != APDUTag {
		return Region{}, Region{}, false, fmt.Errorf("goose: no APDU SEQUENCE at offset %d", apduOff)
	}
	ln, err := ber.ReadLength(frame, len(frame), apduOff+1)
	if err != nil {
		return Region{}, Region{}, false, err
	}
	v := apduOff + 1 + ln.Nlen
	e := v + int(ln.Value)
	if e > len(frame) {
		return Region{}, Region{}, false, fmt.Errorf("goose: APDU SEQUENCE extends past frame")
	}
	seq = Region{Start: v, End: e}

	p := v
	for p+2 <= e {
		if frame[p] == AllDataTag {
			l2, err := ber.ReadLength(frame, e, p+1)
			if err != nil {
				break
			}
			av := p + 1 + l2.Nlen
			ae := av + int(l2.Value)
			all = Region{Start: av, End: ae}
			haveAll = true
			break
		}
		tlv, err := ber.ReadTLV(frame, e, p)
		if err != nil {
			break
		}
		next := tlv.Pos + tlv.Total()
		if next <= p || next > e {
			break
		}
		p = next
	}
	return seq, all, haveAll, nil
}

// Meta is the set of fields the gateway, subscriber and verifier all need
// out of a received GOOSE frame.
type Meta struct {
	AppID  uint16
	StNum  uint32
	SqNum  uint32
	TagPos int // -1 if no tag candidate was found
	TagLen int
}

// ExtractMeta decodes appId, stNum, sqNum and locates the trailing tag
// candidate inside allData (the last TLV, whatever its tag, if its value
// length is in [8, 64]), mirroring goose_extract_meta's flexible-tag scan.
func ExtractMeta(frame []byte) (Meta, error) {
	m := Meta{TagPos: -1}
	off, appID, err := ParseEther(frame)
	if err != nil {
		return Meta{}, err
	}
	m.AppID = appID

	seq, all, haveAll, err := LocateSeqAndAllData(frame, off.ApduOff)
	if err != nil {
		return Meta{}, err
	}

	foundSt, foundSq := false, false
	p := seq.Start
	for p+2 <= seq.End {
		tag := frame[p]
		ln, err := ber.ReadLength(frame, seq.End, p+1)
		if err != nil {
			break
		}
		if ln.Value <= 4 {
			valStart := p + 1 + ln.Nlen
			if !foundSt && (tag == 0x85 || tag == 0x87 || tag == 0x02) {
				var v uint32
				for k := 0; k < int(ln.Value); k++ {
					v = v<<8 | uint32(frame[valStart+k])
				}
				m.StNum = v
				foundSt = true
			} else if foundSt && !foundSq && (tag == 0x86 || tag == 0x88 || tag == 0x02) {
				var v uint32
				for k := 0; k < int(ln.Value); k++ {
					v = v<<8 | uint32(frame[valStart+k])
				}
				m.SqNum = v
				foundSq = true
			}
		}
		next := p + 1 + ln.Nlen + int(ln.Value)
		if next <= p {
			break
		}
		p = next
		if foundSt && foundSq {
			break
		}
	}
	if !foundSt || !foundSq {
		return Meta{}, fmt.Errorf("goose: stNum/sqNum not found in APDU")
	}

	if haveAll && !all.empty() && all.End > all.Start && all.End <= seq.End {
		lastPos, lastLen, lastVal := -1, 0, uint32(0)
		p := all.Start
		for p+2 <= all.End {
			ln, err := ber.ReadLength(frame, all.End, p+1)
			if err != nil {
				break
			}
			total := 1 + ln.Nlen + int(ln.Value)
			next := p + total
			if next > all.End {
				break
			}
			lastPos, lastLen, lastVal = p, total, ln.Value
			p = next
		}
		if lastPos >= 0 && lastVal >= 8 && lastVal <= 64 {
			m.TagPos, m.TagLen = lastPos, lastLen
		}
	}

	return m, nil
}

// DatasetCanonFromFrame replays make_dataset_canon_from_frame: it walks the
// allData entries strictly before tagPos and canonicalizes the first as a
// boolean and the second as an integer, matching BuildDataset's wire form.
// Any entries beyond the second, or when no tag candidate precedes them,
// are not included, matching the original's two-field MVP limit.
func DatasetCanonFromFrame(frame []byte, apduOff, tagPos int) []byte {
	_, all, haveAll, err := LocateSeqAndAllData(frame, apduOff)
	if err != nil || !haveAll {
		return nil
	}
	var out []byte
	p := all.Start
	idx := 0
	for p < tagPos && p+2 <= all.End {
		ln, err := ber.ReadLength(frame, all.End, p+1)
		if err != nil {
			break
		}
		valStart := p + 1 + ln.Nlen
		val := frame[valStart : valStart+int(ln.Value)]

		switch idx {
		case 0:
			var b byte
			if len(val) > 0 && val[len(val)-1] != 0 {
				b = 1
			}
			out = append(out, 0x01, 0x01, b)
		case 1:
			var u uint32
			if len(val) > 0 && val[0]&0x80 != 0 {
				u = 0xFFFFFFFF // sign-extend a negative minimal encoding
			}
			for _, c := range val {
				u = u<<8 | uint32(c)
			}
			out = append(out, 0x02, 0x04, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
		default:
			p = all.End // stop
			continue
		}
		idx++
		next := p + 1 + ln.Nlen + int(ln.Value)
		if next <= p {
			break
		}
		p = next
		if p >= tagPos {
			break
		}
	}
	return out
}

// DatasetElement is one raw allData entry: its BER tag and content octets,
// as produced by BuildFrame/buildAllData.
type DatasetElement struct {
	Tag byte
	Raw []byte
}

// DecodeAllData walks every entry in allData, regardless of tag, returning
// them in wire order. The subscriber uses this to reconstruct dataset
// values for trip-rule evaluation; the verifier's own dataset
// canonicalization uses DatasetCanonFromFrame instead.
func DecodeAllData(frame []byte, apduOff int) ([]DatasetElement, error) {
	_, all, haveAll, err := LocateSeqAndAllData(frame, apduOff)
	if err != nil {
		return nil, err
	}
	if !haveAll {
		return nil, nil
	}
	var out []DatasetElement
	p := all.Start
	for p+2 <= all.End {
		ln, err := ber.ReadLength(frame, all.End, p+1)
		if err != nil {
			break
		}
		valStart := p + 1 + ln.Nlen
		valEnd := valStart + int(ln.Value)
		if valEnd > all.End {
			break
		}
		out = append(out, DatasetElement{Tag: frame[p], Raw: append([]byte(nil), frame[valStart:valEnd]...)})
		if valEnd <= p {
			break
		}
		p = valEnd
	}
	return out, nil
}
