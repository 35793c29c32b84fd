// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package goose

import (
	"fmt"

	"github.com/hhorai/goosesec/internal/ber"
)

// StripTag removes the tagLen bytes at tagPos from frame in place (a single
// trailing memmove), then repairs the allData length (if the tag sat inside
// one), the outer APDU SEQUENCE length unconditionally, and the 16-bit
// APPID length field. It returns the frame's new length; frame's backing
// array is unchanged in size, so callers must re-slice to [:newLen].
func StripTag(frame []byte, tagPos, tagLen int) (newLen int, err error) {
	flen := len(frame)
	if flen < minFrameLen || tagPos <= 0 || tagLen < 2 {
		return 0, fmt.Errorf("goose: strip: invalid tag region pos=%d len=%d", tagPos, tagLen)
	}

	off, _, err := ParseEther(frame)
	if err != nil {
		return 0, err
	}
	if tagPos < off.ApduOff || tagPos+tagLen > flen {
		return 0, fmt.Errorf("goose: strip: tag region out of bounds")
	}

	seqTag := off.ApduOff
	seqLen, err := ber.ReadLength(frame, flen, seqTag+1)
	if err != nil {
		return 0, fmt.Errorf("goose: strip: %w", err)
	}
	seqV := seqTag + 1 + seqLen.Nlen

	var allLPos, allNlen int
	var allLval uint32
	haveAll := false
	for i := seqV; i+2 <= flen; {
		if frame[i] == AllDataTag {
			ln, err := ber.ReadLength(frame, flen, i+1)
			if err != nil {
				return 0, fmt.Errorf("goose: strip: %w", err)
			}
			v := i + 1 + ln.Nlen
			e := v + int(ln.Value)
			if e > flen {
				return 0, fmt.Errorf("goose: strip: allData extends past frame")
			}
			if tagPos >= v && tagPos+tagLen <= e {
				allLPos, allNlen, allLval = i+1, ln.Nlen, ln.Value
				haveAll = true
			}
			break
		}
		tlv, err := ber.ReadTLV(frame, flen, i)
		if err != nil {
			break
		}
		i = tlv.Pos + tlv.Total()
	}

	// 1) remove the trailing TLV with one shift.
	tailSrc := tagPos + tagLen
	copy(frame[tagPos:], frame[tailSrc:flen])
	flen -= tagLen

	// 2) shrink allData's length, if the tag sat inside one.
	if haveAll {
		if err := ber.WriteLength(frame, allLPos, allLval-uint32(tagLen), allNlen); err != nil {
			return 0, fmt.Errorf("goose: strip: allData length: %w", err)
		}
	}

	// 3) shrink the outer SEQUENCE length unconditionally.
	if err := ber.WriteLength(frame, seqTag+1, seqLen.Value-uint32(tagLen), seqLen.Nlen); err != nil {
		return 0, fmt.Errorf("goose: strip: APDU length: %w", err)
	}

	// 4) shrink the 16-bit APPID length field.
	appLen := be16(frame, off.AppLenOff)
	setBE16(frame, off.AppLenOff, appLen-uint16(tagLen))

	return flen, nil
}

// FindTailTLV is the fallback tag locator used when the primary allData
// walk produced no candidate (e.g. allowUnsigned streams still carrying a
// stray trailing element): it scans backward for a TLV that ends exactly
// at the frame's end with a value length in [8, 64].
func FindTailTLV(frame []byte, apduOff int) (pos, length int, ok bool) {
	flen := len(frame)
	for p := flen - 2; p >= apduOff; p-- {
		if p+2 > flen {
			continue
		}
		ln, err := ber.ReadLength(frame, flen, p+1)
		if err != nil {
			continue
		}
		total := 1 + ln.Nlen + int(ln.Value)
		if p+total != flen {
			continue
		}
		if ln.Value < 8 || ln.Value > 64 {
			continue
		}
		return p, total, true
	}
	return 0, 0, false
}
