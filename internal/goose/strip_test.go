// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package goose

import (
	"testing"

	"github.com/hhorai/goosesec/internal/canon"
)

func TestStripTagShrinksFrameAndLengths(t *testing.T) {
	fields := []canon.DataField{
		{Type: canon.Boolean, Bool: true},
		{Type: canon.Integer, Int32: 7},
	}
	tag := make([]byte, 16)
	for i := range tag {
		tag[i] = byte(i)
	}
	frame, err := BuildFrame(FrameParams{
		DstMAC:  [6]byte{1, 2, 3, 4, 5, 6},
		SrcMAC:  [6]byte{6, 5, 4, 3, 2, 1},
		AppID:   0x4001,
		GocbRef: "ref",
		GoID:    "go",
		DatSet:  "ds",
		ConfRev: 1,
		StNum:   1,
		SqNum:   0,
		Dataset: fields,
		Tag:     tag,
	})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}

	m, err := ExtractMeta(frame)
	if err != nil {
		t.Fatalf("ExtractMeta: %v", err)
	}
	origLen := len(frame)

	newLen, err := StripTag(frame, m.TagPos, m.TagLen)
	if err != nil {
		t.Fatalf("StripTag: %v", err)
	}
	stripped := frame[:newLen]

	if newLen != origLen-m.TagLen {
		t.Fatalf("got newLen=%d, want %d", newLen, origLen-m.TagLen)
	}
	if !IsGOOSE(stripped) {
		t.Fatal("stripped frame should still be GOOSE")
	}
	if _, err := ExtractMeta(stripped); err != nil {
		t.Fatalf("stripped frame must still parse: %v", err)
	}

	off, _, err := ParseEther(stripped)
	if err != nil {
		t.Fatalf("ParseEther: %v", err)
	}
	seq, all, haveAll, err := LocateSeqAndAllData(stripped, off.ApduOff)
	if err != nil {
		t.Fatalf("LocateSeqAndAllData: %v", err)
	}
	if seq.End > newLen {
		t.Fatal("SEQUENCE value region extends past stripped frame")
	}
	if haveAll && all.End > seq.End {
		t.Fatal("allData value region extends past SEQUENCE")
	}
}

func TestFindTailTLVLocatesTrailingElement(t *testing.T) {
	tag := make([]byte, 32)
	frame, err := BuildFrame(FrameParams{
		DstMAC:  [6]byte{1, 2, 3, 4, 5, 6},
		SrcMAC:  [6]byte{6, 5, 4, 3, 2, 1},
		AppID:   0x4001,
		GocbRef: "ref",
		GoID:    "go",
		DatSet:  "ds",
		ConfRev: 1,
		StNum:   1,
		SqNum:   0,
		Dataset: []canon.DataField{{Type: canon.Boolean, Bool: true}},
		Tag:     tag,
	})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	off, _, err := ParseEther(frame)
	if err != nil {
		t.Fatalf("ParseEther: %v", err)
	}
	pos, length, ok := FindTailTLV(frame, off.ApduOff)
	if !ok {
		t.Fatal("expected a tail TLV candidate")
	}
	if pos+length != len(frame) {
		t.Fatalf("tail TLV does not end at frame end: pos=%d len=%d framelen=%d", pos, length, len(frame))
	}
}

func TestStripTagRejectsInvalidRegion(t *testing.T) {
	frame, err := BuildFrame(FrameParams{
		DstMAC:  [6]byte{1, 2, 3, 4, 5, 6},
		SrcMAC:  [6]byte{6, 5, 4, 3, 2, 1},
		AppID:   0x4001,
		GocbRef: "ref",
		GoID:    "go",
		DatSet:  "ds",
		ConfRev: 1,
		StNum:   1,
		SqNum:   0,
	})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	if _, err := StripTag(frame, 0, 1); err == nil {
		t.Fatal("expected error for an invalid tag region")
	}
}
