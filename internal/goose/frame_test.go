// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package goose

import (
	"testing"

	"github.com/hhorai/goosesec/internal/canon"
)

func testFrameParams(stNum, sqNum uint32, tag []byte) FrameParams {
	return FrameParams{
		DstMAC:              [6]byte{0x01, 0x0C, 0xCD, 0x01, 0x00, 0x01},
		SrcMAC:              [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		AppID:               0x4001,
		GocbRef:             "IED1LD0/LLN0$GO$gcb1",
		DatSet:              "IED1LD0/LLN0$DS1",
		GoID:                "IED1LD0/LLN0$GO$gcb1",
		TimeAllowedToLiveMs: 2000,
		ConfRev:             1,
		StNum:               stNum,
		SqNum:               sqNum,
		Dataset: []canon.DataField{
			{Type: canon.Boolean, Bool: true},
			{Type: canon.Integer, Int32: 7},
		},
		Tag: tag,
	}
}

func TestBuildFrameAndParseEther(t *testing.T) {
	frame, err := BuildFrame(testFrameParams(1, 0, make([]byte, 32)))
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	off, appID, err := ParseEther(frame)
	if err != nil {
		t.Fatalf("ParseEther: %v", err)
	}
	if off.HasVLAN {
		t.Fatal("no VLAN tag was requested")
	}
	if appID != 0x4001 {
		t.Fatalf("got appId %#x, want 0x4001", appID)
	}
	if !IsGOOSE(frame) {
		t.Fatal("built frame should report IsGOOSE")
	}
	if IsPTP(frame) {
		t.Fatal("built frame should not report IsPTP")
	}
}

func TestBuildFrameVLAN(t *testing.T) {
	p := testFrameParams(1, 0, nil)
	p.VlanID = 100
	p.VlanPriority = 4
	frame, err := BuildFrame(p)
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	off, _, err := ParseEther(frame)
	if err != nil {
		t.Fatalf("ParseEther: %v", err)
	}
	if !off.HasVLAN || off.ApduOff != 26 {
		t.Fatalf("got %+v, want VLAN apduOff=26", off)
	}
}

func TestExtractMetaRoundTrip(t *testing.T) {
	frame, err := BuildFrame(testFrameParams(10, 3, bytesOfLen(16)))
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	m, err := ExtractMeta(frame)
	if err != nil {
		t.Fatalf("ExtractMeta: %v", err)
	}
	if m.StNum != 10 || m.SqNum != 3 {
		t.Fatalf("got stNum=%d sqNum=%d, want 10/3", m.StNum, m.SqNum)
	}
	if m.TagPos < 0 || m.TagLen == 0 {
		t.Fatalf("expected a tag candidate, got %+v", m)
	}
}

func TestDatasetCanonFromFrameMatchesCanonBuildDataset(t *testing.T) {
	fields := []canon.DataField{
		{Type: canon.Boolean, Bool: true},
		{Type: canon.Integer, Int32: 99},
	}
	p := testFrameParams(1, 0, bytesOfLen(16))
	p.Dataset = fields
	frame, err := BuildFrame(p)
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	m, err := ExtractMeta(frame)
	if err != nil {
		t.Fatalf("ExtractMeta: %v", err)
	}
	off, _, err := ParseEther(frame)
	if err != nil {
		t.Fatalf("ParseEther: %v", err)
	}
	got := DatasetCanonFromFrame(frame, off.ApduOff, m.TagPos)
	want := canon.BuildDataset(fields)
	if len(got) != len(want) {
		t.Fatalf("got % x, want % x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %x, want %x", i, got[i], want[i])
		}
	}
}

func TestDecodeAllDataSkipsNothingButPreservesOrder(t *testing.T) {
	p := testFrameParams(1, 0, bytesOfLen(16))
	frame, err := BuildFrame(p)
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	off, _, err := ParseEther(frame)
	if err != nil {
		t.Fatalf("ParseEther: %v", err)
	}
	elems, err := DecodeAllData(frame, off.ApduOff)
	if err != nil {
		t.Fatalf("DecodeAllData: %v", err)
	}
	// two dataset entries plus the trailing tag entry.
	if len(elems) != 3 {
		t.Fatalf("got %d elements, want 3", len(elems))
	}
	if elems[0].Tag != BoolElementTag || elems[1].Tag != IntElementTag || elems[2].Tag != TagElementTag {
		t.Fatalf("got tags %x %x %x", elems[0].Tag, elems[1].Tag, elems[2].Tag)
	}
}

func bytesOfLen(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}
