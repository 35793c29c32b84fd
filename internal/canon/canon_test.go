// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package canon

import "testing"

func TestBuildOrderAndTags(t *testing.T) {
	ds := BuildDataset([]DataField{
		{Type: Boolean, Bool: true},
		{Type: Integer, Int32: 42},
	})
	got := Build(Tuple{
		GoID:    "goID1",
		GocbRef: "ref1",
		AppID:   100,
		StNum:   1,
		SqNum:   2,
		DataSet: ds,
	})

	want := []byte{0xF0, 5, 'G', 'O', 'O', 'S', 'E'}
	if len(got) < len(want) {
		t.Fatalf("got % x too short", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("first field not magic: got % x", got[:len(want)])
		}
	}
	// second field: F0-tagged goID
	off := len(want)
	if got[off] != 0xF0 || got[off+1] != 5 || string(got[off+2:off+7]) != "goID1" {
		t.Fatalf("goID field mismatch at %d: % x", off, got[off:off+7])
	}
}

func TestBuildDatasetBooleanAndInteger(t *testing.T) {
	ds := BuildDataset([]DataField{
		{Type: Boolean, Bool: true},
		{Type: Boolean, Bool: false},
		{Type: Integer, Int32: -1},
	})
	want := []byte{
		0x01, 0x01, 0x01,
		0x01, 0x01, 0x00,
		0x02, 0x04, 0xFF, 0xFF, 0xFF, 0xFF,
	}
	if len(ds) != len(want) {
		t.Fatalf("got % x, want % x", ds, want)
	}
	for i := range want {
		if ds[i] != want[i] {
			t.Fatalf("byte %d: got %x, want %x", i, ds[i], want[i])
		}
	}
}

func TestBuildDatasetOtherFieldIgnored(t *testing.T) {
	ds := BuildDataset([]DataField{
		{Type: Boolean, Bool: true},
		{Type: Other, Raw: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	})
	want := []byte{0x01, 0x01, 0x01}
	if len(ds) != len(want) || ds[0] != want[0] {
		t.Fatalf("Other field contributed to canonical bytes: % x", ds)
	}
}

func TestBuildDeterministic(t *testing.T) {
	tup := Tuple{GoID: "g", GocbRef: "r", AppID: 1, StNum: 1, SqNum: 1}
	a := Build(tup)
	b := Build(tup)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic output lengths")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("non-deterministic output at byte %d", i)
		}
	}
}
