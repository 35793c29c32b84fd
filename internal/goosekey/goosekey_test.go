// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package goosekey

import (
	"bytes"
	"testing"
)

func TestBuildInfoDefaultFormat(t *testing.T) {
	got := BuildInfo("", "goID1", "ref1", 100)
	want := "GOOSE|goID1|ref1|100"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildInfoCustomFormat(t *testing.T) {
	got := BuildInfo("{appId}:{goID}:{gocbRef}", "g", "r", 7)
	want := "7:g:r"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDeriveOKMRejectsWrongKeySize(t *testing.T) {
	if _, err := DeriveOKM(make([]byte, 16), []byte("info")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestDeriveOKMDeterministic(t *testing.T) {
	k := bytes.Repeat([]byte{0x42}, DeviceKeySize)
	a, err := DeriveOKM(k, []byte("info"))
	if err != nil {
		t.Fatalf("DeriveOKM: %v", err)
	}
	b, err := DeriveOKM(k, []byte("info"))
	if err != nil {
		t.Fatalf("DeriveOKM: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("DeriveOKM not deterministic")
	}
	c, err := DeriveOKM(k, []byte("other-info"))
	if err != nil {
		t.Fatalf("DeriveOKM: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatal("different info produced the same OKM")
	}
}

func TestComputeTagTruncation(t *testing.T) {
	okm := bytes.Repeat([]byte{0x01}, 32)
	msg := []byte("canonical bytes")
	full := ComputeTag(okm, msg, Trunc32)
	half := ComputeTag(okm, msg, Trunc16)
	if len(full) != 32 || len(half) != 16 {
		t.Fatalf("got lens %d/%d, want 32/16", len(full), len(half))
	}
	if !bytes.Equal(full[:16], half) {
		t.Fatal("16-byte tag is not the first half of the full tag")
	}
}

func TestVerifyTagAcceptsEitherHalfAtL16(t *testing.T) {
	okm := bytes.Repeat([]byte{0x02}, 32)
	msg := []byte("payload")
	full := ComputeTag(okm, msg, Trunc32)
	first, last := full[:16], full[16:]
	if !VerifyTag(okm, msg, first) {
		t.Fatal("first half should verify")
	}
	if !VerifyTag(okm, msg, last) {
		t.Fatal("last half should verify")
	}
}

func TestVerifyTagRejectsWrongLength(t *testing.T) {
	okm := bytes.Repeat([]byte{0x03}, 32)
	if VerifyTag(okm, []byte("msg"), make([]byte, 8)) {
		t.Fatal("8-byte tag must never verify")
	}
}

func TestVerifyTagRejectsTamperedMessage(t *testing.T) {
	okm := bytes.Repeat([]byte{0x04}, 32)
	tag := ComputeTag(okm, []byte("original"), Trunc32)
	if VerifyTag(okm, []byte("tampered"), tag) {
		t.Fatal("tampered message must not verify")
	}
}
