// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPathConvention(t *testing.T) {
	got := Path("goose", 1234)
	want := "/tmp/goose_status_1234.json"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestWriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	valid := true
	r := Record{PID: 42, StNum: 1, SqNum: 2, LastUpdate: 1000, Valid: &valid}
	if err := Write(path, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Record
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.PID != 42 || got.StNum != 1 || got.SqNum != 2 || got.Valid == nil || !*got.Valid {
		t.Fatalf("got %+v", got)
	}
}

func TestOmitEmptyFieldsAreAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	if err := Write(path, Record{PID: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"lastPublish", "lastRecvMs", "valid", "ttl_ms", "trip", "trip_reason"} {
		if _, present := m[key]; present {
			t.Fatalf("zero-valued field %q should be omitted, got %v", key, m)
		}
	}
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	Remove(filepath.Join(t.TempDir(), "does-not-exist.json"))
}
