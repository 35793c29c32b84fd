// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package goosekey derives the per-stream MAC key and computes the
// authentication tag shared by the GOOSE publisher and verifier.
package goosekey

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// DeviceKeySize is the mandatory length of the pre-provisioned symmetric key.
const DeviceKeySize = 32

// DefaultInfoFormat is used when a policy or publication record leaves
// kdfInfoFmt empty.
const DefaultInfoFormat = "GOOSE|{goID}|{gocbRef}|{appId}"

// BuildInfo substitutes the three recognized literal placeholders in format.
func BuildInfo(format, goID, gocbRef string, appID uint16) []byte {
	if format == "" {
		format = DefaultInfoFormat
	}
	r := strings.NewReplacer(
		"{goID}", goID,
		"{gocbRef}", gocbRef,
		"{appId}", strconv.FormatUint(uint64(appID), 10),
	)
	return []byte(r.Replace(format))
}

// DeriveOKM runs HKDF-SHA-256 Extract-then-Expand over kDevice with info,
// producing the 32-byte per-stream output keying material. Extract uses a
// 32-byte all-zero salt, the stock RFC 5869 construction.
func DeriveOKM(kDevice []byte, info []byte) ([]byte, error) {
	if len(kDevice) != DeviceKeySize {
		return nil, fmt.Errorf("goosekey: device key must be %d bytes, got %d", DeviceKeySize, len(kDevice))
	}
	salt := make([]byte, sha256.Size)
	reader := hkdf.New(sha256.New, kDevice, salt, info)
	okm := make([]byte, sha256.Size)
	if _, err := reader.Read(okm); err != nil {
		return nil, fmt.Errorf("goosekey: hkdf expand: %w", err)
	}
	return okm, nil
}

// TruncLen is the accepted tag length in bytes: 16 or 32.
type TruncLen int

const (
	Trunc16 TruncLen = 16
	Trunc32 TruncLen = 32
)

// ComputeTag returns HMAC-SHA-256(okm, canonical) truncated to L bytes.
func ComputeTag(okm, canonical []byte, l TruncLen) []byte {
	mac := hmac.New(sha256.New, okm)
	mac.Write(canonical)
	full := mac.Sum(nil)
	if int(l) >= len(full) {
		return full
	}
	return full[:l]
}

// VerifyTag reports whether tag matches HMAC-SHA-256(okm, canonical). For a
// 32-byte tag, the full MAC must match. For a 16-byte tag, a match against
// either the first or the last 16 bytes of the full MAC is accepted, to
// tolerate either truncation convention a publisher might use.
func VerifyTag(okm, canonical, tag []byte) bool {
	mac := hmac.New(sha256.New, okm)
	mac.Write(canonical)
	full := mac.Sum(nil)
	switch len(tag) {
	case 32:
		return hmac.Equal(full, tag)
	case 16:
		return hmac.Equal(full[:16], tag) || hmac.Equal(full[16:], tag)
	default:
		return false
	}
}
