// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package goose

import (
	"errors"
	"fmt"

	"github.com/hhorai/goosesec/internal/ber"
	"github.com/hhorai/goosesec/internal/canon"
	"github.com/hhorai/goosesec/internal/freshness"
	"github.com/hhorai/goosesec/internal/goosekey"
	"github.com/hhorai/goosesec/internal/policy"
)

// Sentinel verification failures, independent of the per-stream freshness
// rejects (which carry their own freshness.Reason).
var (
	ErrAppIDMismatch = errors.New("goose: appId does not match stream policy")
	ErrNoTagCandidate = errors.New("goose: no tag candidate present")
	ErrBadTagLength   = errors.New("goose: tag candidate length is neither 16 nor 32")
	ErrTagMismatch    = errors.New("goose: authentication tag does not match any candidate")
)

// Verifier holds the per-stream derived key and freshness window needed to
// verify frames for one policy/stream binding. One Verifier exists per
// stream; it is never a process-global singleton.
type Verifier struct {
	Policy *policy.Policy
	okm    []byte
	window *freshness.Window
}

// NewVerifier derives the stream's output keying material from the policy's
// device key and returns a Verifier with a fresh freshness window.
func NewVerifier(p *policy.Policy) (*Verifier, error) {
	kDevice, err := p.Device.KDevice()
	if err != nil {
		return nil, err
	}
	info := goosekey.BuildInfo(p.Device.KDFInfoFmt, p.Stream.GoID, p.Stream.GocbRef, p.Stream.AppID)
	okm, err := goosekey.DeriveOKM(kDevice, info)
	if err != nil {
		return nil, err
	}
	return &Verifier{Policy: p, okm: okm, window: freshness.NewWindow()}, nil
}

// Verify decodes frame, checks its appId, authentication tag (tried against
// the canonical, allData-prefix and SEQUENCE-prefix candidates in that
// order) and freshness window. It returns the decoded Meta regardless of
// outcome so callers can log stNum/sqNum on rejection; a non-nil error means
// the frame must be dropped under enforce mode.
func (v *Verifier) Verify(frame []byte, nowMs int64) (Meta, error) {
	m, err := ExtractMeta(frame)
	if err != nil {
		return Meta{}, fmt.Errorf("goose: %w", err)
	}
	if m.AppID != v.Policy.Stream.AppID {
		return m, ErrAppIDMismatch
	}

	if v.Policy.Stream.AllowUnsigned && m.TagPos < 0 {
		return m, v.checkFreshness(m, nowMs)
	}
	if m.TagPos < 0 {
		return m, ErrNoTagCandidate
	}

	ln, err := ber.ReadLength(frame, len(frame), m.TagPos+1)
	if err != nil || (ln.Value != 16 && ln.Value != 32) {
		return m, ErrBadTagLength
	}
	tagStart := m.TagPos + 1 + ln.Nlen
	tag := frame[tagStart : tagStart+int(ln.Value)]

	off, _, err := ParseEther(frame)
	if err != nil {
		return m, fmt.Errorf("goose: %w", err)
	}
	seq, all, haveAll, err := LocateSeqAndAllData(frame, off.ApduOff)
	if err != nil {
		return m, fmt.Errorf("goose: %w", err)
	}

	ds := DatasetCanonFromFrame(frame, off.ApduOff, m.TagPos)
	pubCanon := canon.Build(canon.Tuple{
		GoID:    v.Policy.Stream.GoID,
		GocbRef: v.Policy.Stream.GocbRef,
		AppID:   v.Policy.Stream.AppID,
		StNum:   m.StNum,
		SqNum:   m.SqNum,
		DataSet: ds,
	})

	var allPrefix, seqPrefix []byte
	if haveAll && m.TagPos > all.Start && m.TagPos <= all.End {
		allPrefix = frame[all.Start:m.TagPos]
	}
	if m.TagPos > seq.Start && m.TagPos <= seq.End {
		seqPrefix = frame[seq.Start:m.TagPos]
	}

	matched := false
	for _, candidate := range [][]byte{pubCanon, allPrefix, seqPrefix} {
		if len(candidate) == 0 {
			continue
		}
		if goosekey.VerifyTag(v.okm, candidate, tag) {
			matched = true
			break
		}
	}
	if !matched {
		return m, ErrTagMismatch
	}

	return m, v.checkFreshness(m, nowMs)
}

func (v *Verifier) checkFreshness(m Meta, nowMs int64) error {
	reason := v.window.Check(m.StNum, m.SqNum, nowMs, v.Policy.MaxSqGap, v.Policy.MaxAgeMs)
	if reason != freshness.Accepted {
		return fmt.Errorf("goose: freshness: %s", reason)
	}
	return nil
}
