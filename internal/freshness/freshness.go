// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package freshness implements the gateway's per-stream sliding window over
// (stNum, sqNum, arrival time), rejecting stale, replayed, or too-old frames.
package freshness

// Reason enumerates why a frame was rejected; zero means accepted.
type Reason int

const (
	Accepted Reason = iota
	StaleState
	Replay
	GapTooLarge
	SuspiciousReset
	GapTooLong
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case StaleState:
		return "stale-state"
	case Replay:
		return "replay"
	case GapTooLarge:
		return "gap-too-large"
	case SuspiciousReset:
		return "suspicious-reset"
	case GapTooLong:
		return "gap-too-long"
	default:
		return "unknown"
	}
}

// Window is the owned, per-stream freshness state. Construct one per
// engine stream; it is never a process-global singleton.
type Window struct {
	lastSt     uint32
	lastSq     uint32
	lastSeenMs int64
}

// NewWindow returns a freshly initialized, never-seen window.
func NewWindow() *Window { return &Window{} }

// Check evaluates (st, sq) observed at nowMs against the window's state and
// the policy's maxSqGap/maxAge parameters. On acceptance the window
// advances exactly once; on rejection the window is left untouched.
func (w *Window) Check(st, sq uint32, nowMs int64, maxSqGap uint32, maxAgeMs int64) Reason {
	if w.lastSeenMs == 0 {
		w.lastSt, w.lastSq, w.lastSeenMs = st, sq, nowMs
		return Accepted
	}

	switch {
	case st < w.lastSt:
		return StaleState
	case st == w.lastSt:
		if sq <= w.lastSq {
			return Replay
		}
		if sq-w.lastSq > maxSqGap {
			return GapTooLarge
		}
	default: // st > w.lastSt
		if sq > maxSqGap {
			return SuspiciousReset
		}
	}

	if nowMs-w.lastSeenMs > maxAgeMs {
		return GapTooLong
	}

	w.lastSt, w.lastSq, w.lastSeenMs = st, sq, nowMs
	return Accepted
}

// LastSt, LastSq and LastSeenMs expose the current window state for status
// reporting; they do not mutate it.
func (w *Window) LastSt() uint32     { return w.lastSt }
func (w *Window) LastSq() uint32     { return w.lastSq }
func (w *Window) LastSeenMs() int64  { return w.lastSeenMs }
