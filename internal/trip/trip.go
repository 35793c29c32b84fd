// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package trip implements the subscriber's trip finite-state machine:
// IDLE -> ARM_CAND -> TRIPPED -> RESET_PEND, driven by stNum changes, a
// post-change burst window, and configurable trip/reset rule sets.
package trip

import (
	"sync/atomic"

	"github.com/hhorai/goosesec/internal/policy"
)

// State is one of the four FSM states.
type State int

const (
	StateIdle State = iota
	StateArmCand
	StateTripped
	StateResetPend
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmCand:
		return "arm-cand"
	case StateTripped:
		return "tripped"
	case StateResetPend:
		return "reset-pend"
	default:
		return "unknown"
	}
}

// ElementType discriminates a decoded dataset element's kind.
type ElementType int

const (
	ElementBool ElementType = iota
	ElementInt
	ElementOther
)

// Element is one decoded dataset value, addressed by its positional index.
type Element struct {
	Type  ElementType
	Bool  bool
	Int32 int32
}

// Dataset is the received GOOSE frame's dataset, indexed positionally.
type Dataset []Element

// Get returns the element at index, or ok=false if index is out of range.
func (d Dataset) Get(index int) (Element, bool) {
	if index < 0 || index >= len(d) {
		return Element{}, false
	}
	return d[index], true
}

func evalRuleOne(r policy.Rule, ds Dataset) bool {
	el, ok := ds.Get(r.Index)
	if !ok {
		return false
	}
	switch r.Type {
	case policy.RuleBool:
		if el.Type != ElementBool {
			return false
		}
		eq, err := r.EqualsBool()
		if err != nil {
			return false
		}
		return el.Bool == eq
	case policy.RuleInt:
		if el.Type != ElementInt {
			return false
		}
		eq, err := r.EqualsInt()
		if err != nil {
			return false
		}
		return el.Int32 == eq
	default:
		return false
	}
}

// evalRulesAnyAll reports whether any rule in rules hits, and the label of
// the first hitting rule (in list order) whose label is non-empty.
func evalRulesAnyAll(rules []policy.Rule, ds Dataset) (hit bool, reason string) {
	matches := 0
	for _, r := range rules {
		if evalRuleOne(r, ds) {
			matches++
			if reason == "" && r.Label != "" {
				reason = r.Label
			}
		}
	}
	return matches > 0, reason
}

// evalTrip evaluates tl.Rules against ds. Under "any" logic it's the
// combined any-hit result. Under "all" logic every rule is evaluated
// individually and all must hit; the reported reason is the first rule's
// label, or, when that label is empty, the first non-empty label in list
// order.
func evalTrip(tl *policy.TripLogic, ds Dataset) (hit bool, reason string) {
	if len(tl.Rules) == 0 {
		return false, ""
	}
	any, anyReason := evalRulesAnyAll(tl.Rules, ds)
	if tl.Logic == policy.LogicAny {
		return any, anyReason
	}
	hits := 0
	for _, r := range tl.Rules {
		if ok, _ := evalRulesAnyAll([]policy.Rule{r}, ds); ok {
			hits++
		}
	}
	if hits == len(tl.Rules) {
		reason = anyReason
		if reason == "" {
			reason = tl.Rules[0].Label
		}
		return true, reason
	}
	return false, ""
}

// evalNormal reports whether the reset policy's normal_rules all hit,
// making the stream eligible to leave TRIPPED for RESET_PEND.
func evalNormal(tl *policy.TripLogic, ds Dataset) bool {
	if !tl.Reset.NormalRequired {
		return true
	}
	if len(tl.Reset.NormalRules) == 0 {
		return false
	}
	hits := 0
	for _, r := range tl.Reset.NormalRules {
		if ok, _ := evalRulesAnyAll([]policy.Rule{r}, ds); ok {
			hits++
		}
	}
	return hits == len(tl.Reset.NormalRules)
}

// Result is what one Observe call reports to the caller for status writing.
type Result struct {
	Valid      bool
	Trip       bool
	TripReason string
	State      State
}

// FSM is one subscription's runtime trip state. One FSM exists per
// subscription; it is not shared across streams.
type FSM struct {
	tl *policy.TripLogic

	State         State
	LastStNum     uint32
	LastArrivalMs int64
	StChangeMs    int64
	BurstCount    int
	InBurstWindow bool
	Latched       bool

	NormalStartMs   int64
	LastBurstLikeMs int64
	SqSeenInState   int
	StateSqBase     uint32
}

// NewFSM returns an idle FSM governed by tl.
func NewFSM(tl *policy.TripLogic) *FSM {
	return &FSM{tl: tl, State: StateIdle}
}

func latchedReason(latched bool) string {
	if latched {
		return "latched"
	}
	return ""
}

// Observe advances the FSM with one received, validity-checked GOOSE
// frame's (stNum, sqNum, dataset) observed at nowMs.
func (f *FSM) Observe(stNum, sqNum uint32, valid bool, nowMs int64, ds Dataset) Result {
	iat := int64(-1)
	if f.LastArrivalMs > 0 {
		iat = nowMs - f.LastArrivalMs
	}
	f.LastArrivalMs = nowMs

	if !valid {
		return Result{Valid: false, Trip: f.Latched, TripReason: latchedReason(f.Latched), State: f.State}
	}

	stChanged := stNum != f.LastStNum
	tl := f.tl
	tripReason := ""
	justTripped := false

	switch f.State {
	case StateIdle:
		if stChanged {
			f.State = StateArmCand
			f.StChangeMs = nowMs
			f.BurstCount = 0
			f.InBurstWindow = true
			f.SqSeenInState = 0
			f.StateSqBase = sqNum
		}

	case StateArmCand:
		window := 0
		if tl != nil && tl.RequireBurst {
			window = tl.BurstWindowMs
		}
		since := nowMs - f.StChangeMs
		if since <= int64(window) {
			if tl != nil && tl.RequireBurst && iat >= 0 && iat <= int64(tl.BurstIntervalMaxMs) {
				f.BurstCount++
			}
		} else {
			f.InBurstWindow = false
		}

		var rulesHit bool
		if tl != nil {
			rulesHit, tripReason = evalTrip(tl, ds)
		}
		burstOK := true
		if tl != nil && tl.RequireBurst {
			burstOK = f.BurstCount >= tl.BurstMinFrames
		}

		if rulesHit && burstOK {
			f.State = StateTripped
			f.Latched = true
			justTripped = true
		} else if !f.InBurstWindow {
			f.State = StateIdle
		}

	case StateTripped:
		if stChanged && tl != nil && evalNormal(tl, ds) {
			f.State = StateResetPend
			f.NormalStartMs = nowMs
			f.LastBurstLikeMs = nowMs
			f.SqSeenInState = 0
			f.StateSqBase = sqNum
		}

	case StateResetPend:
		if sqNum >= f.StateSqBase {
			f.SqSeenInState++
		}
		if tl != nil && tl.RequireBurst && iat >= 0 && iat <= int64(tl.BurstIntervalMaxMs) {
			f.LastBurstLikeMs = nowMs
		}
	}

	f.LastStNum = stNum

	if justTripped {
		if tripReason == "" {
			tripReason = "trip"
		}
		return Result{Valid: true, Trip: true, TripReason: tripReason, State: f.State}
	}
	return Result{Valid: true, Trip: f.Latched, TripReason: latchedReason(f.Latched), State: f.State}
}

// Reset performs the operator-triggered manual unlatch: back to IDLE with a
// clean burst/arm state. Latching only clears here, never automatically.
func (f *FSM) Reset() {
	f.Latched = false
	f.State = StateIdle
	f.StChangeMs = 0
	f.BurstCount = 0
	f.InBurstWindow = false
	f.SqSeenInState = 0
}

// MaybeRelearnBaseline forgets LastStNum once the stream has been silent
// for baseline_relearn_ms, so the next observed stNum (even a restarted
// publisher's stNum=1) is treated as a fresh baseline rather than a replay.
func (f *FSM) MaybeRelearnBaseline(nowMs int64) {
	if f.tl == nil {
		return
	}
	if f.LastArrivalMs > 0 && nowMs-f.LastArrivalMs >= int64(f.tl.BaselineRelearnMs) {
		f.LastStNum = 0
	}
}

// ResetFlag is a lock-free, signal-handler-safe "manual reset requested"
// latch: the signal handler calls Request, the main loop polls and clears
// it with TakeAndClear.
type ResetFlag struct {
	v uint32
}

// Request marks a reset as pending. Safe to call from a signal handler.
func (r *ResetFlag) Request() { atomic.StoreUint32(&r.v, 1) }

// TakeAndClear reports whether a reset was pending, clearing it atomically.
func (r *ResetFlag) TakeAndClear() bool { return atomic.SwapUint32(&r.v, 0) == 1 }
