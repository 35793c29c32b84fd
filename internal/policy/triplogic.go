// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// TripLogicMode selects whether any or all rules must hit to trip.
type TripLogicMode string

const (
	LogicAny TripLogicMode = "any"
	LogicAll TripLogicMode = "all"
)

// RuleType selects the comparison semantics for one trip rule.
type RuleType string

const (
	RuleBool RuleType = "bool"
	RuleInt  RuleType = "int"
)

// Rule is one trip (or reset) condition evaluated against the received
// MMS dataset by index.
type Rule struct {
	Index  int             `json:"index"`
	Type   RuleType        `json:"type"`
	Equals json.RawMessage `json:"equals"`
	Label  string          `json:"label"`
}

// EqualsBool decodes Equals as a boolean constant.
func (r Rule) EqualsBool() (bool, error) {
	var v bool
	if err := json.Unmarshal(r.Equals, &v); err != nil {
		return false, fmt.Errorf("policy: rule %d: equals is not a bool: %w", r.Index, err)
	}
	return v, nil
}

// EqualsInt decodes Equals as an integer constant.
func (r Rule) EqualsInt() (int32, error) {
	var v int32
	if err := json.Unmarshal(r.Equals, &v); err != nil {
		return 0, fmt.Errorf("policy: rule %d: equals is not an int: %w", r.Index, err)
	}
	return v, nil
}

// ResetPolicy governs the TRIPPED -> RESET_PEND transition eligibility.
type ResetPolicy struct {
	NormalRules    []Rule `json:"normal_rules"`
	NormalRequired bool   `json:"normal_required"`
	MinSqInState   int    `json:"min_sq_in_state"`
	NormalDwellMs  int    `json:"normal_dwell_ms"`
	NoBurstMs      int    `json:"no_burst_ms"`
}

// TripLogic is the subscriber's trip-evaluation configuration record.
type TripLogic struct {
	Logic                 TripLogicMode `json:"logic"`
	Latch                  bool          `json:"latch"`
	ManualResetRequired    bool          `json:"manual_reset_required"`
	RequireStNumChange     bool          `json:"require_stnum_change"`
	RequireBurst           bool          `json:"require_burst"`
	BurstWindowMs          int           `json:"burst_window_ms"`
	BurstMinFrames         int           `json:"burst_min_frames"`
	BurstIntervalMaxMs     int           `json:"burst_interval_max_ms"`
	BaselineRelearnMs      int           `json:"baseline_relearn_ms"`
	Rules                  []Rule        `json:"rules"`
	Reset                  ResetPolicy   `json:"reset"`
}

// DefaultTripLogic returns the out-of-the-box trip configuration: manual-reset
// latching, a 60ms/3-frame burst requirement, and a 3-second baseline
// re-learn window.
func DefaultTripLogic() TripLogic {
	return TripLogic{
		Logic:               LogicAny,
		Latch:               true,
		ManualResetRequired: true,
		RequireStNumChange:  true,
		RequireBurst:        true,
		BurstWindowMs:       60,
		BurstMinFrames:      3,
		BurstIntervalMaxMs:  10,
		BaselineRelearnMs:   3000,
		Reset: ResetPolicy{
			NormalRequired: true,
			MinSqInState:   3,
			NormalDwellMs:  2000,
			NoBurstMs:      500,
		},
	}
}

// LoadTripLogic reads a trip-logic file, applying DefaultTripLogic for any
// field the file omits, by unmarshaling on top of the defaults.
func LoadTripLogic(path string) (*TripLogic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	tl := DefaultTripLogic()
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return &tl, nil
}
