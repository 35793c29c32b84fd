// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
// Package policy loads and validates the JSON configuration records that
// drive the gateway, publisher and subscriber engines.
package policy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// DeviceKeySize is the mandatory pre-provisioned symmetric key length.
const DeviceKeySize = 32

// Device is the pre-provisioned device identity and key-derivation config.
type Device struct {
	DeviceID   string `json:"deviceId"`
	KDeviceHex string `json:"k_device_hex"`
	KDFInfoFmt string `json:"kdfInfoFmt"`
	TagLen     int    `json:"tagLen"` // 16 or 32; 0 means "use default" (16)
}

// KDevice decodes KDeviceHex into the 32-byte device key.
func (d Device) KDevice() ([]byte, error) {
	k, err := hex.DecodeString(d.KDeviceHex)
	if err != nil {
		return nil, fmt.Errorf("policy: k_device_hex is not valid hex: %w", err)
	}
	if len(k) != DeviceKeySize {
		return nil, fmt.Errorf("policy: k_device_hex must decode to %d bytes, got %d", DeviceKeySize, len(k))
	}
	return k, nil
}

// EffectiveTagLen returns TagLen if it is 16 or 32, else the default of 16.
func (d Device) EffectiveTagLen() int {
	if d.TagLen == 16 || d.TagLen == 32 {
		return d.TagLen
	}
	return 16
}

// Stream identifies the single GOOSE publication this engine instance binds to.
type Stream struct {
	Name          string `json:"name"`
	AppID         uint16 `json:"appId"`
	GoID          string `json:"goID"`
	GocbRef       string `json:"gocbRef"`
	AllowUnsigned bool   `json:"allowUnsigned"`
}

// Mode selects the gateway's forwarding discipline.
type Mode string

const (
	ModeMonitor Mode = "monitor"
	ModeEnforce Mode = "enforce"
)

// Policy is the bump-in-the-wire gateway's configuration record.
type Policy struct {
	Mode      Mode   `json:"mode"`
	StripTag  bool   `json:"stripTag"`
	TTLMs     int    `json:"ttl_ms"`
	MaxSqGap  uint32 `json:"maxSqGap"`
	MaxAgeMs  int64  `json:"maxAge_ms"`
	Device    Device `json:"device"`
	Stream    Stream `json:"stream"`
}

// LoadPolicy reads and parses a gateway policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects a malformed k_device_hex or a missing appId, gocbRef
// or goID; any of these is fatal at startup.
func (p *Policy) Validate() error {
	if p.Mode != ModeMonitor && p.Mode != ModeEnforce {
		return fmt.Errorf("policy: mode must be %q or %q, got %q", ModeMonitor, ModeEnforce, p.Mode)
	}
	if _, err := p.Device.KDevice(); err != nil {
		return err
	}
	if p.Stream.AppID == 0 {
		return fmt.Errorf("policy: stream.appId is required")
	}
	if p.Stream.GoID == "" {
		return fmt.Errorf("policy: stream.goID is required")
	}
	if p.Stream.GocbRef == "" {
		return fmt.Errorf("policy: stream.gocbRef is required")
	}
	return nil
}

// MAC is a 6-byte Ethernet address that unmarshals from the conventional
// "aa:bb:cc:dd:ee:ff" JSON string form.
type MAC [6]byte

func (m MAC) HardwareAddr() net.HardwareAddr { return append(net.HardwareAddr(nil), m[:]...) }

func (m *MAC) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("policy: dstMac: %w", err)
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return fmt.Errorf("policy: dstMac %q: %w", s, err)
	}
	if len(hw) != 6 {
		return fmt.Errorf("policy: dstMac %q: expected 6 octets, got %d", s, len(hw))
	}
	copy(m[:], hw)
	return nil
}

func (m MAC) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.HardwareAddr().String())
}

// DataFieldType is the typed-field discriminator for a publication/subscription dataset entry.
type DataFieldType string

const (
	FieldBoolean    DataFieldType = "boolean"
	FieldInteger    DataFieldType = "integer"
	FieldBinaryTime DataFieldType = "binarytime"
)

// DataField is one entry of a publication's ordered dataset.
type DataField struct {
	Name    string          `json:"name"`
	Type    DataFieldType   `json:"type"`
	Value   json.RawMessage `json:"value"`
	Quality string          `json:"quality"`
}

// BoolValue decodes Value as a boolean dataset field.
func (f DataField) BoolValue() (bool, error) {
	var v bool
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return false, fmt.Errorf("policy: dataset field %q: not a bool: %w", f.Name, err)
	}
	return v, nil
}

// IntValue decodes Value as an integer dataset field.
func (f DataField) IntValue() (int32, error) {
	var v int32
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return 0, fmt.Errorf("policy: dataset field %q: not an int32: %w", f.Name, err)
	}
	return v, nil
}

// TimeMsValue decodes Value as a binarytime field: milliseconds since epoch.
func (f DataField) TimeMsValue() (uint64, error) {
	var v uint64
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return 0, fmt.Errorf("policy: dataset field %q: not a uint64 ms timestamp: %w", f.Name, err)
	}
	return v, nil
}

// MaxDatasetFields bounds a publication's dataset size.
const MaxDatasetFields = 32

// Publication is the publisher's configuration record.
type Publication struct {
	AppID               uint16      `json:"appId"`
	GocbRef             string      `json:"gocbRef"`
	DatSet              string      `json:"datSet"`
	GoID                string      `json:"goID"`
	DstMac              MAC         `json:"dstMac"`
	VlanID              int         `json:"vlanId"`
	VlanPriority         int        `json:"vlanPriority"`
	TimeAllowedToLiveMs int         `json:"timeAllowedToLive_ms"`
	ConfRev             int         `json:"confRev"`
	NdsCom              bool        `json:"ndsCom"`
	Test                bool        `json:"test"`
	HeartbeatMs         int         `json:"heartbeat_ms"`
	Dataset             []DataField `json:"dataset"`
	Device              Device      `json:"device"`
	TagLen              int         `json:"tagLen"`
}

// LoadPublication reads and parses a publisher configuration file.
func LoadPublication(path string) (*Publication, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Publication
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects a publication record with a bad device key, missing
// appId/goID/gocbRef, or an oversized dataset.
func (p *Publication) Validate() error {
	if _, err := p.Device.KDevice(); err != nil {
		return err
	}
	if p.AppID == 0 {
		return fmt.Errorf("policy: appId is required")
	}
	if p.GoID == "" {
		return fmt.Errorf("policy: goID is required")
	}
	if p.GocbRef == "" {
		return fmt.Errorf("policy: gocbRef is required")
	}
	if len(p.Dataset) > MaxDatasetFields {
		return fmt.Errorf("policy: dataset has %d fields, limit is %d", len(p.Dataset), MaxDatasetFields)
	}
	return nil
}

// Subscription is the subscriber's configuration record.
type Subscription struct {
	Name            string `json:"name"`
	AppID           uint16 `json:"appId"`
	GocbRef         string `json:"gocbRef"`
	DstMac          MAC    `json:"dstMac"`
	DataValuesCount int    `json:"data_values_count"`
	TripLogicPath   string `json:"trip_logic_path"`
	Device          Device `json:"device"`
}

// LoadSubscription reads and parses a subscriber configuration file.
func LoadSubscription(path string) (*Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var s Subscription
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects a subscription record with a bad device key or a
// missing appId/gocbRef.
func (s *Subscription) Validate() error {
	if _, err := s.Device.KDevice(); err != nil {
		return err
	}
	if s.AppID == 0 {
		return fmt.Errorf("policy: appId is required")
	}
	if s.GocbRef == "" {
		return fmt.Errorf("policy: gocbRef is required")
	}
	return nil
}
