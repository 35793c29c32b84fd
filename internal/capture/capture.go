// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package capture wraps gopacket/pcap for the raw, non-blocking,
// immediate-mode Ethernet capture and injection the gateway, publisher and
// subscriber all need.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
)

// snapLen is large enough for any GOOSE frame encountered in practice.
const snapLen = 65535

// Handle is one open, non-blocking, immediate-mode capture on one
// interface, used for both reading and injecting raw Ethernet frames.
type Handle struct {
	iface string
	h     *pcap.Handle
}

// Open activates a capture handle on ifName in promiscuous, immediate mode,
// with non-blocking reads so the caller's poll loop never stalls on one
// interface while the other has traffic waiting.
func Open(ifName string) (*Handle, error) {
	inactive, err := pcap.NewInactiveHandle(ifName)
	if err != nil {
		return nil, fmt.Errorf("capture: %s: %w", ifName, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("capture: %s: snaplen: %w", ifName, err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, fmt.Errorf("capture: %s: promisc: %w", ifName, err)
	}
	if err := inactive.SetTimeout(time.Millisecond); err != nil {
		return nil, fmt.Errorf("capture: %s: timeout: %w", ifName, err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("capture: %s: immediate mode: %w", ifName, err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: %s: activate: %w", ifName, err)
	}
	return &Handle{iface: ifName, h: h}, nil
}

// Interface returns the name the handle was opened on.
func (c *Handle) Interface() string { return c.iface }

// ReadPacketData returns the next available frame, or pcap.NextErrorTimeoutExpired
// (wrapped transparently by the underlying library) when no packet arrived
// within the handle's read timeout.
func (c *Handle) ReadPacketData() ([]byte, error) {
	return c.h.ReadPacketData()
}

// Inject writes frame out on the handle's interface unmodified.
func (c *Handle) Inject(frame []byte) error {
	return c.h.WritePacketData(frame)
}

// Close releases the underlying pcap handle.
func (c *Handle) Close() {
	c.h.Close()
}
