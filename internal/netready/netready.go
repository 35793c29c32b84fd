// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package netready verifies an interface is present and administratively up
// before the capture engine opens a handle on it.
package netready

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Check looks up ifName and returns an error unless it exists and carries
// the administratively-up flag.
func Check(ifName string) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("netready: interface %q: %w", ifName, err)
	}
	if link.Attrs().Flags&net.FlagUp == 0 {
		return fmt.Errorf("netready: interface %q is administratively down", ifName)
	}
	return nil
}

// HardwareAddr returns ifName's MAC address, for use as a frame's source
// address.
func HardwareAddr(ifName string) (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("netready: interface %q: %w", ifName, err)
	}
	return link.Attrs().HardwareAddr, nil
}
