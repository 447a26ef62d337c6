// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package linkspeed resolves Config.LinkMbps when the operator leaves it
// at zero ("auto-detect"), grounded on the host introspection style of
// internal/master/status.go and internal/tractserver/status.go, which
// both sample github.com/cloudfoundry/gosigar for local machine facts.
//
// gosigar exposes interface names and MTUs but not negotiated link
// speed, so full auto-detection isn't possible from userspace without a
// platform-specific ethtool-style ioctl; this package uses gosigar to at
// least confirm a usable, non-loopback interface exists and log its MTU,
// then falls back to the caller-supplied default rather than guessing a
// bandwidth number it cannot verify.
package linkspeed

import (
	log "github.com/golang/glog"

	sigar "github.com/cloudfoundry/gosigar"
)

// Detect returns the link speed to use, in megabits per second. If
// configured is nonzero it is returned unchanged. Otherwise this samples
// the host's network interfaces via gosigar purely for diagnostic
// logging and returns fallbackMbps.
func Detect(configured int, fallbackMbps int) int {
	if configured > 0 {
		return configured
	}

	ifaces := sigar.NetIfaceList{}
	if err := ifaces.Get(); err != nil {
		log.Warningf("linkspeed: could not enumerate network interfaces: %v; using default %d Mbps", err, fallbackMbps)
		return fallbackMbps
	}

	found := false
	for _, name := range ifaces.List {
		info := sigar.NetIfaceInfo{}
		if err := info.Get(name); err != nil {
			continue
		}
		if info.Name == "lo" || info.Name == "lo0" {
			continue
		}
		log.V(2).Infof("linkspeed: candidate interface %s mtu=%d", info.Name, info.Mtu)
		found = true
	}
	if !found {
		log.Warningf("linkspeed: no non-loopback interface found; using default %d Mbps", fallbackMbps)
	} else {
		log.Infof("linkspeed: gosigar cannot report negotiated link speed; using default %d Mbps", fallbackMbps)
	}
	return fallbackMbps
}
