// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config holds the sysctl-style tunables that drive every other
// package in this module. It is passed explicitly wherever it's needed;
// there is no package-level ambient configuration.
package config

import (
	"fmt"
	"time"
)

// Config collects every tunable named in the transport's external
// interface. Zero-value fields are invalid; use DefaultConfig and
// override individual fields.
type Config struct {
	// RTTBytes is the unscheduled-window size: how many bytes a sender may
	// transmit before waiting for a grant. Rounded up to full packets by
	// the message-assembly layer.
	RTTBytes int

	// LinkMbps is the uplink bandwidth in megabits per second; it drives
	// CyclesPerKbyte for the pacer's NIC-queue estimator. Zero is not
	// auto-detected: CyclesPerKbyte then returns 0.
	LinkMbps int

	// NumPriorities is the total number of priority levels in use, <= 8.
	NumPriorities int

	// BasePriority is added to every packet's priority before any VLAN
	// priority mapping performed by the transport boundary.
	BasePriority int

	// MaxSchedPrio is the highest priority level used for scheduled
	// (granted) packets; levels above it are reserved for unscheduled
	// traffic per UnschedCutoffs.
	MaxSchedPrio int

	// UnschedCutoffs[p] is the largest message size that uses priority p
	// for its unscheduled bytes; priority 0 is the highest priority, so
	// entries are searched in increasing p until one covers the message,
	// giving smaller messages the higher unscheduled priorities.
	UnschedCutoffs [8]int

	// GrantIncrement is the number of bytes authorized by each GRANT.
	GrantIncrement int

	// MaxOvercommit caps the number of RPCs simultaneously granted by the
	// receiver's scheduler.
	MaxOvercommit int

	// FifoFraction, if nonzero, is the fraction (0-1) of grants that
	// bypass strict SRPT ordering and go to the oldest still-grantable
	// RPC instead, to bound worst-case starvation of very large messages.
	// Ungrounded in the distilled spec; grounded in the original
	// implementation's fifo_fraction sysctl. Zero disables it.
	FifoFraction float64

	// ResendTicks is the number of silent timer ticks before a RESEND is
	// considered.
	ResendTicks int

	// ResendInterval is the minimum time between RESENDs sent to the same
	// peer.
	ResendInterval time.Duration

	// AbortResends is the number of RESENDs after which an RPC is
	// aborted.
	AbortResends int

	// TickPeriod is how often the recovery timer fires.
	TickPeriod time.Duration

	// ThrottleMinBytes: when the throttled list is empty, a message whose
	// unsent remainder is smaller than this is sent directly even if the
	// NIC-queue estimator is full, instead of being handed to the pacer.
	ThrottleMinBytes int

	// MaxNICQueueNs bounds how far ahead of "now" the NIC queue may be
	// filled, in nanoseconds.
	MaxNICQueueNs int64

	// MaxGSOSize upper-bounds the size of one assembled outbound buffer.
	MaxGSOSize int

	// MTU is the maximum transmission unit used to size DATA segments.
	MTU int

	// MaxGROSKBs bounds local receive aggregation (not exercised by the
	// core; kept for parity with the sysctl surface).
	MaxGROSKBs int

	// ReapLimit is the number of RPCs considered per opportunistic reap
	// pass.
	ReapLimit int

	// MaxDeadBuffs is the aggressive-reap threshold: once a socket has
	// more than this many dead-but-unreaped RPCs, reaping stops being
	// opportunistic and runs to completion.
	MaxDeadBuffs int

	// MaxMessageSize caps message length (spec Non-goals: default 1 MiB).
	MaxMessageSize int

	// PacerMaxBatch is the number of packets the pacer sends from one RPC
	// per iteration before yielding to the next throttled RPC.
	PacerMaxBatch int
}

// DefaultConfig returns tunables matching the values named or implied by
// the specification's examples (rtt_bytes=60000 etc. are scenario-specific
// overrides, not defaults).
func DefaultConfig() Config {
	c := Config{
		RTTBytes:         10000,
		LinkMbps:         10000,
		NumPriorities:    8,
		BasePriority:     0,
		MaxSchedPrio:     6,
		GrantIncrement:   10000,
		MaxOvercommit:    8,
		FifoFraction:     0,
		ResendTicks:      5,
		ResendInterval:   100 * time.Millisecond,
		AbortResends:     5,
		TickPeriod:       time.Millisecond,
		ThrottleMinBytes: 1000,
		MaxNICQueueNs:    2000,
		MaxGSOSize:       65536,
		MTU:               1500,
		MaxGROSKBs:       20,
		ReapLimit:        10,
		MaxDeadBuffs:     5000,
		MaxMessageSize:   1 << 20,
		PacerMaxBatch:    5,
	}
	c.UnschedCutoffs = [8]int{200, 2000, 20000, 200000, 1 << 30, 0, 0, 0}
	return c
}

// Validate returns an error describing the first invalid field found, or
// nil if c is usable.
func (c Config) Validate() error {
	switch {
	case c.NumPriorities <= 0 || c.NumPriorities > 8:
		return fmt.Errorf("config: num_priorities must be in [1,8], got %d", c.NumPriorities)
	case c.MaxSchedPrio < 0 || c.MaxSchedPrio >= c.NumPriorities:
		return fmt.Errorf("config: max_sched_prio %d out of range for %d priorities", c.MaxSchedPrio, c.NumPriorities)
	case c.GrantIncrement <= 0:
		return fmt.Errorf("config: grant_increment must be positive")
	case c.MaxOvercommit <= 0:
		return fmt.Errorf("config: max_overcommit must be positive")
	case c.RTTBytes <= 0:
		return fmt.Errorf("config: rtt_bytes must be positive")
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("config: max_message_size must be positive")
	case c.MTU <= 0:
		return fmt.Errorf("config: mtu must be positive")
	case c.FifoFraction < 0 || c.FifoFraction > 1:
		return fmt.Errorf("config: fifo_fraction must be in [0,1]")
	}
	return nil
}

// CyclesPerKbyte derives the pacer's cost-per-byte constant from LinkMbps,
// inflated by 1.05x to guarantee slight over-estimation of link occupancy
// (spec §4.7): underestimating would let the idle-time estimate fall
// behind reality and the queue-length bound would be silently violated.
func (c Config) CyclesPerKbyte(cyclesPerSecond float64) float64 {
	if c.LinkMbps <= 0 {
		return 0
	}
	bytesPerSecond := float64(c.LinkMbps) * 1e6 / 8
	secondsPerKbyte := 1000 / bytesPerSecond
	return secondsPerKbyte * cyclesPerSecond * 1.05
}

// MaxNICQueueCycles converts MaxNICQueueNs into cycles given the
// TimeSource's cycles-per-second rate.
func (c Config) MaxNICQueueCycles(cyclesPerSecond float64) uint64 {
	return uint64(float64(c.MaxNICQueueNs) * cyclesPerSecond / 1e9)
}
