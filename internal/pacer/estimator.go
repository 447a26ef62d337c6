// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package pacer implements the sender-side NIC-queue model (spec §4.7):
// an atomic idle-time estimator that bounds how far ahead of "now" the
// NIC transmit queue is allowed to be filled, and a priority-sorted
// throttled list of RPCs waiting for their turn to send.
package pacer

import "sync/atomic"

// Estimator tracks the cycle at which the NIC is projected to become
// idle, given every packet reserved through it so far. It is safe for
// concurrent use by both the pacer goroutine and any direct-send fast
// path, exactly as the kernel source updates link_idle_time without a
// lock via a compare-and-swap loop.
type Estimator struct {
	idleAt uint64 // atomic: cycle at which the NIC queue drains
}

// NewEstimator returns an Estimator with an empty queue.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// TryReserve attempts to enqueue a packet that will occupy the NIC for
// packetCycles cycles. now is the current cycle count; maxQueueCycles is
// the largest allowed gap between now and the projected drain time
// (Config.MaxNICQueueNs converted to cycles).
//
// It returns accepted=false without reserving anything if the work already
// queued ahead of now exceeds maxQueueCycles. Only the existing depth is
// checked, so an accepted packet may carry the drain time past
// now+maxQueueCycles. The idle-time-safety invariant holds either way: the
// estimator never claims a slot it did not actually grant.
// queueDepth reports how many cycles of work were already queued ahead of
// now at the time of the decision.
func (e *Estimator) TryReserve(now, packetCycles, maxQueueCycles uint64) (accepted bool, queueDepth uint64) {
	for {
		cur := atomic.LoadUint64(&e.idleAt)
		start := cur
		if start < now {
			start = now
		}
		depth := start - now
		if depth > maxQueueCycles {
			return false, depth
		}
		newIdle := start + packetCycles
		if atomic.CompareAndSwapUint64(&e.idleAt, cur, newIdle) {
			return true, depth
		}
		// Lost the race with a concurrent reservation; retry with the
		// updated value.
	}
}

// IdleAt returns the cycle at which the NIC is currently projected to
// become idle, for diagnostics and tests.
func (e *Estimator) IdleAt() uint64 {
	return atomic.LoadUint64(&e.idleAt)
}
