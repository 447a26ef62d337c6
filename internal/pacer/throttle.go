// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pacer

import (
	"sort"
	"sync"

	"github.com/openhoma/homacore/internal/rpctable"
)

// ThrottleList is the sender-side counterpart of grantsched's grantable
// list (spec §4.7): RPCs with bytes still to transmit, kept sorted by
// bytes remaining to send so the pacer applies SRPT on the send side too.
type ThrottleList struct {
	mu   sync.Mutex
	rpcs []*rpctable.Rpc
}

// NewThrottleList returns an empty throttle list.
func NewThrottleList() *ThrottleList {
	return &ThrottleList{}
}

// Add inserts rpc into the list if it isn't already linked, and
// (re-)sorts by bytes remaining to send.
func (t *ThrottleList) Add(rpc *rpctable.Rpc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !rpc.OnThrottledList() {
		t.rpcs = append(t.rpcs, rpc)
		rpc.SetThrottledLinked(true)
	}
	t.sortLocked()
}

// Remove takes rpc off the list if present.
func (t *ThrottleList) Remove(rpc *rpctable.Rpc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !rpc.OnThrottledList() {
		return
	}
	for i, r := range t.rpcs {
		if r == rpc {
			t.rpcs = append(t.rpcs[:i], t.rpcs[i+1:]...)
			break
		}
	}
	rpc.SetThrottledLinked(false)
}

func (t *ThrottleList) sortLocked() {
	sort.SliceStable(t.rpcs, func(i, j int) bool {
		return t.rpcs[i].MsgOut.BytesRemainingToSend() < t.rpcs[j].MsgOut.BytesRemainingToSend()
	})
}

// Front returns the highest-priority (least bytes remaining) RPC on the
// list, or nil if it's empty.
func (t *ThrottleList) Front() *rpctable.Rpc {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rpcs) == 0 {
		return nil
	}
	return t.rpcs[0]
}

// Len returns the number of RPCs currently throttled.
func (t *ThrottleList) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rpcs)
}

// Resort re-sorts the list after an external change to some entry's bytes
// remaining (e.g. after a grant unblocks more of a message).
func (t *ThrottleList) Resort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sortLocked()
}
