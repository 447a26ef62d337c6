// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package grantsched implements the receiver-side SRPT grant scheduler
// (spec §4.6): the set of incoming messages still needing grants is kept
// sorted by bytes remaining, the top max_overcommit RPCs are assigned
// priorities by rank, and each is re-granted once its authorized horizon
// gets close to what has actually arrived.
package grantsched

import (
	"sort"
	"sync"

	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/rpctable"
)

// entry tracks one grantable RPC plus the order it first became
// grantable, used to break strict SRPT ordering under the fifo_fraction
// starvation-avoidance policy (spec §9 Open Questions, grounded in
// original_source/homa_grant.c's fifo_fraction sysctl).
type entry struct {
	rpc *rpctable.Rpc
	seq uint64
}

// Grant is one scheduling decision: raise rpc's authorized receive
// horizon to NewIncoming and mark the GRANT packet with Priority.
type Grant struct {
	Rpc         *rpctable.Rpc
	NewIncoming uint32
	Priority    int
}

// Scheduler is the global (per-HomaGlobal) grantable list described in
// spec §4.6. All mutation is serialized by one lock, mirroring the
// kernel's single grantable_lock; the bucket lock for an individual RPC
// is a separate, narrower lock acquired only while actually applying a
// grant to that RPC's MsgIn.
type Scheduler struct {
	mu  sync.Mutex
	cfg config.Config

	entries []*entry
	index   map[*rpctable.Rpc]*entry
	nextSeq uint64

	fifoAccum float64
}

// NewScheduler creates an empty scheduler using cfg's MaxOvercommit,
// MaxSchedPrio, GrantIncrement and FifoFraction.
func NewScheduler(cfg config.Config) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		index: make(map[*rpctable.Rpc]*entry),
	}
}

// Update re-evaluates rpc's grantable status and, if applicable,
// repositions it in the SRPT ordering. Call this after any change to
// rpc.MsgIn's received-byte count (spec invariant: an RPC is on this list
// iff msgin.scheduled && bytes_remaining > 0).
func (s *Scheduler) Update(rpc *rpctable.Rpc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grantable := rpc.IsGrantable()
	_, present := s.index[rpc]

	switch {
	case grantable && !present:
		e := &entry{rpc: rpc, seq: s.nextSeq}
		s.nextSeq++
		s.entries = append(s.entries, e)
		s.index[rpc] = e
		rpc.SetGrantableLinked(true)
	case !grantable && present:
		s.removeLocked(rpc)
	case grantable && present:
		// Remaining bytes changed; re-sort.
	}
	s.sortLocked()
}

// Remove unconditionally takes rpc off the grantable list, e.g. when the
// RPC is freed while still scheduled.
func (s *Scheduler) Remove(rpc *rpctable.Rpc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(rpc)
}

func (s *Scheduler) removeLocked(rpc *rpctable.Rpc) {
	e, ok := s.index[rpc]
	if !ok {
		return
	}
	for i, ent := range s.entries {
		if ent == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	delete(s.index, rpc)
	rpc.SetGrantableLinked(false)
}

func (s *Scheduler) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].rpc.MsgIn.BytesRemaining() < s.entries[j].rpc.MsgIn.BytesRemaining()
	})
}

// Len returns the number of RPCs currently on the grantable list.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// priorityFor maps a 0-based SRPT rank to a scheduled priority level:
// rank 0 (least bytes remaining) gets the highest scheduled priority,
// each subsequent rank one lower, floored at 0.
func priorityFor(rank, maxSchedPrio int) int {
	p := maxSchedPrio - rank
	if p < 0 {
		p = 0
	}
	return p
}

// selectLocked returns up to MaxOvercommit entries to grant this round,
// in priority-assignment order (index 0 gets the highest priority).
// When more RPCs are grantable than MaxOvercommit admits, a FifoFraction
// share of selection rounds (tracked with a running accumulator)
// substitutes the lowest-priority slot with the single oldest
// still-grantable RPC not already selected,
// bounding the worst-case wait of a message SRPT would otherwise starve
// forever.
func (s *Scheduler) selectLocked() []*entry {
	n := s.cfg.MaxOvercommit
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	selected := append([]*entry(nil), s.entries[:n]...)

	if s.cfg.FifoFraction > 0 && len(selected) > 0 && len(s.entries) > n {
		s.fifoAccum += s.cfg.FifoFraction
		if s.fifoAccum >= 1 {
			s.fifoAccum -= 1
			oldest := s.oldestNotInLocked(selected)
			if oldest != nil {
				selected[len(selected)-1] = oldest
			}
		}
	}
	return selected
}

func (s *Scheduler) oldestNotInLocked(selected []*entry) *entry {
	var oldest *entry
	for _, e := range s.entries {
		skip := false
		for _, sel := range selected {
			if sel == e {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	return oldest
}

// ComputeGrants decides which selected RPCs need a new GRANT sent right
// now: any whose slack (authorized-but-unreceived bytes) has fallen below
// GrantIncrement. Callers apply each Grant by calling
// rpc.MsgIn.SetIncoming(g.NewIncoming) under rpc's bucket lock and sending
// a GRANT packet.
func (s *Scheduler) ComputeGrants() []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := s.selectLocked()
	var grants []Grant
	for rank, e := range selected {
		in := e.rpc.MsgIn
		total := in.TotalLength()
		incoming := in.Incoming()
		if incoming >= total {
			continue
		}
		received := in.BytesReceived()
		slack := incoming - received
		if slack >= uint32(s.cfg.GrantIncrement) {
			continue
		}
		newIncoming := incoming + uint32(s.cfg.GrantIncrement)
		if newIncoming > total {
			newIncoming = total
		}
		grants = append(grants, Grant{
			Rpc:         e.rpc,
			NewIncoming: newIncoming,
			Priority:    priorityFor(rank, s.cfg.MaxSchedPrio),
		})
	}
	return grants
}
