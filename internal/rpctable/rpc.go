// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package rpctable

import (
	"github.com/openhoma/homacore/internal/peertable"
)

// State is one of the lifecycle states named in spec §3.
type State int

// RPC lifecycle states.
const (
	StateOutgoing State = iota
	StateIncoming
	StateReady
	StateInService
	StateDead
)

func (s State) String() string {
	switch s {
	case StateOutgoing:
		return "Outgoing"
	case StateIncoming:
		return "Incoming"
	case StateReady:
		return "Ready"
	case StateInService:
		return "InService"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Error is a wire-visible outcome delivered to the application as
// Rpc.Error, distinct from local Go errors returned by API calls (see
// SPEC_FULL.md's Ambient Stack / Error handling section).
type Error int

// Wire-visible RPC outcomes.
const (
	NoError Error = iota
	ErrTimeout
	ErrAborted
	ErrShutdown
)

func (e Error) String() string {
	switch e {
	case NoError:
		return "NoError"
	case ErrTimeout:
		return "ErrTimeout"
	case ErrAborted:
		return "ErrAborted"
	case ErrShutdown:
		return "ErrShutdown"
	default:
		return "Unknown"
	}
}

// Rpc is the fundamental transport unit (spec §3): identified by a 64-bit
// id unique per (socket, is_client), owned by exactly one hash bucket for
// its whole life, with all mutation serialized by that bucket's lock.
type Rpc struct {
	ID       uint64
	IsClient bool
	Peer     *peertable.Peer
	DPort    int

	State State
	Error Error

	MsgIn  *MessageIn
	MsgOut *MessageOut

	SilentTicks int
	NumResends  int

	// grantableIndex and throttledIndex are >= 0 while this RPC is on
	// the corresponding scheduler list; the bucket lock (held whenever
	// membership changes) makes that safe without any separate per-RPC
	// lifetime counter (spec §9).
	grantableIndex int // -1 if not on the grantable list
	throttledIndex int // -1 if not on the throttled list

	// dead marks that Free has been called; the RPC is on the socket's
	// dead list awaiting Reap.
	dead bool

	// owner is the Table this RPC lives in, set once at insertion time.
	// grantsched and pacer both operate on RPCs drawn from HomaGlobal's
	// process-wide grantable/throttled lists (spec §3.1), so unlike the
	// bucket lock (fixed for the RPC's whole life) they cannot be handed
	// a single Table up front; they recover it from the RPC itself.
	owner *Table
}

// SetOwner records the Table this RPC has just been inserted into. Called
// by Table.Insert and by dispatch when it inserts a freshly created
// server RPC directly into a bucket.
func (r *Rpc) SetOwner(t *Table) { r.owner = t }

// Owner returns the Table this RPC belongs to, or nil if it has not been
// inserted anywhere yet.
func (r *Rpc) Owner() *Table { return r.owner }

// NewClientRpc creates a client-side RPC in the Outgoing state.
func NewClientRpc(id uint64, peer *peertable.Peer, dport int, out *MessageOut) *Rpc {
	return &Rpc{
		ID:             id,
		IsClient:       true,
		Peer:           peer,
		DPort:          dport,
		State:          StateOutgoing,
		MsgOut:         out,
		grantableIndex: -1,
		throttledIndex: -1,
	}
}

// NewServerRpc creates a server-side RPC in the Incoming state, seeded
// with the first inbound message.
func NewServerRpc(id uint64, peer *peertable.Peer, dport int, in *MessageIn) *Rpc {
	return &Rpc{
		ID:             id,
		IsClient:       false,
		Peer:           peer,
		DPort:          dport,
		State:          StateIncoming,
		MsgIn:          in,
		grantableIndex: -1,
		throttledIndex: -1,
	}
}

// IsGrantable reports whether this RPC should be on the grant scheduler's
// list, per spec's invariant: msgin.scheduled && bytes_remaining > 0.
func (r *Rpc) IsGrantable() bool {
	if r.MsgIn == nil {
		return false
	}
	return r.MsgIn.Scheduled() && r.MsgIn.BytesRemaining() > 0
}

// OnGrantableList reports whether the RPC is currently linked into the
// grantable list.
func (r *Rpc) OnGrantableList() bool { return r.grantableIndex >= 0 }

// OnThrottledList reports whether the RPC is currently linked into the
// throttled list.
func (r *Rpc) OnThrottledList() bool { return r.throttledIndex >= 0 }

// SetGrantableLinked records whether the RPC is currently linked into the
// grantable list. Called only by package grantsched, under its own lock.
func (r *Rpc) SetGrantableLinked(linked bool) {
	if linked {
		r.grantableIndex = 0
	} else {
		r.grantableIndex = -1
	}
}

// SetThrottledLinked records whether the RPC is currently linked into the
// throttled list. Called only by package pacer, under its own lock.
func (r *Rpc) SetThrottledLinked(linked bool) {
	if linked {
		r.throttledIndex = 0
	} else {
		r.throttledIndex = -1
	}
}

// Key uniquely identifies an RPC within one socket, per spec's uniqueness
// invariant: no two RPCs in the same socket share (id, is_client).
type Key struct {
	ID       uint64
	IsClient bool
}

// Bucket selects the hash bucket for this key, id mod BUCKETS.
func (k Key) Bucket(numBuckets int) int {
	return int(k.ID % uint64(numBuckets))
}
