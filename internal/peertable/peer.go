// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package peertable implements the per-destination peer table (spec §4.2):
// routing handles, unscheduled-priority cutoffs, and resend rate-limit
// state, one entry per remote host. Entries are append-only for the life
// of the process and returned references may be retained indefinitely.
package peertable

import (
	"sync"
	"time"

	"github.com/openhoma/homacore/pkg/tokenbucket"
	"github.com/openhoma/homacore/transport"
)

// RoutingHandle is whatever a concrete deployment needs to reach a peer
// beyond its bare IP (a resolved MAC, an RDMA queue pair, ...). The core
// only stores and returns it; it never inspects the contents. IP routing
// itself is out of scope per spec §1.
type RoutingHandle interface{}

// RouteResolver resolves a peer's routing handle on first contact. The
// default resolver used by NewTable is the identity resolver, appropriate
// when addressing is fully described by the transport.Endpoint already.
type RouteResolver interface {
	Resolve(addr transport.Endpoint) (RoutingHandle, error)
}

type identityResolver struct{}

func (identityResolver) Resolve(addr transport.Endpoint) (RoutingHandle, error) {
	return addr, nil
}

// Peer holds everything the transport tracks about one remote host.
type Peer struct {
	Addr   transport.Endpoint
	Handle RoutingHandle

	mu                sync.Mutex
	unschedCutoffs    [8]int
	cutoffVersion     uint16
	lastUpdate        time.Time
	resendLimiter     *tokenbucket.TokenBucket
	peerAllocFailures int
}

// UnschedCutoffs returns the peer's current unscheduled-priority cutoffs
// and the version they were received at.
func (p *Peer) UnschedCutoffs() (cutoffs [8]int, version uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unschedCutoffs, p.cutoffVersion
}

// SetUnschedCutoffs records a new set of cutoffs received from this peer
// (via a CUTOFFS packet), along with the version it was tagged with.
func (p *Peer) SetUnschedCutoffs(cutoffs [8]int, version uint16, now time.Time) {
	p.mu.Lock()
	p.unschedCutoffs = cutoffs
	p.cutoffVersion = version
	p.lastUpdate = now
	p.mu.Unlock()
}

// CutoffVersion returns the last cutoff_version received from this peer.
func (p *Peer) CutoffVersion() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cutoffVersion
}

// AllowResend reports whether enough time has passed since the last RESEND
// sent to this peer, per spec §4.8 ("time since last RESEND to this peer
// >= resend_interval"). It is grounded on pkg/tokenbucket, adapted from a
// generic rate limiter to a boolean single-attempt-per-interval gate: a
// resend attempt consumes one token; the token bucket refills at exactly
// one token per resend_interval, so at most one RESEND per interval is
// ever allowed to a given peer regardless of how many RPCs to it are
// simultaneously timing out.
func (p *Peer) AllowResend(now time.Time) bool {
	sleep := p.resendLimiter.TakeAndUpdate(1, now)
	return sleep <= 0
}

// PeerAllocFailures returns the count of route-resolution failures
// recorded against this peer (spec §7 resource exhaustion accounting).
func (p *Peer) PeerAllocFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerAllocFailures
}

func newPeer(addr transport.Endpoint, handle RoutingHandle, resendInterval time.Duration, now time.Time) *Peer {
	rate := float32(1)
	if resendInterval > 0 {
		rate = float32(time.Second) / float32(resendInterval)
	}
	return &Peer{
		Addr:          addr,
		Handle:        handle,
		resendLimiter: tokenbucket.NewAt(rate, 1, now),
	}
}
