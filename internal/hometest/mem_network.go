// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package hometest provides in-memory transport.Transport implementations
// for exercising the RPC state machine, grant scheduler, pacer, and
// recovery logic without real sockets or a wall clock: an in-process
// network hub plus composable wrappers that drop, duplicate, or reorder
// packets in flight, so the loss/duplication/reordering scenarios in spec
// §8 can be driven deterministically.
package hometest

import (
	"sync"

	log "github.com/golang/glog"

	"github.com/openhoma/homacore/transport"
)

// MemNetworkStats tracks aggregate counters for one host's traffic.
type MemNetworkStats struct {
	Sent      int
	Delivered int
	Rejected  int // channel was full
}

// MemNetwork is a shared in-process registry of hosts, standing in for an
// actual IP network. Every MemTransport created against the same
// MemNetwork can address every other one by Endpoint.
type MemNetwork struct {
	mu    sync.Mutex
	hosts map[string]*MemTransport
}

// NewMemNetwork creates an empty network hub.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{hosts: make(map[string]*MemTransport)}
}

// NewHost registers a new endpoint on the network and returns its
// Transport. chanCap bounds how many undelivered packets can queue for
// this host before Send starts rejecting them (modeling a receiver that
// isn't reading fast enough).
func (n *MemNetwork) NewHost(addr transport.Endpoint, chanCap int) *MemTransport {
	t := &MemTransport{
		net:    n,
		addr:   addr,
		recvCh: make(chan transport.Inbound, chanCap),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	n.hosts[addr.String()] = t
	n.mu.Unlock()
	return t
}

func (n *MemNetwork) lookup(addr transport.Endpoint) *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hosts[addr.String()]
}

func (n *MemNetwork) remove(addr transport.Endpoint) {
	n.mu.Lock()
	delete(n.hosts, addr.String())
	n.mu.Unlock()
}

// MemTransport is one host's view of a MemNetwork.
type MemTransport struct {
	net    *MemNetwork
	addr   transport.Endpoint
	recvCh chan transport.Inbound
	closed chan struct{}

	mu    sync.Mutex
	stats MemNetworkStats
}

// LocalAddr implements transport.Transport.
func (t *MemTransport) LocalAddr() transport.Endpoint { return t.addr }

// Send implements transport.PacketSink. priority is accepted but has no
// effect in memory: there's no NIC queue to prioritize.
func (t *MemTransport) Send(dst transport.Endpoint, priority int, payload []byte) error {
	target := t.net.lookup(dst)
	t.mu.Lock()
	t.stats.Sent++
	t.mu.Unlock()
	if target == nil {
		log.V(5).Infof("hometest: no host at %s", dst)
		return nil
	}
	cp := append([]byte(nil), payload...)
	select {
	case target.recvCh <- transport.Inbound{From: t.addr, Payload: cp}:
		t.mu.Lock()
		t.stats.Delivered++
		t.mu.Unlock()
	default:
		t.mu.Lock()
		t.stats.Rejected++
		t.mu.Unlock()
	}
	return nil
}

// Recv implements transport.PacketSource.
func (t *MemTransport) Recv() (transport.Inbound, error) {
	select {
	case in := <-t.recvCh:
		return in, nil
	case <-t.closed:
		return transport.Inbound{}, transport.ErrClosed
	}
}

// Close implements transport.Transport.
func (t *MemTransport) Close() error {
	t.net.remove(t.addr)
	close(t.closed)
	return nil
}

// Stats returns a snapshot of this host's traffic counters.
func (t *MemTransport) Stats() MemNetworkStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
