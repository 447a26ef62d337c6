// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package transport defines the boundary between the transport engine and
// the outside world: sending and receiving whole encoded packets, and
// reading the clock. Everything below this boundary (socket syscalls, IP
// routing, VLAN priority mapping, raw packet injection) is out of scope
// per spec §1 and is the concrete implementation's responsibility.
package transport

import (
	"fmt"
	"net"
)

// Endpoint identifies a peer by IP address and UDP port.
type Endpoint struct {
	IP   net.IP
	Port int
}

// String renders the endpoint as "ip:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Equal reports whether e and o name the same endpoint.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.Port == o.Port && e.IP.Equal(o.IP)
}

// Inbound is one packet as received off the wire, tagged with where it
// came from.
type Inbound struct {
	From    Endpoint
	Payload []byte
}

// PacketSink is the outbound half of the transport boundary. Priority is
// the packet's already-computed scheduling priority (spec §6
// base_priority already applied); a concrete sink is responsible for
// mapping it onto whatever the local network fabric understands (DSCP,
// 802.1p, ...).
type PacketSink interface {
	// Send transmits payload to dst at the given priority. Errors are
	// transmission errors per spec §7: the caller counts them and moves
	// on, relying on the timer to trigger a RESEND rather than retrying
	// here.
	Send(dst Endpoint, priority int, payload []byte) error
}

// PacketSource is the inbound half of the transport boundary.
type PacketSource interface {
	// Recv blocks until a packet arrives or the source is closed, in
	// which case it returns ErrClosed.
	Recv() (Inbound, error)
}

// Transport bundles both directions plus lifecycle.
type Transport interface {
	PacketSink
	PacketSource

	// LocalAddr returns the endpoint this transport receives on.
	LocalAddr() Endpoint

	// Close shuts the transport down; any blocked Recv returns ErrClosed.
	Close() error
}

// ErrClosed is returned by Recv after Close.
var ErrClosed = fmt.Errorf("transport: closed")
