// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package transport

import (
	"net"

	"golang.org/x/net/ipv4"

	log "github.com/golang/glog"

	"github.com/openhoma/homacore/internal/bufpool"
)

// tosPerPriority maps a transport priority level to an IPv4 TOS/DSCP byte.
// This is the one point in the codebase where the "VLAN priority mapping"
// that spec §1 otherwise treats as an external collaborator becomes
// concrete: on Linux, the kernel's homa.ko relies on skb->priority plus a
// user-configured tc mapping to reach 802.1p; here we approximate the same
// effect by setting IP TOS directly, which most switches will honor for
// simple priority queuing without needing 802.1Q tags at all.
func tosPerPriority(priority, numPriorities int) int {
	if numPriorities <= 1 {
		return 0
	}
	if priority < 0 {
		priority = 0
	}
	if priority >= numPriorities {
		priority = numPriorities - 1
	}
	// Spread priorities across the 6-bit DSCP field, highest transport
	// priority getting the highest DSCP value.
	return (priority * 63) / (numPriorities - 1) << 2
}

// UDPTransport is the production Transport: it sends and receives whole
// encoded packets over a UDP socket, marking each outbound packet's IP TOS
// byte according to its transport priority.
type UDPTransport struct {
	conn          *net.UDPConn
	pconn         *ipv4.PacketConn
	local         Endpoint
	numPriorities int
	closed        chan struct{}
}

// NewUDPTransport opens a UDP socket bound to addr (host:port, host may be
// empty to bind all interfaces) and returns a Transport ready for use.
func NewUDPTransport(addr string, numPriorities int) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}
	t := &UDPTransport{
		conn:          conn,
		pconn:         ipv4.NewPacketConn(conn),
		numPriorities: numPriorities,
		closed:        make(chan struct{}),
	}
	t.local = Endpoint{IP: conn.LocalAddr().(*net.UDPAddr).IP, Port: conn.LocalAddr().(*net.UDPAddr).Port}
	return t, nil
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() Endpoint { return t.local }

// Send implements PacketSink.
func (t *UDPTransport) Send(dst Endpoint, priority int, payload []byte) error {
	tos := tosPerPriority(priority, t.numPriorities)
	if err := t.pconn.SetTOS(tos); err != nil {
		log.V(2).Infof("transport: SetTOS(%d) failed: %v", tos, err)
	}
	_, err := t.conn.WriteToUDP(payload, &net.UDPAddr{IP: dst.IP, Port: dst.Port})
	return err
}

// Recv implements PacketSource.
//
// The returned Inbound.Payload is drawn from bufpool; wire.Decode copies
// out everything it keeps (segment payloads are re-sliced from a fresh
// allocation), so callers should bufpool.Put the buffer back once decoding
// is done.
func (t *UDPTransport) Recv() (Inbound, error) {
	buf := bufpool.Get(65536)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		select {
		case <-t.closed:
			return Inbound{}, ErrClosed
		default:
			return Inbound{}, err
		}
	}
	return Inbound{
		From:    Endpoint{IP: addr.IP, Port: addr.Port},
		Payload: buf[:n],
	}, nil
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	close(t.closed)
	return t.conn.Close()
}
