// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package homa

import (
	"fmt"
	"sync"
	"time"

	log "github.com/golang/glog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/openhoma/homacore/internal/bufpool"
	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/dispatch"
	"github.com/openhoma/homacore/internal/grantsched"
	"github.com/openhoma/homacore/internal/homatime"
	"github.com/openhoma/homacore/internal/metrics"
	"github.com/openhoma/homacore/internal/pacer"
	"github.com/openhoma/homacore/internal/peertable"
	"github.com/openhoma/homacore/internal/persist"
	"github.com/openhoma/homacore/internal/recovery"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/pkg/wire"
	"github.com/openhoma/homacore/transport"
)

// maxCachedRoutes bounds peertable's routing-handle LRU cache; see
// peertable.NewTable.
const maxCachedRoutes = 4096

// Addr identifies a remote Homa socket: a transport-level endpoint plus
// the logical Homa port bound there. Ports are demultiplexed by this
// package via the wire header's DestPort field rather than by the
// underlying transport, since one Transport (one bound UDP socket, in
// the production case) commonly serves many Homa sockets at once — the
// same reason spec §3 has ports survive a process restart via
// internal/persist rather than simply letting the OS assign them.
type Addr struct {
	Endpoint transport.Endpoint
	Port     int
}

// String renders the address as "endpoint/port".
func (a Addr) String() string {
	return fmt.Sprintf("%s/%d", a.Endpoint, a.Port)
}

// grantTickPeriod is how often the grant loop polls the scheduler when it
// hasn't been woken by an explicit change, as a backstop against a missed
// wake (spec §4.6's grant issuance has no hard deadline of its own, but a
// steady poll keeps behavior predictable under test).
const grantTickPeriod = time.Millisecond

// pacerTickPeriod is the pacer loop's backstop poll period, mirrored from
// pacer.Pacer's own per-Step batch limit (spec §4.7).
const pacerTickPeriod = time.Millisecond

// Global owns everything spec §3.1 assigns to HomaGlobal: the shared
// socket table (by local port), peer table, and the process-wide grant
// scheduler and pacer state. One Global normally exists per process.
type Global struct {
	cfg       config.Config
	clock     homatime.Source
	tp        transport.Transport
	peers     *peertable.Table
	scheduler *grantsched.Scheduler
	throttle  *pacer.ThrottleList
	pace      *pacer.Pacer
	portAlloc persist.PortAllocator

	mu      sync.Mutex
	sockets map[int]*Socket
	closed  atomic.Bool

	pacerWake chan struct{}
	grantWake chan struct{}
	stopCh    chan struct{}
	eg        *errgroup.Group

	// dumpDir is where FREEZE-triggered diagnostic snapshots are
	// written; see freeze.go. Empty disables dumping.
	dumpDir string
}

// New creates a Global bound to tp for packet I/O. resolver may be nil to
// use peertable's identity resolver (appropriate whenever addressing is
// fully described by a transport.Endpoint, e.g. over UDP). portAlloc
// hands out each Open call's local Homa port; pass a
// *persist.DurableAllocator to survive process restarts, or a
// *persist.MemoryAllocator for a throwaway process.
func New(cfg config.Config, clock homatime.Source, tp transport.Transport, resolver peertable.RouteResolver, portAlloc persist.PortAllocator) (*Global, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Global{
		cfg:       cfg,
		clock:     clock,
		tp:        tp,
		peers:     peertable.NewTable(resolver, cfg.ResendInterval, maxCachedRoutes),
		scheduler: grantsched.NewScheduler(cfg),
		throttle:  pacer.NewThrottleList(),
		portAlloc: portAlloc,
		sockets:   make(map[int]*Socket),
		pacerWake: make(chan struct{}, 1),
		grantWake: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		eg:        &errgroup.Group{},
	}
	g.pace = pacer.New(cfg, clock, g.throttle)
	g.pace.SetOnComplete(g.onSendComplete)
	g.pace.SetOnSkip(g.onPacerSkip)
	return g, nil
}

// Open allocates a new local Homa port and returns a Socket bound to it.
func (g *Global) Open() (*Socket, error) {
	port := g.portAlloc.Next()

	table := rpctable.NewTable(g.cfg.MaxDeadBuffs)
	table.SetLocalPort(port)

	s := &Socket{
		global:    g,
		localPort: port,
		table:     table,
		queue:     dispatch.NewQueue(),
		metrics:   metrics.NewSocket(fmt.Sprintf("%s:%d", g.tp.LocalAddr().IP, port)),
	}

	g.mu.Lock()
	g.sockets[port] = s
	g.mu.Unlock()
	return s, nil
}

func (g *Global) socketFor(port int) *Socket {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sockets[port]
}

func (g *Global) closeSocket(s *Socket) {
	g.mu.Lock()
	delete(g.sockets, s.localPort)
	g.mu.Unlock()
}

func (g *Global) allSockets() []*Socket {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Socket, 0, len(g.sockets))
	for _, s := range g.sockets {
		out = append(out, s)
	}
	return out
}

func (g *Global) wakePacer() {
	select {
	case g.pacerWake <- struct{}{}:
	default:
	}
}

func (g *Global) wakeGrant() {
	select {
	case g.grantWake <- struct{}{}:
	default:
	}
}

// onSendComplete is the pacer's OnComplete hook (spec's worked example 1:
// once both sides have sent everything, the server-side RPC becomes
// unreachable and should be freed). Client-side RPCs are not freed here:
// a fully-sent request is still awaiting its response.
func (g *Global) onSendComplete(rpc *rpctable.Rpc) {
	if !rpc.IsClient {
		rpc.Owner().Free(rpc)
	}
}

// onPacerSkip is the pacer's OnSkip hook: it's called when Step gives up
// on an RPC for the round because another goroutine already holds its
// bucket lock, so the owning socket's pacer_skipped_rpcs counter reflects
// how often lock contention is starving the pacer of work.
func (g *Global) onPacerSkip(rpc *rpctable.Rpc) {
	if s := g.socketFor(rpc.Owner().LocalPort()); s != nil {
		s.metrics.PacerSkippedRpcs.Inc()
	}
}

// Run starts the background goroutines that drive the transport: the
// packet receive loop, the recovery timer, the grant-issuing loop, and
// the pacer. We use an errgroup to link the lifetime of these
// background tasks together, the same way it links the lifetime of a
// gRPC server's request-handling goroutines: Close's g.eg.Wait() only
// returns once every one of them has actually stopped. It returns
// immediately; call Close to stop them.
func (g *Global) Run() {
	g.eg.Go(func() error { g.recvLoop(); return nil })
	g.eg.Go(func() error { g.tickLoop(); return nil })
	g.eg.Go(func() error { g.grantLoop(); return nil })
	g.eg.Go(func() error { g.pacerLoop(); return nil })
}

// Close stops every background goroutine and closes the underlying
// transport. It is safe to call more than once.
func (g *Global) Close() error {
	if !g.closed.CAS(false, true) {
		return nil
	}

	close(g.stopCh)
	err := g.tp.Close()
	if werr := g.eg.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (g *Global) recvLoop() {
	for {
		in, err := g.tp.Recv()
		if err != nil {
			if err == transport.ErrClosed {
				return
			}
			log.Errorf("homa: recv error: %v", err)
			continue
		}
		g.handleInbound(in)
	}
}

func (g *Global) handleInbound(in transport.Inbound) {
	pkt, err := wire.Decode(in.Payload)
	bufpool.Put(in.Payload)
	if err != nil {
		log.V(1).Infof("homa: dropping malformed packet from %s: %v", in.From, err)
		return
	}

	hdr := pkt.GetHeader()
	s := g.socketFor(int(hdr.DestPort))
	if s == nil {
		log.V(2).Infof("homa: packet for unknown local port %d from %s", hdr.DestPort, in.From)
		return
	}
	s.metrics.PacketReceived(hdr.Type.String())
	s.handlePacket(in.From, pkt)
}

func (g *Global) tickLoop() {
	ticker := time.NewTicker(g.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case now := <-ticker.C:
			for _, s := range g.allSockets() {
				s.tick(now)
			}
		}
	}
}

func (g *Global) grantLoop() {
	ticker := time.NewTicker(grantTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-g.grantWake:
			g.emitGrants()
		case <-ticker.C:
			if g.scheduler.Len() > 0 {
				g.emitGrants()
			}
		}
	}
}

func (g *Global) emitGrants() {
	for _, gr := range g.scheduler.ComputeGrants() {
		rpc := gr.Rpc
		table := rpc.Owner()
		if table == nil {
			continue
		}
		bucket := table.BucketFor(rpc.ID, rpc.IsClient)
		bucket.Lock()
		rpc.MsgIn.SetIncoming(gr.NewIncoming)
		bucket.Unlock()

		pkt := wire.Grant{
			Header: wire.Header{
				SourcePort: uint16(table.LocalPort()),
				DestPort:   uint16(rpc.DPort),
				ID:         rpc.ID,
			},
			Offset:   gr.NewIncoming,
			Priority: uint8(gr.Priority),
		}
		if err := g.tp.Send(rpc.Peer.Addr, gr.Priority, pkt.Encode()); err != nil {
			log.Errorf("homa: grant to %s failed: %v", rpc.Peer.Addr, err)
			continue
		}
		if s := g.socketFor(table.LocalPort()); s != nil {
			s.metrics.GrantsSent.Inc()
		}
	}
}

func (g *Global) pacerLoop() {
	ticker := time.NewTicker(pacerTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-g.pacerWake:
			g.pace.Step(g.tp)
		case <-ticker.C:
			if g.throttle.Len() > 0 {
				g.pace.Step(g.tp)
			}
		}
	}
}

// handlePacket dispatches a decoded packet to the right per-type handler.
// It is invoked from Global.handleInbound once the destination socket has
// been resolved.
func (s *Socket) handlePacket(from transport.Endpoint, pkt wire.Packet) {
	switch p := pkt.(type) {
	case *wire.Data:
		s.handleData(from, p)
	case *wire.Grant:
		s.handleGrant(p)
	case *wire.Resend:
		s.handleResend(from, p)
	case *wire.Restart:
		s.handleRestart(p)
	case *wire.Busy:
		s.handleBusy(p)
	case *wire.Cutoffs:
		s.handleCutoffs(from, p)
	case *wire.Freeze:
		s.handleFreeze(from, p)
	default:
		s.metrics.UnknownTypes.Inc()
	}
}

// handleData applies an inbound DATA packet to the RPC it names,
// resolving spec's wire-format direction ambiguity (there is no explicit
// request/response bit in wire.Header) by trying the client-issued-RPC
// table first and falling back to the server-issued table, which also
// covers the very first packet of a brand new request.
func (s *Socket) handleData(from transport.Endpoint, d *wire.Data) {
	peer, err := s.global.peers.Get(from, time.Now())
	if err != nil {
		s.metrics.PeerAllocFailures.Inc()
		return
	}

	rpc, _, err := dispatch.RouteData(s.table, peer, d, true)
	if err == dispatch.ErrUnknownClientRpc {
		rpc, _, err = dispatch.RouteData(s.table, peer, d, false)
	}
	if err != nil || rpc == nil {
		s.metrics.DiscardsNoRpc.Inc()
		return
	}

	bucket := s.table.BucketFor(rpc.ID, rpc.IsClient)
	bucket.Lock()
	recovery.OnPacketReceived(rpc)

	if rpc.MsgIn == nil {
		rpc.MsgIn = rpctable.NewMessageIn(d.MessageLength, d.Incoming)
	} else {
		rpc.MsgIn.SetIncoming(d.Incoming)
	}

	complete := false
	for _, seg := range d.Segments {
		_, complete = rpc.MsgIn.Insert(seg.Offset, seg.Length, seg.Payload)
	}

	if complete {
		rpc.State = rpctable.StateReady
		s.global.scheduler.Remove(rpc)
	} else {
		s.global.scheduler.Update(rpc)
	}
	bucket.Unlock()

	if complete {
		s.queue.Ready(rpc, !rpc.IsClient)
	} else {
		s.global.wakeGrant()
	}
}

func (s *Socket) handleGrant(gr *wire.Grant) {
	rpc := s.table.Lookup(rpctable.Key{ID: gr.ID, IsClient: true})
	if rpc == nil {
		rpc = s.table.Lookup(rpctable.Key{ID: gr.ID, IsClient: false})
	}
	if rpc == nil || rpc.MsgOut == nil {
		s.metrics.DiscardsNoRpc.Inc()
		return
	}

	bucket := s.table.BucketFor(rpc.ID, rpc.IsClient)
	bucket.Lock()
	recovery.OnPacketReceived(rpc)
	rpc.MsgOut.SetGranted(gr.Offset)
	rpc.MsgOut.SetSchedPriority(int(gr.Priority))
	bucket.Unlock()

	s.global.throttle.Resort()
	s.global.wakePacer()
}

func (s *Socket) handleResend(from transport.Endpoint, r *wire.Resend) {
	rpc, needsRestart := dispatch.RouteResend(s.table, r.ID, true)
	if rpc == nil && !needsRestart {
		rpc, needsRestart = dispatch.RouteResend(s.table, r.ID, false)
	}
	if needsRestart {
		s.sendRestart(from, r)
		return
	}
	if rpc == nil || rpc.MsgOut == nil {
		return
	}

	bucket := s.table.BucketFor(rpc.ID, rpc.IsClient)
	bucket.Lock()
	recovery.OnPacketReceived(rpc)
	segs := rpc.MsgOut.SegmentsInRange(r.Offset, r.Offset+r.Length)
	bucket.Unlock()

	for _, seg := range segs {
		s.retransmitSegment(rpc, seg)
	}
}

func (s *Socket) handleRestart(rs *wire.Restart) {
	rpc := s.table.Lookup(rpctable.Key{ID: rs.ID, IsClient: true})
	if rpc == nil {
		// RESTART only ever targets a client-issued RPC: it tells the
		// original sender to replay from the beginning.
		return
	}

	bucket := s.table.BucketFor(rpc.ID, true)
	bucket.Lock()
	recovery.OnPacketReceived(rpc)
	recovery.ApplyRestart(rpc)
	rpc.State = rpctable.StateOutgoing
	bucket.Unlock()

	s.global.throttle.Add(rpc)
	s.global.wakePacer()
}

func (s *Socket) handleBusy(b *wire.Busy) {
	rpc := s.table.Lookup(rpctable.Key{ID: b.ID, IsClient: true})
	if rpc == nil {
		rpc = s.table.Lookup(rpctable.Key{ID: b.ID, IsClient: false})
	}
	if rpc == nil {
		return
	}

	bucket := s.table.BucketFor(rpc.ID, rpc.IsClient)
	bucket.Lock()
	recovery.OnBusy(rpc)
	bucket.Unlock()
}

func (s *Socket) handleCutoffs(from transport.Endpoint, c *wire.Cutoffs) {
	peer, err := s.global.peers.Get(from, time.Now())
	if err != nil {
		return
	}
	var cutoffs [8]int
	for i, v := range c.Cutoffs {
		cutoffs[i] = int(v)
	}
	peer.SetUnschedCutoffs(cutoffs, c.CutoffVersion, time.Now())
}

// handleFreeze responds to a diagnostic FREEZE request. The kernel
// source's ring-buffer snapshot has no analog here; instead, if a dump
// directory has been configured (Global.SetFreezeDumpDir), this writes a
// compressed snapshot of the socket's RPC table for cmd/homadump to read
// alongside the process's exported Prometheus metrics.
func (s *Socket) handleFreeze(from transport.Endpoint, f *wire.Freeze) {
	log.Warningf("homa: FREEZE request from %s for rpc %d", from, f.ID)
	s.global.dumpFreeze(s, f.ID)
}

func (s *Socket) sendRestart(from transport.Endpoint, r *wire.Resend) {
	rs := wire.Restart{Header: wire.Header{
		SourcePort: uint16(s.localPort),
		DestPort:   r.SourcePort,
		ID:         r.ID,
	}}
	if err := s.global.tp.Send(from, s.global.cfg.NumPriorities-1, rs.Encode()); err != nil {
		log.Errorf("homa: restart to %s failed: %v", from, err)
		return
	}
	s.metrics.RestartsSent.Inc()
}

func (s *Socket) sendResend(rpc *rpctable.Rpc, start, end uint32) {
	r := wire.Resend{
		Header: wire.Header{
			SourcePort: uint16(s.localPort),
			DestPort:   uint16(rpc.DPort),
			ID:         rpc.ID,
		},
		Offset: start,
		Length: end - start,
	}
	if err := s.global.tp.Send(rpc.Peer.Addr, s.global.cfg.NumPriorities-1, r.Encode()); err != nil {
		log.Errorf("homa: resend to %s failed: %v", rpc.Peer.Addr, err)
		return
	}
	s.metrics.ResendsSent.Inc()
}

// sendFreeze tells the peer to dump its own diagnostic snapshot, mirroring
// the local one Global.dumpFreeze already takes for this RPC. It's sent
// when the recovery timer gives up on rpc entirely (spec's abort_resends),
// since by then both ends' state for this id is worth capturing.
func (s *Socket) sendFreeze(rpc *rpctable.Rpc) {
	f := wire.Freeze{Header: wire.Header{
		SourcePort: uint16(s.localPort),
		DestPort:   uint16(rpc.DPort),
		ID:         rpc.ID,
	}}
	if err := s.global.tp.Send(rpc.Peer.Addr, s.global.cfg.NumPriorities-1, f.Encode()); err != nil {
		log.Errorf("homa: freeze to %s failed: %v", rpc.Peer.Addr, err)
		return
	}
	s.metrics.FreezesSent.Inc()
}

func (s *Socket) retransmitSegment(rpc *rpctable.Rpc, seg wire.Segment) {
	priority := pacer.SegmentPriority(seg.Offset, seg.Length, rpc.MsgOut.Unscheduled(), rpc.MsgOut.Length(),
		rpc.MsgOut.SchedPriority(), peerCutoffsFor(rpc), s.global.cfg.NumPriorities)

	d := wire.Data{
		Header: wire.Header{
			SourcePort: uint16(s.localPort),
			DestPort:   uint16(rpc.DPort),
			Priority:   uint8(priority),
			ID:         rpc.ID,
		},
		MessageLength: rpc.MsgOut.Length(),
		Incoming:      rpc.MsgOut.Granted(),
		Retransmit:    true,
		Segments:      []wire.Segment{seg},
	}
	if err := s.global.tp.Send(rpc.Peer.Addr, priority, d.Encode()); err != nil {
		log.Errorf("homa: retransmit to %s failed: %v", rpc.Peer.Addr, err)
		return
	}
	s.metrics.ResentPackets.Inc()
}

func peerCutoffsFor(rpc *rpctable.Rpc) [8]int {
	cutoffs, _ := rpc.Peer.UnschedCutoffs()
	return cutoffs
}
