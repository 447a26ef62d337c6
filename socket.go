// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package homa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/openhoma/homacore/internal/dispatch"
	"github.com/openhoma/homacore/internal/metrics"
	"github.com/openhoma/homacore/internal/pacer"
	"github.com/openhoma/homacore/internal/recovery"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/pkg/wire"
	"github.com/openhoma/homacore/transport"
)

// ErrSocketClosed is returned by Socket operations after Shutdown.
var ErrSocketClosed = errors.New("homa: socket is shut down")

// ErrWouldBlock is returned by a non-blocking Recv when nothing is ready.
var ErrWouldBlock = errors.New("homa: recv would block")

// RecvFlags selects what Recv is willing to return.
type RecvFlags struct {
	// Request accepts a fully-received inbound request (server side).
	Request bool
	// Response accepts a fully-received response to one of this socket's
	// own requests (client side).
	Response bool
	// NonBlocking makes Recv return ErrWouldBlock immediately instead of
	// waiting when nothing currently matches.
	NonBlocking bool
}

// Socket is one bound Homa port: its own client/server RPC table, ready
// queue, and metrics, sharing its owning Global's peer table, grant
// scheduler and pacer (spec §3.1, §5).
type Socket struct {
	global    *Global
	localPort int
	table     *rpctable.Table
	queue     *dispatch.Queue
	metrics   *metrics.Socket

	// writeMu is spec §5's socket_write_mutex: it serializes RPC id
	// allocation and the initial send of a new outbound message, so two
	// concurrent SendRequest calls on the same socket can never race to
	// insert the same id.
	writeMu sync.Mutex
	nextID  atomic.Uint64

	closed atomic.Bool
}

// LocalPort returns the Homa port this socket is bound to.
func (s *Socket) LocalPort() int { return s.localPort }

func (s *Socket) isClosed() bool {
	return s.closed.Load()
}

// SendRequest starts a new outgoing RPC to dst carrying payload, returning
// the id the application uses to match the eventual response in Recv.
// Per spec's worked examples, as much of the message as is currently
// authorized to send (the unscheduled prefix, or more if the NIC queue
// has room) goes out before SendRequest returns; the rest is left for the
// pacer.
func (s *Socket) SendRequest(dst Addr, payload []byte) (uint64, error) {
	if s.isClosed() {
		return 0, ErrSocketClosed
	}
	if len(payload) > s.global.cfg.MaxMessageSize {
		return 0, fmt.Errorf("homa: request of %d bytes exceeds max_message_size %d", len(payload), s.global.cfg.MaxMessageSize)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	peer, err := s.global.peers.Get(dst.Endpoint, time.Now())
	if err != nil {
		return 0, err
	}

	id := s.nextID.Inc()
	out := rpctable.AssembleOutbound(payload, s.global.cfg.MTU, s.global.cfg.RTTBytes, s.global.cfg.MaxGSOSize, s.global.cfg.MaxGSOSize)
	rpc := rpctable.NewClientRpc(id, peer, dst.Port, out)
	s.table.Insert(rpc)

	s.transmit(rpc)
	return id, nil
}

// Reply sends payload as the response to the request identified by
// requestID, which must currently be in the InService state (i.e. handed
// to the application by a prior Recv with Request set).
func (s *Socket) Reply(requestID uint64, payload []byte) error {
	if s.isClosed() {
		return ErrSocketClosed
	}
	if len(payload) > s.global.cfg.MaxMessageSize {
		return fmt.Errorf("homa: reply of %d bytes exceeds max_message_size %d", len(payload), s.global.cfg.MaxMessageSize)
	}

	rpc := s.table.Lookup(rpctable.Key{ID: requestID, IsClient: false})
	if rpc == nil {
		return fmt.Errorf("homa: reply to unknown or already-reaped rpc %d", requestID)
	}

	bucket := s.table.BucketFor(rpc.ID, false)
	bucket.Lock()
	if rpc.State != rpctable.StateInService {
		bucket.Unlock()
		return fmt.Errorf("homa: rpc %d is not in service (state=%s)", requestID, rpc.State)
	}
	rpc.MsgOut = rpctable.AssembleOutbound(payload, s.global.cfg.MTU, s.global.cfg.RTTBytes, s.global.cfg.MaxGSOSize, s.global.cfg.MaxGSOSize)
	bucket.Unlock()

	s.transmit(rpc)
	return nil
}

// transmit sends as much of rpc.MsgOut as is currently granted and the
// NIC-queue estimator judges safe, directly on the calling goroutine
// (spec §4.7: "non-pacer senders may also transmit directly if the
// throttled list is empty ... or the estimator indicates capacity"),
// deferring whatever remains to the shared pacer.
func (s *Socket) transmit(rpc *rpctable.Rpc) {
	maxQueueCycles := s.global.cfg.MaxNICQueueCycles(s.global.clock.CyclesPerSecond())
	cyclesPerByte := s.global.cfg.CyclesPerKbyte(s.global.clock.CyclesPerSecond()) / 1000
	estimator := s.global.pace.Estimator()

	bucket := s.table.BucketFor(rpc.ID, rpc.IsClient)
	bucket.Lock()
	directOK := s.global.throttle.Len() == 0
	for directOK {
		seg, ok := rpc.MsgOut.NextSendable()
		if !ok {
			break
		}
		now := s.global.clock.Cycles()
		packetCycles := uint64(float64(len(seg.Payload)) * cyclesPerByte)
		accepted, _ := estimator.TryReserve(now, packetCycles, maxQueueCycles)
		if !accepted {
			// A remainder smaller than ThrottleMinBytes bypasses the
			// pacer entirely (spec's ThrottleMinBytes tunable) rather
			// than waiting its turn on the throttled list for a queue
			// depth too small to matter.
			if rpc.MsgOut.BytesRemainingToSend() >= uint32(s.global.cfg.ThrottleMinBytes) {
				directOK = false
				break
			}
		}

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
			Segments:      []wire.Segment{seg},
		}
		if err := s.global.tp.Send(rpc.Peer.Addr, priority, d.Encode()); err != nil {
			directOK = false
			break
		}
		rpc.MsgOut.MarkSent(seg.Offset)
	}
	fullySent := rpc.MsgOut.FullySent()
	bucket.Unlock()

	if fullySent {
		s.global.onSendComplete(rpc)
		return
	}
	s.global.throttle.Add(rpc)
	s.global.wakePacer()
}

// Recv blocks until an RPC matching flags is deliverable, or ctx is done.
// wantID, if nonzero, restricts the wait to that specific RPC (used to
// wait for one particular response). It returns the message payload, the
// RPC's id, and the endpoint it came from.
func (s *Socket) Recv(ctx context.Context, flags RecvFlags, wantID uint64) ([]byte, uint64, transport.Endpoint, error) {
	if !flags.Request && !flags.Response {
		return nil, 0, transport.Endpoint{}, fmt.Errorf("homa: Recv needs at least one of Request or Response")
	}
	if s.isClosed() {
		return nil, 0, transport.Endpoint{}, ErrSocketClosed
	}

	waitCtx := ctx
	if flags.NonBlocking {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithCancel(ctx)
		cancel()
	}

	rpc, ok := s.queue.Wait(waitCtx, flags.Request, flags.Response, wantID)
	if !ok {
		if flags.NonBlocking && ctx.Err() == nil {
			return nil, 0, transport.Endpoint{}, ErrWouldBlock
		}
		return nil, 0, transport.Endpoint{}, ctx.Err()
	}

	// DisableReap covers the window where we read out rpc's fields and
	// copy its payload: the recovery timer's abort path and Table.Reap
	// must not release rpc's buffers out from under us (spec §4.9).
	s.table.DisableReap()

	bucket := s.table.BucketFor(rpc.ID, rpc.IsClient)
	bucket.Lock()
	var payload []byte
	if rpc.MsgIn != nil {
		payload = append([]byte(nil), rpc.MsgIn.Bytes()...)
	}
	isRequest := !rpc.IsClient
	from := rpc.Peer.Addr
	id := rpc.ID
	appErr := rpc.Error
	if isRequest {
		rpc.State = rpctable.StateInService
	}
	bucket.Unlock()

	s.table.EnableReap()

	if !isRequest {
		// The response has now been delivered to the application; this
		// client-issued RPC has nothing further to do.
		s.table.Free(rpc)
	}

	var err error
	if appErr != rpctable.NoError {
		err = fmt.Errorf("homa: rpc %d failed: %s", id, appErr)
	}
	return payload, id, from, err
}

// tick runs one recovery-timer pass over every live RPC on this socket
// (spec §4.8), then reaps whatever the pass (or a prior Recv) has freed.
func (s *Socket) tick(now time.Time) {
	s.table.Walk(func(rpc *rpctable.Rpc) {
		if !rpcAwaitingNetwork(rpc) {
			return
		}
		d := recovery.Tick(s.global.cfg, rpc, now)
		switch d.Action {
		case recovery.ActionResend:
			s.sendResend(rpc, d.ResendStart, d.ResendEnd)
		case recovery.ActionAbort:
			s.metrics.Aborts.Inc()
			s.global.dumpFreeze(s, rpc.ID)
			s.sendFreeze(rpc)
			if rpc.IsClient {
				s.queue.Ready(rpc, false)
			}
		}
	})

	if s.table.NeedsAggressiveReap() {
		s.table.Reap(0)
	} else {
		s.table.Reap(s.global.cfg.ReapLimit)
	}
}

// rpcAwaitingNetwork reports whether rpc is still waiting on the peer and
// therefore subject to the recovery timer: a client with no response yet,
// or a server with an incomplete request.
func rpcAwaitingNetwork(rpc *rpctable.Rpc) bool {
	if rpc.State == rpctable.StateDead {
		return false
	}
	if rpc.IsClient {
		return rpc.State != rpctable.StateReady
	}
	return rpc.MsgIn != nil && rpc.MsgIn.BytesRemaining() > 0
}

// Abort forces every outstanding client-issued RPC to dst into the Ready
// state with the given error, waking any blocked Recv. It returns how
// many RPCs were aborted. Server-issued RPCs (requests this socket is
// still servicing) are untouched, matching spec §4.8's abort semantics:
// only the client side surfaces an error to the application.
func (s *Socket) Abort(dst transport.Endpoint, reason rpctable.Error) int {
	var woken []*rpctable.Rpc
	s.table.Walk(func(rpc *rpctable.Rpc) {
		if !rpc.IsClient || rpc.State == rpctable.StateDead {
			return
		}
		if !rpc.Peer.Addr.Equal(dst) {
			return
		}
		rpc.Error = reason
		rpc.State = rpctable.StateReady
		woken = append(woken, rpc)
	})
	for _, rpc := range woken {
		s.queue.Ready(rpc, false)
	}
	return len(woken)
}

// Shutdown surfaces ErrShutdown to every outstanding client-issued RPC on
// this socket, wakes any blocked Recv, and unregisters the socket from
// its Global so no further inbound packets are routed to it.
func (s *Socket) Shutdown() error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	var woken []*rpctable.Rpc
	s.table.Walk(func(rpc *rpctable.Rpc) {
		if !rpc.IsClient || rpc.State == rpctable.StateDead {
			return
		}
		rpc.Error = rpctable.ErrShutdown
		rpc.State = rpctable.StateReady
		woken = append(woken, rpc)
	})
	for _, rpc := range woken {
		s.queue.Ready(rpc, false)
	}

	s.global.closeSocket(s)
	return nil
}
