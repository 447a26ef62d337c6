// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package pacer

import (
	log "github.com/golang/glog"

	"github.com/openhoma/homacore/internal/config"
	"github.com/openhoma/homacore/internal/homatime"
	"github.com/openhoma/homacore/internal/rpctable"
	"github.com/openhoma/homacore/pkg/wire"
	"github.com/openhoma/homacore/transport"
)

// Sender is the narrow interface the pacer needs from the transport
// layer: the pacer builds and encodes each DATA packet itself
// (sendOneLocked) and hands the encoded bytes and priority to Send.
type Sender interface {
	Send(dst transport.Endpoint, priority int, payload []byte) error
}

// Pacer drives packets out of the throttled list at a rate the NIC queue
// estimator judges safe, per spec §4.7: on each Step, it forces the first
// packet through regardless of queue depth (so a completely idle NIC
// always makes progress), then continues pulling from the front of the
// list — trying, never blocking, to take each RPC's bucket lock — until
// either the batch limit or the queue-depth bound is hit.
type Pacer struct {
	cfg        config.Config
	clock      homatime.Source
	throttle   *ThrottleList
	estimator  *Estimator
	onComplete func(rpc *rpctable.Rpc)
	onSkip     func(rpc *rpctable.Rpc)
}

// New creates a Pacer wired to the given (process-wide) throttled list.
// Each RPC recovers its own owning Table via rpc.Owner() when the pacer
// needs to acquire its bucket lock, since the throttled list is shared
// across every socket rather than scoped to one Table (spec §3.1).
func New(cfg config.Config, clock homatime.Source, throttle *ThrottleList) *Pacer {
	return &Pacer{
		cfg:       cfg,
		clock:     clock,
		throttle:  throttle,
		estimator: NewEstimator(),
	}
}

// SetOnComplete registers a callback invoked, outside any bucket lock,
// whenever a Step call finishes transmitting an RPC's last byte. The
// homa package uses this to free server-side RPCs once their reply is
// fully sent (spec's worked example 1: both sides end up Dead with
// nothing left on any list).
func (p *Pacer) SetOnComplete(f func(rpc *rpctable.Rpc)) { p.onComplete = f }

// SetOnSkip registers a callback invoked whenever Step gives up on an RPC
// for this round because another goroutine already holds its bucket lock,
// so callers can count how often the pacer is starved of work by lock
// contention (spec's per-core pacer_skipped_rpcs counter).
func (p *Pacer) SetOnSkip(f func(rpc *rpctable.Rpc)) { p.onSkip = f }

// Estimator exposes the pacer's NIC-queue estimator, e.g. for a
// non-pacer direct-send fast path that also needs to reserve NIC time.
func (p *Pacer) Estimator() *Estimator { return p.estimator }

func (p *Pacer) cyclesPerByte() float64 {
	return p.cfg.CyclesPerKbyte(p.clock.CyclesPerSecond()) / 1000
}

// Step sends up to PacerMaxBatch packets from the front of the throttled
// list. It returns the number of packets actually transmitted.
func (p *Pacer) Step(sender Sender) int {
	sent := 0
	maxQueueCycles := p.cfg.MaxNICQueueCycles(p.clock.CyclesPerSecond())

	for i := 0; i < p.cfg.PacerMaxBatch; i++ {
		rpc := p.throttle.Front()
		if rpc == nil {
			break
		}

		bucket := rpc.Owner().BucketFor(rpc.ID, rpc.IsClient)
		forced := i == 0
		if forced {
			bucket.Lock()
		} else if !bucket.TryLock() {
			// Someone else (a receiver, the recovery timer) is touching
			// this RPC right now; don't stall the whole pacer waiting on
			// it, just stop this round.
			if p.onSkip != nil {
				p.onSkip(rpc)
			}
			break
		}

		ok := p.sendOneLocked(rpc, sender, maxQueueCycles, forced)
		bucket.Unlock()
		if !ok && !forced {
			break
		}
		if ok {
			sent++
			if rpc.MsgOut.FullySent() && p.onComplete != nil {
				p.onComplete(rpc)
			}
		}
	}
	return sent
}

func (p *Pacer) sendOneLocked(rpc *rpctable.Rpc, sender Sender, maxQueueCycles uint64, forced bool) bool {
	out := rpc.MsgOut
	seg, ok := out.NextSendable()
	if !ok {
		p.throttle.Remove(rpc)
		return false
	}

	now := p.clock.Cycles()
	packetCycles := uint64(float64(len(seg.Payload)) * p.cyclesPerByte())
	accepted, _ := p.estimator.TryReserve(now, packetCycles, maxQueueCycles)
	if !accepted && !forced {
		return false
	}

	priority := SegmentPriority(seg.Offset, seg.Length, out.Unscheduled(), out.Length(), out.SchedPriority(),
		peerCutoffs(rpc), p.cfg.NumPriorities)

	data := wire.Data{
		Header: wire.Header{
			SourcePort: uint16(rpc.Owner().LocalPort()),
			DestPort:   uint16(rpc.DPort),
			Priority:   uint8(priority),
			ID:         rpc.ID,
		},
		MessageLength: out.Length(),
		Incoming:      out.Granted(),
		Segments:      []wire.Segment{seg},
	}
	payload := data.Encode()

	if err := sender.Send(rpc.Peer.Addr, priority, payload); err != nil {
		log.Errorf("pacer: send to %s failed: %v", rpc.Peer.Addr, err)
		return false
	}

	out.MarkSent(seg.Offset)
	if out.FullySent() {
		p.throttle.Remove(rpc)
	}
	return true
}

func peerCutoffs(rpc *rpctable.Rpc) [8]int {
	cutoffs, _ := rpc.Peer.UnschedCutoffs()
	return cutoffs
}
