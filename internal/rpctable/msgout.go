// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package rpctable

import (
	"sync"

	"github.com/openhoma/homacore/pkg/wire"
)

// MessageOut is the outbound half of an RPC: the segmented byte stream
// plus the sender's bookkeeping for how much of it is currently granted
// and how much has been transmitted (spec §3, §4.4).
//
// Segments are kept flat rather than pre-grouped into GSO-sized buffers,
// because the boundary between unscheduled and scheduled bytes (and every
// subsequent grant boundary) can fall in the middle of what would
// otherwise be one GSO batch; NextBatch groups segments dynamically so it
// never hands out a byte beyond what has actually been granted.
type MessageOut struct {
	mu sync.Mutex

	length      uint32
	unscheduled uint32
	granted     uint32
	nextPacket  uint32
	segSize     int
	segments    []wire.Segment
	sent        []bool
	schedPrio   int
}

// segmentPayloadSize returns the largest DATA segment payload that fits
// under one MTU, after common + IPv4 header overhead.
func segmentPayloadSize(mtu int) int {
	const ipv4HeaderLen = 20
	size := mtu - ipv4HeaderLen - wire.HeaderLen
	if size < 1 {
		size = 1
	}
	return size
}

func ceilToMultiple(v, mult uint32) uint32 {
	if mult == 0 || v == 0 {
		return v
	}
	return ((v + mult - 1) / mult) * mult
}

// AssembleOutbound segments data into a MessageOut ready for transmission,
// per spec §4.4: segment payload is bounded by MTU, and the unscheduled
// (grant-free) prefix is computed once up front as an integral number of
// MTU-sized segments.
func AssembleOutbound(data []byte, mtu, rttBytes, deviceGSOMax, configuredGSOMax int) *MessageOut {
	segSize := segmentPayloadSize(mtu)
	length := uint32(len(data))

	unsched := ceilToMultiple(uint32(rttBytes), uint32(segSize))
	if unsched > length {
		unsched = length
	}

	m := &MessageOut{
		length:      length,
		unscheduled: unsched,
		granted:     unsched,
		segSize:     segSize,
	}

	for off := uint32(0); off < length; {
		end := off + uint32(segSize)
		if end > length {
			end = length
		}
		m.segments = append(m.segments, wire.Segment{
			Offset:  off,
			Length:  end - off,
			Payload: data[off:end],
		})
		off = end
	}
	m.sent = make([]bool, len(m.segments))
	return m
}

// Length returns the total message length.
func (m *MessageOut) Length() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length
}

// Unscheduled returns the number of bytes sendable without any grant.
func (m *MessageOut) Unscheduled() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unscheduled
}

// Granted returns the cumulative bytes currently authorized to send.
func (m *MessageOut) Granted() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted
}

// SetGranted records a new grant. Per spec's grant-monotonicity invariant
// this never regresses.
func (m *MessageOut) SetGranted(v uint32) {
	m.mu.Lock()
	if v > m.granted {
		m.granted = v
	}
	if m.granted > m.length {
		m.granted = m.length
	}
	m.mu.Unlock()
}

// SchedPriority returns the priority most recently assigned by the
// receiver's GRANT packets, used for any segment beyond the unscheduled
// prefix.
func (m *MessageOut) SchedPriority() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedPrio
}

// SetSchedPriority records the priority carried by the latest GRANT.
func (m *MessageOut) SetSchedPriority(p int) {
	m.mu.Lock()
	m.schedPrio = p
	m.mu.Unlock()
}

// NextPacket returns the offset of the next unsent byte.
func (m *MessageOut) NextPacket() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextPacket
}

// BytesRemainingToSend returns length - next_packet: how many bytes of
// this message have not yet been transmitted at all (used by the
// throttled list's SRPT ordering).
func (m *MessageOut) BytesRemainingToSend() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length - m.nextPacket
}

// NextBatch returns up to maxSegments consecutive unsent segments starting
// at next_packet, stopping as soon as a segment would extend past the
// currently granted horizon. It returns nil if nothing is currently
// sendable (either the message is fully sent, or the next byte has not
// been granted yet).
func (m *MessageOut) NextBatch(maxSegments int) []wire.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.segments) == 0 {
		return nil
	}

	var batch []wire.Segment
	for i, seg := range m.segments {
		if m.sent[i] {
			continue
		}
		if seg.Offset != m.nextPacket {
			break
		}
		if seg.Offset+seg.Length > m.granted {
			break
		}
		batch = append(batch, seg)
		if len(batch) >= maxSegments {
			break
		}
	}
	return batch
}

// NextSendable returns the single next unsent, granted segment, or a
// zero-value segment with ok=false if there is nothing sendable yet. It is
// a convenience wrapper around NextBatch for callers that send one
// segment at a time (e.g. the pacer's forced first packet).
func (m *MessageOut) NextSendable() (wire.Segment, bool) {
	batch := m.NextBatch(1)
	if len(batch) == 0 {
		return wire.Segment{}, false
	}
	return batch[0], true
}

// SegmentsInRange returns every segment overlapping [start, end), used to
// answer a RESEND regardless of whether those bytes were previously
// marked sent (spec §4.5): a peer only asks for bytes it hasn't received,
// so this resends them even if this side believes they already went out.
func (m *MessageOut) SegmentsInRange(start, end uint32) []wire.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.Segment
	for _, seg := range m.segments {
		if seg.Offset < end && seg.Offset+seg.Length > start {
			out = append(out, seg)
		}
	}
	return out
}

// MarkSent records that the segment at the given offset has been
// transmitted and advances next_packet past it. next_packet is
// monotonically non-decreasing per spec's RPC invariants.
func (m *MessageOut) MarkSent(offset uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, seg := range m.segments {
		if seg.Offset == offset {
			m.sent[i] = true
			if seg.Offset+seg.Length > m.nextPacket {
				m.nextPacket = seg.Offset + seg.Length
			}
			return
		}
	}
}

// MarkBatchSent marks every segment in batch as sent.
func (m *MessageOut) MarkBatchSent(batch []wire.Segment) {
	for _, seg := range batch {
		m.MarkSent(seg.Offset)
	}
}

// FullySent reports whether every segment has been transmitted.
func (m *MessageOut) FullySent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.segments) == 0 {
		return m.nextPacket >= m.length
	}
	for _, sent := range m.sent {
		if !sent {
			return false
		}
	}
	return true
}

// Reset re-linearizes msgout for a RESTART (spec §4.8): granted resets to
// unscheduled, next_packet resets to the head of the message, and every
// segment is marked unsent, so lower layers' per-send mutations from the
// previous attempt cannot corrupt the retransmission.
func (m *MessageOut) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = m.unscheduled
	m.nextPacket = 0
	for i := range m.sent {
		m.sent[i] = false
	}
}
