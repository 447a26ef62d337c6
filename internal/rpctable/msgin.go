// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package rpctable implements the per-socket RPC state machine and hash
// tables (spec §3, §4.3): the Rpc type, inbound/outbound message assembly,
// and the two-phase reap discipline.
package rpctable

import (
	"sort"
	"sync"
)

// interval is a half-open byte range [Start, End) of a message that has
// been received.
type interval struct {
	Start, End uint32
}

// MessageIn reassembles an inbound message from out-of-order, possibly
// overlapping segments (spec §4.5). The covered-byte list may contain
// holes; the message is complete only once total coverage equals
// TotalLength.
type MessageIn struct {
	mu sync.Mutex

	totalLength       uint32
	scheduled         bool
	unscheduledInitial uint32
	incoming          uint32 // sender-authorized horizon
	bytesReceived     uint32
	covered           []interval // sorted, non-overlapping
	data              []byte
}

// NewMessageIn creates a MessageIn for a message that will total
// totalLength bytes, whose sender is initially authorized to send up to
// unscheduledInitial bytes without a grant.
func NewMessageIn(totalLength, unscheduledInitial uint32) *MessageIn {
	scheduled := totalLength > unscheduledInitial
	return &MessageIn{
		totalLength:        totalLength,
		scheduled:          scheduled,
		unscheduledInitial: unscheduledInitial,
		incoming:           unscheduledInitial,
		data:               make([]byte, totalLength),
	}
}

// TotalLength returns the full message length.
func (m *MessageIn) TotalLength() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLength
}

// Scheduled reports whether this message requires grants at all (spec
// invariant: an RPC appears on grantable_rpcs iff msgin.scheduled &&
// bytes_remaining > 0).
func (m *MessageIn) Scheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled
}

// BytesRemaining returns total_length - bytes covered so far.
func (m *MessageIn) BytesRemaining() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLength - m.bytesReceived
}

// BytesReceived returns the number of distinct bytes received so far.
func (m *MessageIn) BytesReceived() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesReceived
}

// Incoming returns the sender-authorized horizon: the highest byte the
// sender has been told it may transmit.
func (m *MessageIn) Incoming() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incoming
}

// SetIncoming records a new authorized horizon after issuing a grant.
// Callers must never regress it (spec: "grants to the same sender never
// regress in offset").
func (m *MessageIn) SetIncoming(v uint32) {
	m.mu.Lock()
	if v > m.incoming {
		m.incoming = v
	}
	m.mu.Unlock()
}

// Insert records a newly-received segment [offset, offset+length), copying
// payload's bytes into the reassembly buffer at that offset (payload may be
// nil for callers that only care about coverage bookkeeping, e.g. tests).
// It returns the number of previously-uncovered bytes this segment
// contributed (0 for a pure duplicate) and whether the message is now
// completely received.
func (m *MessageIn) Insert(offset, length uint32, payload []byte) (newBytes uint32, complete bool) {
	if length == 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		return 0, m.bytesReceived >= m.totalLength
	}
	end := offset + length

	m.mu.Lock()
	defer m.mu.Unlock()

	if payload != nil && end <= uint32(len(m.data)) {
		copy(m.data[offset:end], payload)
	}

	// Find insertion point.
	i := sort.Search(len(m.covered), func(i int) bool { return m.covered[i].Start >= offset })

	// Merge with any overlapping/adjacent interval before i.
	newStart, newEnd := offset, end
	start := i
	if start > 0 && m.covered[start-1].End >= offset {
		start--
		if m.covered[start].Start < newStart {
			newStart = m.covered[start].Start
		}
	}
	stop := i
	for stop < len(m.covered) && m.covered[stop].Start <= newEnd {
		if m.covered[stop].End > newEnd {
			newEnd = m.covered[stop].End
		}
		stop++
	}

	// Compute how many previously-uncovered bytes this contributes by
	// summing the merged range and subtracting what was already covered
	// within [start,stop).
	oldCovered := uint32(0)
	for _, iv := range m.covered[start:stop] {
		oldCovered += iv.End - iv.Start
	}
	mergedLen := newEnd - newStart
	newBytes = mergedLen - oldCovered

	merged := interval{Start: newStart, End: newEnd}
	m.covered = append(m.covered[:start], append([]interval{merged}, m.covered[stop:]...)...)

	m.bytesReceived += newBytes
	return newBytes, m.bytesReceived >= m.totalLength
}

// Bytes returns the reassembled message buffer. It is only meaningful once
// BytesRemaining is zero; bytes not yet covered are left as zero value.
func (m *MessageIn) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// ResendRange returns the lowest missing byte range below Incoming that
// should be requested via RESEND (spec §4.5). If nothing has arrived yet
// it returns [0, unscheduled), with ok false only when the unscheduled
// prefix is empty. Otherwise ok is false when everything up to Incoming
// has arrived.
func (m *MessageIn) ResendRange() (start, end uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.covered) == 0 {
		if m.bytesReceived == 0 {
			return 0, m.unscheduledInitial, m.unscheduledInitial > 0
		}
	}

	pos := uint32(0)
	for _, iv := range m.covered {
		if iv.Start > pos {
			gapEnd := iv.Start
			if gapEnd > m.incoming {
				gapEnd = m.incoming
			}
			if gapEnd > pos {
				return pos, gapEnd, true
			}
			return 0, 0, false
		}
		if iv.End > pos {
			pos = iv.End
		}
	}
	if pos < m.incoming {
		return pos, m.incoming, true
	}
	return 0, 0, false
}
