// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package rpctable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleOutboundSmallMessageIsAllUnscheduled(t *testing.T) {
	data := make([]byte, 500)
	m := AssembleOutbound(data, 1500, 10000, 65536, 65536)

	assert.Equal(t, uint32(500), m.Length())
	assert.Equal(t, uint32(500), m.Unscheduled())
	assert.Equal(t, uint32(500), m.Granted())
	assert.False(t, m.FullySent())
}

func TestAssembleOutboundZeroLength(t *testing.T) {
	m := AssembleOutbound(nil, 1500, 10000, 65536, 65536)
	assert.Equal(t, uint32(0), m.Length())
	_, ok := m.NextSendable()
	assert.False(t, ok, "nothing to send for an empty message")
	assert.True(t, m.FullySent())
}

func TestAssembleOutboundSegmentsUnderMTU(t *testing.T) {
	data := make([]byte, 5000)
	m := AssembleOutbound(data, 1500, 10000, 65536, 65536)

	segSize := segmentPayloadSize(1500)
	for _, seg := range m.segments {
		assert.LessOrEqual(t, int(seg.Length), segSize)
	}
}

func drainAll(t *testing.T, m *MessageOut) {
	t.Helper()
	for {
		batch := m.NextBatch(4)
		if len(batch) == 0 {
			return
		}
		m.MarkBatchSent(batch)
	}
}

func TestMessageOutGrantGatesSend(t *testing.T) {
	data := make([]byte, 100000)
	m := AssembleOutbound(data, 1500, 10000, 65536, 65536)

	unsched := m.Unscheduled()
	require.Less(t, unsched, m.Length(), "large message should require grants")

	drainAll(t, m)
	assert.False(t, m.FullySent())
	assert.Equal(t, unsched, m.NextPacket(), "sending must stop exactly at the granted horizon")

	m.SetGranted(m.Length())
	_, ok := m.NextSendable()
	assert.True(t, ok, "granting the rest should unblock sending")

	drainAll(t, m)
	assert.True(t, m.FullySent())
}

func TestMessageOutGrantMonotonic(t *testing.T) {
	m := AssembleOutbound(make([]byte, 100000), 1500, 10000, 65536, 65536)
	m.SetGranted(50000)
	m.SetGranted(20000)
	assert.Equal(t, uint32(50000), m.Granted(), "grants never regress")

	m.SetGranted(1 << 30)
	assert.Equal(t, m.Length(), m.Granted(), "grants never exceed message length")
}

func TestMessageOutNextBatchRespectsMaxSegments(t *testing.T) {
	m := AssembleOutbound(make([]byte, 100000), 1500, 10000, 65536, 65536)
	m.SetGranted(m.Length())

	batch := m.NextBatch(3)
	assert.Len(t, batch, 3)
	assert.Equal(t, uint32(0), batch[0].Offset)
}

func TestMessageOutSegmentsInRangeIgnoresSentFlag(t *testing.T) {
	m := AssembleOutbound(make([]byte, 5000), 1500, 10000, 65536, 65536)
	drainAll(t, m)
	require.True(t, m.FullySent())

	segSize := segmentPayloadSize(1500)
	segs := m.SegmentsInRange(0, uint32(segSize))
	require.Len(t, segs, 1, "resend must return a segment even though it was already marked sent")
	assert.Equal(t, uint32(0), segs[0].Offset)
}

func TestMessageOutResetForRestart(t *testing.T) {
	m := AssembleOutbound(make([]byte, 100000), 1500, 10000, 65536, 65536)
	m.SetGranted(m.Length())
	drainAll(t, m)
	require.True(t, m.FullySent())

	m.Reset()
	assert.Equal(t, m.Unscheduled(), m.Granted())
	assert.Equal(t, uint32(0), m.NextPacket())
	assert.False(t, m.FullySent())
}
