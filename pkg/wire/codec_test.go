// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRoundTrip(t *testing.T) {
	d := &Data{
		Header:        Header{SourcePort: 100, DestPort: 200, Priority: 3, ID: 0xdeadbeef},
		MessageLength: 5000,
		Incoming:      1500,
		CutoffVersion: 7,
		Retransmit:    true,
		Segments: []Segment{
			{Offset: 0, Length: 4, Payload: []byte("abcd")},
			{Offset: 1000, Length: 3, Payload: []byte("xyz")},
		},
	}
	buf := d.Encode()
	assert.GreaterOrEqual(t, len(buf), MinPacketLen)

	typ, err := PeekType(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeData, typ)

	id, err := PeekID(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), id)

	pkt, err := Decode(buf)
	require.NoError(t, err)
	got, ok := pkt.(*Data)
	require.True(t, ok)
	assert.Equal(t, d.MessageLength, got.MessageLength)
	assert.Equal(t, d.Incoming, got.Incoming)
	assert.Equal(t, d.CutoffVersion, got.CutoffVersion)
	assert.True(t, got.Retransmit)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, d.Segments[0].Payload, got.Segments[0].Payload)
	assert.Equal(t, d.Segments[1].Offset, got.Segments[1].Offset)
	assert.Equal(t, uint16(200), got.DestPort)
	assert.Equal(t, uint8(3), got.Priority)
}

func TestGrantRoundTrip(t *testing.T) {
	g := &Grant{Header: Header{ID: 42}, Offset: 70000, Priority: 5}
	buf := g.Encode()
	pkt, err := Decode(buf)
	require.NoError(t, err)
	got := pkt.(*Grant)
	assert.Equal(t, uint32(70000), got.Offset)
	assert.Equal(t, uint8(5), got.Priority)
	assert.Equal(t, uint64(42), got.Header.ID)
}

func TestResendRoundTrip(t *testing.T) {
	r := &Resend{Header: Header{ID: 1}, Offset: 20000, Length: 1000, Priority: 1}
	buf := r.Encode()
	pkt, err := Decode(buf)
	require.NoError(t, err)
	got := pkt.(*Resend)
	assert.Equal(t, uint32(20000), got.Offset)
	assert.Equal(t, uint32(1000), got.Length)
}

func TestControlPacketsRoundTrip(t *testing.T) {
	for _, pkt := range []Packet{
		&Restart{Header: Header{ID: 9}},
		&Busy{Header: Header{ID: 9}},
		&Freeze{Header: Header{ID: 9}},
	} {
		buf := pkt.Encode()
		assert.Len(t, buf, MinPacketLen)
		decoded, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), decoded.GetHeader().ID)
	}
}

func TestCutoffsRoundTrip(t *testing.T) {
	c := &Cutoffs{Header: Header{ID: 3}, CutoffVersion: 12}
	c.Cutoffs[0] = 1000
	c.Cutoffs[1] = 5000
	buf := c.Encode()
	pkt, err := Decode(buf)
	require.NoError(t, err)
	got := pkt.(*Cutoffs)
	assert.Equal(t, uint16(12), got.CutoffVersion)
	assert.Equal(t, uint32(1000), got.Cutoffs[0])
	assert.Equal(t, uint32(5000), got.Cutoffs[1])
}

func TestDecodeShortPacket(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Equal(t, ErrShortPacket, err)
}

func TestDecodeUnknownType(t *testing.T) {
	b := make([]byte, MinPacketLen)
	b[13] = 0xff
	_, err := Decode(b)
	assert.Equal(t, ErrUnknownType, err)
}

func TestMinimumPacketPadding(t *testing.T) {
	g := &Grant{Header: Header{ID: 1}}
	assert.Len(t, g.Encode(), MinPacketLen)
	rs := &Restart{}
	assert.Len(t, rs.Encode(), MinPacketLen)
}
