// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package wire implements the on-the-wire packet format for the transport:
// a fixed common header shared by every packet type, followed by
// type-specific trailing fields. The first 16 bytes of the common header
// deliberately mirror TCP's field offsets (source port, dest port, two
// 32-bit words where TCP keeps seq/ack) so that NIC TSO/RSS steering that
// only understands TCP/UDP headers does not corrupt them.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of packet carried after the common header.
type Type uint8

// Packet types. Values are arbitrary but stable on the wire.
const (
	TypeData Type = iota + 1
	TypeGrant
	TypeResend
	TypeRestart
	TypeBusy
	TypeCutoffs
	TypeFreeze
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeGrant:
		return "GRANT"
	case TypeResend:
		return "RESEND"
	case TypeRestart:
		return "RESTART"
	case TypeBusy:
		return "BUSY"
	case TypeCutoffs:
		return "CUTOFFS"
	case TypeFreeze:
		return "FREEZE"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MaxPriorities bounds the number of scheduling priority levels
// (spec §6, num_priorities <= 8).
const MaxPriorities = 8

// HeaderLen is the size in bytes of the common header shared by all packet
// types.
const HeaderLen = 32

// MinPacketLen is the minimum size of any packet on the wire; shorter
// packets are padded so that lower layers built around a minimum header
// assumption (e.g. a 64-byte Ethernet frame) never see something smaller.
const MinPacketLen = 64

// ErrShortPacket is returned when a buffer is too small to contain the
// common header or the type-specific fields that follow it.
var ErrShortPacket = errors.New("wire: packet shorter than common header")

// ErrUnknownType is returned when the type byte in the common header does
// not match a known packet type.
var ErrUnknownType = errors.New("wire: unknown packet type")

// Header is the common header carried by every packet.
type Header struct {
	SourcePort uint16
	DestPort   uint16
	unused1    uint32 // occupies TCP's sequence-number offset
	unused2    uint32 // occupies TCP's ack-number offset
	DataOffset uint8  // high 4 bits: header length in 4-byte words (TSO)
	Type       Type
	Checksum   uint16 // unused by this protocol; occupies TCP's window-size offset
	GroCount   uint8  // wire-undefined; used only by local receive aggregation
	Priority   uint8  // debug only
	ID         uint64 // client-chosen RPC id, host byte order on the wire
}

func putHeader(b []byte, h Header) {
	binary.BigEndian.PutUint16(b[0:2], h.SourcePort)
	binary.BigEndian.PutUint16(b[2:4], h.DestPort)
	binary.BigEndian.PutUint32(b[4:8], h.unused1)
	binary.BigEndian.PutUint32(b[8:12], h.unused2)
	b[12] = h.DataOffset
	b[13] = uint8(h.Type)
	binary.BigEndian.PutUint16(b[14:16], h.Checksum)
	b[16] = h.GroCount
	b[17] = h.Priority
	// b[18:20] reserved/padding.
	binary.LittleEndian.PutUint64(b[20:28], h.ID)
	// b[28:32] reserved/padding.
}

func getHeader(b []byte) Header {
	return Header{
		SourcePort: binary.BigEndian.Uint16(b[0:2]),
		DestPort:   binary.BigEndian.Uint16(b[2:4]),
		unused1:    binary.BigEndian.Uint32(b[4:8]),
		unused2:    binary.BigEndian.Uint32(b[8:12]),
		DataOffset: b[12],
		Type:       Type(b[13]),
		Checksum:   binary.BigEndian.Uint16(b[14:16]),
		GroCount:   b[16],
		Priority:   b[17],
		ID:         binary.LittleEndian.Uint64(b[20:28]),
	}
}

// PeekType returns the packet type of an encoded packet without fully
// decoding it. Used by dispatch to demux before allocating a typed value.
func PeekType(b []byte) (Type, error) {
	if len(b) < HeaderLen {
		return 0, ErrShortPacket
	}
	return Type(b[13]), nil
}

// PeekID returns the RPC id of an encoded packet without fully decoding it.
func PeekID(b []byte) (uint64, error) {
	if len(b) < HeaderLen {
		return 0, ErrShortPacket
	}
	return binary.LittleEndian.Uint64(b[20:28]), nil
}

// pad grows b with zero bytes until it is at least MinPacketLen long.
func pad(b []byte) []byte {
	if len(b) >= MinPacketLen {
		return b
	}
	out := make([]byte, MinPacketLen)
	copy(out, b)
	return out
}

// Segment is one contiguous run of message bytes carried by a DATA packet.
type Segment struct {
	Offset  uint32
	Length  uint32
	Payload []byte // len(Payload) == Length
}

// Data is the DATA packet: transfers one or more segments of a message,
// plus the sender's authorized-transmission horizon and cutoff version so
// that the receiver's grant scheduler and priority policy can both make
// progress off of a single packet.
type Data struct {
	Header
	MessageLength uint32
	Incoming      uint32
	CutoffVersion uint16
	Retransmit    bool
	Segments      []Segment
}

// Encode serializes d into a byte slice padded to at least MinPacketLen.
func (d *Data) Encode() []byte {
	d.Type = TypeData
	size := HeaderLen + 4 + 4 + 2 + 1 + 1 // + segment count byte
	for _, s := range d.Segments {
		size += 4 + 4 + len(s.Payload)
	}
	b := make([]byte, size)
	putHeader(b, d.Header)
	off := HeaderLen
	binary.BigEndian.PutUint32(b[off:], d.MessageLength)
	off += 4
	binary.BigEndian.PutUint32(b[off:], d.Incoming)
	off += 4
	binary.BigEndian.PutUint16(b[off:], d.CutoffVersion)
	off += 2
	if d.Retransmit {
		b[off] = 1
	}
	off++
	b[off] = uint8(len(d.Segments))
	off++
	for _, s := range d.Segments {
		binary.BigEndian.PutUint32(b[off:], s.Offset)
		off += 4
		binary.BigEndian.PutUint32(b[off:], s.Length)
		off += 4
		copy(b[off:], s.Payload)
		off += len(s.Payload)
	}
	return pad(b)
}

func decodeData(h Header, b []byte) (*Data, error) {
	off := HeaderLen
	if len(b) < off+12 {
		return nil, ErrShortPacket
	}
	d := &Data{Header: h}
	d.MessageLength = binary.BigEndian.Uint32(b[off:])
	off += 4
	d.Incoming = binary.BigEndian.Uint32(b[off:])
	off += 4
	d.CutoffVersion = binary.BigEndian.Uint16(b[off:])
	off += 2
	d.Retransmit = b[off] != 0
	off++
	n := int(b[off])
	off++
	d.Segments = make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < off+8 {
			return nil, ErrShortPacket
		}
		s := Segment{
			Offset: binary.BigEndian.Uint32(b[off:]),
			Length: binary.BigEndian.Uint32(b[off+4:]),
		}
		off += 8
		if len(b) < off+int(s.Length) {
			return nil, ErrShortPacket
		}
		s.Payload = append([]byte(nil), b[off:off+int(s.Length)]...)
		off += int(s.Length)
		d.Segments = append(d.Segments, s)
	}
	return d, nil
}

// Grant authorizes the sender to transmit up to Offset bytes of the
// message.
type Grant struct {
	Header
	Offset   uint32
	Priority uint8
}

// Encode serializes g.
func (g *Grant) Encode() []byte {
	g.Type = TypeGrant
	b := make([]byte, HeaderLen+5)
	putHeader(b, g.Header)
	binary.BigEndian.PutUint32(b[HeaderLen:], g.Offset)
	b[HeaderLen+4] = g.Priority
	return pad(b)
}

func decodeGrant(h Header, b []byte) (*Grant, error) {
	if len(b) < HeaderLen+5 {
		return nil, ErrShortPacket
	}
	return &Grant{
		Header:   h,
		Offset:   binary.BigEndian.Uint32(b[HeaderLen:]),
		Priority: b[HeaderLen+4],
	}, nil
}

// Resend asks the peer to retransmit message bytes [Offset, Offset+Length).
type Resend struct {
	Header
	Offset   uint32
	Length   uint32
	Priority uint8
}

// Encode serializes r.
func (r *Resend) Encode() []byte {
	r.Type = TypeResend
	b := make([]byte, HeaderLen+9)
	putHeader(b, r.Header)
	binary.BigEndian.PutUint32(b[HeaderLen:], r.Offset)
	binary.BigEndian.PutUint32(b[HeaderLen+4:], r.Length)
	b[HeaderLen+8] = r.Priority
	return pad(b)
}

func decodeResend(h Header, b []byte) (*Resend, error) {
	if len(b) < HeaderLen+9 {
		return nil, ErrShortPacket
	}
	return &Resend{
		Header:   h,
		Offset:   binary.BigEndian.Uint32(b[HeaderLen:]),
		Length:   binary.BigEndian.Uint32(b[HeaderLen+4:]),
		Priority: b[HeaderLen+8],
	}, nil
}

// Restart tells the client to replay the RPC from the beginning because the
// server has no record of it.
type Restart struct{ Header }

// Encode serializes rs.
func (rs *Restart) Encode() []byte {
	rs.Type = TypeRestart
	b := make([]byte, HeaderLen)
	putHeader(b, rs.Header)
	return pad(b)
}

func decodeRestart(h Header) (*Restart, error) { return &Restart{Header: h}, nil }

// Busy is an unsolicited liveness packet carrying no message data.
type Busy struct{ Header }

// Encode serializes bs.
func (bs *Busy) Encode() []byte {
	bs.Type = TypeBusy
	b := make([]byte, HeaderLen)
	putHeader(b, bs.Header)
	return pad(b)
}

func decodeBusy(h Header) (*Busy, error) { return &Busy{Header: h}, nil }

// Cutoffs communicates a receiver's current unscheduled-priority cutoffs
// to a peer that observed a stale cutoff_version.
type Cutoffs struct {
	Header
	Cutoffs       [MaxPriorities]uint32
	CutoffVersion uint16
}

// Encode serializes c.
func (c *Cutoffs) Encode() []byte {
	c.Type = TypeCutoffs
	b := make([]byte, HeaderLen+MaxPriorities*4+2)
	putHeader(b, c.Header)
	off := HeaderLen
	for _, v := range c.Cutoffs {
		binary.BigEndian.PutUint32(b[off:], v)
		off += 4
	}
	binary.BigEndian.PutUint16(b[off:], c.CutoffVersion)
	return pad(b)
}

func decodeCutoffs(h Header, b []byte) (*Cutoffs, error) {
	need := HeaderLen + MaxPriorities*4 + 2
	if len(b) < need {
		return nil, ErrShortPacket
	}
	c := &Cutoffs{Header: h}
	off := HeaderLen
	for i := range c.Cutoffs {
		c.Cutoffs[i] = binary.BigEndian.Uint32(b[off:])
		off += 4
	}
	c.CutoffVersion = binary.BigEndian.Uint16(b[off:])
	return c, nil
}

// Freeze asks a peer to capture a diagnostic snapshot of its transport
// state; it carries no payload of its own.
type Freeze struct{ Header }

// Encode serializes f.
func (f *Freeze) Encode() []byte {
	f.Type = TypeFreeze
	b := make([]byte, HeaderLen)
	putHeader(b, f.Header)
	return pad(b)
}

func decodeFreeze(h Header) (*Freeze, error) { return &Freeze{Header: h}, nil }

// Packet is implemented by every decoded packet type.
type Packet interface {
	Encode() []byte
	GetHeader() Header
}

// GetHeader implementations, one per type, so all packet types satisfy
// Packet uniformly.
func (d *Data) GetHeader() Header     { return d.Header }
func (g *Grant) GetHeader() Header    { return g.Header }
func (r *Resend) GetHeader() Header   { return r.Header }
func (rs *Restart) GetHeader() Header { return rs.Header }
func (b *Busy) GetHeader() Header     { return b.Header }
func (c *Cutoffs) GetHeader() Header  { return c.Header }
func (f *Freeze) GetHeader() Header   { return f.Header }

// Decode parses a packet of any type from b.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderLen {
		return nil, ErrShortPacket
	}
	h := getHeader(b)
	switch h.Type {
	case TypeData:
		return decodeData(h, b)
	case TypeGrant:
		return decodeGrant(h, b)
	case TypeResend:
		return decodeResend(h, b)
	case TypeRestart:
		return decodeRestart(h)
	case TypeBusy:
		return decodeBusy(h)
	case TypeCutoffs:
		return decodeCutoffs(h, b)
	case TypeFreeze:
		return decodeFreeze(h)
	default:
		return nil, ErrUnknownType
	}
}
