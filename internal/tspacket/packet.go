// Package tspacket defines the MPEG-TS packet representation shared by
// every stage of the TSP core: the 188-byte slot layout, the sync-byte
// drop convention, and the handful of header constants the core needs
// without interpreting payloads.
package tspacket

import "github.com/asticode/go-astits"

// PacketSize is the fixed length of one TS packet per ISO/IEC 13818-1.
// Pinned to astits' own constant so the buffer's slot size and the
// library's notion of a TS packet can never drift apart.
const PacketSize = astits.MpegTsPacketSize

// SyncByte is the expected value of byte 0 of a live packet.
const SyncByte = 0x47

// DroppedSyncByte is the sentinel written to byte 0 to mark a slot as
// dropped (§3 invariant): "if byte 0 equals 0x00, the slot is dropped".
const DroppedSyncByte = 0x00

// NullPID is the PID reserved for stuffing/null packets (0x1FFF).
const NullPID = uint16(0x1FFF)

// Packet is a fixed-size TS packet backed by a slot in the resident
// buffer. It never owns its storage — Bytes always aliases a slice of
// the ring so that no packet is ever copied once admitted (§1 Non-goals,
// P4).
type Packet struct {
	Bytes []byte // len(Bytes) == PacketSize, aliases buffer storage
}

// IsDropped reports whether the packet's sync byte marks it dropped.
// This is the ONLY representation of "dropped" the core recognizes (§3).
func (p Packet) IsDropped() bool {
	return len(p.Bytes) > 0 && p.Bytes[0] == DroppedSyncByte
}

// Drop overwrites the sync byte to mark the packet dropped in place.
// No bytes are copied or moved; only byte 0 changes.
func (p Packet) Drop() {
	if len(p.Bytes) > 0 {
		p.Bytes[0] = DroppedSyncByte
	}
}

// PID extracts the 13-bit packet identifier from bytes 1-2. Dropping a
// packet only rewrites byte 0, so a dropped packet still returns its
// original PID (callers must check IsDropped first if that distinction
// matters; per P5 dropped packets are never inspected by plugins). It
// returns 0 only for a slice shorter than 3 bytes.
func (p Packet) PID() uint16 {
	if len(p.Bytes) < 3 {
		return 0
	}
	return (uint16(p.Bytes[1])&0x1F)<<8 | uint16(p.Bytes[2])
}

// SetPID rewrites the PID field in place (used when replacing a packet
// with a null packet per the NULL verdict).
func (p Packet) SetPID(pid uint16) {
	if len(p.Bytes) < 3 {
		return
	}
	p.Bytes[1] = p.Bytes[1]&0xE0 | byte(pid>>8)&0x1F
	p.Bytes[2] = byte(pid)
}

// HasAdaptationField reports whether the adaptation_field_control bits
// (byte 3, bits 5-4) indicate an adaptation field is present.
func (p Packet) HasAdaptationField() bool {
	if len(p.Bytes) < 4 {
		return false
	}
	afc := (p.Bytes[3] >> 4) & 0x03
	return afc == 0x02 || afc == 0x03
}

// HasPayload reports whether the adaptation_field_control bits indicate
// a payload is present.
func (p Packet) HasPayload() bool {
	if len(p.Bytes) < 4 {
		return false
	}
	afc := (p.Bytes[3] >> 4) & 0x03
	return afc == 0x01 || afc == 0x03
}

// WriteNull overwrites the packet in place with a valid, adaptation-less
// null packet: sync byte, PID 0x1FFF, no adaptation field, payload-filled
// with 0xFF — matching §4.3's "NULL (replace with a null packet: PID
// 0x1FFF, adaptation-less, payload-filled)".
func WriteNull(b []byte) {
	if len(b) < PacketSize {
		return
	}
	b[0] = SyncByte
	b[1] = 0x1F // payload_unit_start=0, transport_error=0, PID hi bits all 1
	b[2] = 0xFF
	b[3] = 0x10 // no scrambling, adaptation_field_control=01 (payload only), no continuity guarantee
	for i := 4; i < PacketSize; i++ {
		b[i] = 0xFF
	}
}

// IsNull reports whether the packet carries the reserved null PID.
func (p Packet) IsNull() bool {
	return p.PID() == NullPID
}
