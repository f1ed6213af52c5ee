// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package utp implements the uTorrent Transport Protocol: a reliable,
// ordered byte stream multiplexed over UDP datagrams.
package utp

import (
	"encoding/binary"

	"github.com/coreswarm/torrent/core"
)

// headerLen is the fixed size of a uTP packet header, excluding any
// extension blocks and payload.
const headerLen = 20

// protocolVersion is the only version this implementation speaks.
const protocolVersion = 1

// Type identifies the purpose of a uTP packet.
type Type byte

// Packet types, per the libutp wire format.
const (
	TypeData Type = iota
	TypeFin
	TypeState
	TypeReset
	TypeSyn
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "Data"
	case TypeFin:
		return "Fin"
	case TypeState:
		return "State"
	case TypeReset:
		return "Reset"
	case TypeSyn:
		return "Syn"
	default:
		return "Unknown"
	}
}

// Extension identifies an optional per-packet extension block. Only
// none and selective-ack are recognized; anything else is ignored rather
// than rejected, per BEP 29.
type Extension byte

// Known extension ids.
const (
	ExtensionNone Extension = iota
	ExtensionSelectiveAck
)

// Packet is a single uTP datagram: header plus payload.
type Packet struct {
	Type                      Type
	Extension                 Extension
	ConnID                    uint16
	TimestampMicros           uint32
	TimestampDifferenceMicros uint32
	WindowSize                uint32
	SeqNumber                 uint16
	AckNumber                 uint16
	Payload                   []byte
}

// Encode serializes p into its wire representation.
func (p *Packet) Encode() []byte {
	buf := make([]byte, headerLen+len(p.Payload))
	buf[0] = byte(p.Type)<<4 | protocolVersion
	buf[1] = byte(p.Extension)
	binary.BigEndian.PutUint16(buf[2:4], p.ConnID)
	binary.BigEndian.PutUint32(buf[4:8], p.TimestampMicros)
	binary.BigEndian.PutUint32(buf[8:12], p.TimestampDifferenceMicros)
	binary.BigEndian.PutUint32(buf[12:16], p.WindowSize)
	binary.BigEndian.PutUint16(buf[16:18], p.SeqNumber)
	binary.BigEndian.PutUint16(buf[18:20], p.AckNumber)
	copy(buf[headerLen:], p.Payload)
	return buf
}

// DecodePacket parses a wire datagram into a Packet. The returned payload
// is a copy, so the caller may reuse b immediately.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < headerLen {
		return nil, &core.ParseError{Reason: "uTP packet shorter than header"}
	}

	version := b[0] & 0x0f
	if version != protocolVersion {
		return nil, &core.UnsupportedVersionError{Version: version}
	}

	t := Type(b[0] >> 4)
	if t > TypeSyn {
		return nil, &core.UnsupportedMessageError{Type: byte(t)}
	}

	return &Packet{
		Type:                      t,
		Extension:                 Extension(b[1]),
		ConnID:                    binary.BigEndian.Uint16(b[2:4]),
		TimestampMicros:           binary.BigEndian.Uint32(b[4:8]),
		TimestampDifferenceMicros: binary.BigEndian.Uint32(b[8:12]),
		WindowSize:                binary.BigEndian.Uint32(b[12:16]),
		SeqNumber:                 binary.BigEndian.Uint16(b[16:18]),
		AckNumber:                 binary.BigEndian.Uint16(b[18:20]),
		Payload:                   append([]byte(nil), b[headerLen:]...),
	}, nil
}

// seqLess reports whether a precedes b in the wrap-aware uTP sequence
// space, where sequence numbers are compared modulo 2^16.
func seqLess(a, b uint16) bool {
	if b < 0x8000 {
		return a < b || a >= b-0x8000
	}
	return a < b && a >= b-0x8000
}
