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
package peer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/willf/bitset"

	"github.com/coreswarm/torrent/lib/torrent/storage"
	"github.com/coreswarm/torrent/lib/torrent/storage/piecereader"
	"github.com/coreswarm/torrent/utils/bandwidth"
)

// Type enumerates peer-wire message ids, covering the standard protocol
// (BEP 3), the Fast extension (BEP 6), and extended messaging (BEP 10).
type Type byte

// Message type ids.
const (
	KeepAlive     Type = 255 // Not an actual wire id; zero-length message.
	Choke         Type = 0
	Unchoke       Type = 1
	Interested    Type = 2
	NotInterested Type = 3
	Have          Type = 4
	Bitfield      Type = 5
	Request       Type = 6
	Piece         Type = 7
	Cancel        Type = 8
	Port          Type = 9

	// Fast extension, BEP 6.
	SuggestPiece Type = 13
	HaveAll      Type = 14
	HaveNone     Type = 15
	RejectRequest Type = 16
	AllowedFast  Type = 17

	// Extended messaging, BEP 10.
	Extended Type = 20
)

func (t Type) String() string {
	switch t {
	case KeepAlive:
		return "keep_alive"
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	case SuggestPiece:
		return "suggest_piece"
	case HaveAll:
		return "have_all"
	case HaveNone:
		return "have_none"
	case RejectRequest:
		return "reject_request"
	case AllowedFast:
		return "allowed_fast"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// BlockRequest identifies a single requested byte range within a piece.
type BlockRequest struct {
	Piece  int
	Begin  int
	Length int
}

// Message is a single peer-wire protocol message. Only the fields relevant
// to Type are populated.
type Message struct {
	Type Type

	// Have, Request, Cancel, Piece, SuggestPiece, RejectRequest, AllowedFast.
	Piece int
	Begin int
	Length int

	// Bitfield.
	Bits *bitset.BitSet
	NumPieces int

	// Port.
	Port uint16

	// Extended.
	ExtendedID      byte
	ExtendedPayload []byte

	// Piece payload, read lazily off the wire into memory or streamed
	// lazily out of storage, mirroring the write policy's piece reader.
	Payload storage.PieceReader
}

// NewRequest builds a Request message.
func NewRequest(b BlockRequest) *Message {
	return &Message{Type: Request, Piece: b.Piece, Begin: b.Begin, Length: b.Length}
}

// NewCancel builds a Cancel message.
func NewCancel(b BlockRequest) *Message {
	return &Message{Type: Cancel, Piece: b.Piece, Begin: b.Begin, Length: b.Length}
}

// NewHave builds a Have message.
func NewHave(piece int) *Message {
	return &Message{Type: Have, Piece: piece}
}

// NewBitfield builds a Bitfield message.
func NewBitfield(bits *bitset.BitSet, numPieces int) *Message {
	return &Message{Type: Bitfield, Bits: bits, NumPieces: numPieces}
}

// NewPiece builds a Piece message carrying pr as its block payload.
func NewPiece(piece, begin int, pr storage.PieceReader) *Message {
	return &Message{Type: Piece, Piece: piece, Begin: begin, Payload: pr}
}

// ReadMessage reads and decodes a single message off r, reserving ingress
// bandwidth for any piece payload it carries.
func ReadMessage(r io.Reader, limiter *bandwidth.Limiter) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return &Message{Type: KeepAlive}, nil
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message length %d exceeds max %d", length, maxMessageSize)
	}

	var idBuf [1]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return nil, err
	}
	t := Type(idBuf[0])
	body := make([]byte, length-1)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	msg := &Message{Type: t}
	switch t {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		// No body.
	case Have, SuggestPiece, AllowedFast:
		if len(body) != 4 {
			return nil, fmt.Errorf("%s: expected 4 byte body, got %d", t, len(body))
		}
		msg.Piece = int(binary.BigEndian.Uint32(body))
	case Bitfield:
		bits := bitset.New(uint(len(body) * 8))
		for i, b := range body {
			for bit := 0; bit < 8; bit++ {
				if b&(0x80>>uint(bit)) != 0 {
					bits.Set(uint(i*8 + bit))
				}
			}
		}
		msg.Bits = bits
	case Request, Cancel, RejectRequest:
		if len(body) != 12 {
			return nil, fmt.Errorf("%s: expected 12 byte body, got %d", t, len(body))
		}
		msg.Piece = int(binary.BigEndian.Uint32(body[0:4]))
		msg.Begin = int(binary.BigEndian.Uint32(body[4:8]))
		msg.Length = int(binary.BigEndian.Uint32(body[8:12]))
	case Piece:
		if len(body) < 8 {
			return nil, fmt.Errorf("piece: expected at least 8 byte header, got %d", len(body))
		}
		msg.Piece = int(binary.BigEndian.Uint32(body[0:4]))
		msg.Begin = int(binary.BigEndian.Uint32(body[4:8]))
		block := body[8:]
		if limiter != nil {
			if err := limiter.ReserveIngress(int64(len(block))); err != nil {
				return nil, fmt.Errorf("ingress bandwidth: %s", err)
			}
		}
		msg.Payload = piecereader.NewBuffer(block)
	case Port:
		if len(body) != 2 {
			return nil, fmt.Errorf("port: expected 2 byte body, got %d", len(body))
		}
		msg.Port = binary.BigEndian.Uint16(body)
	case Extended:
		if len(body) < 1 {
			return nil, fmt.Errorf("extended: expected at least 1 byte body")
		}
		msg.ExtendedID = body[0]
		msg.ExtendedPayload = body[1:]
	default:
		return nil, fmt.Errorf("unrecognized message type: %d", t)
	}
	return msg, nil
}

// WriteMessage encodes and writes msg to w, reserving egress bandwidth for
// any piece payload it carries. Piece payloads are streamed directly from
// msg.Payload rather than buffered.
func WriteMessage(w io.Writer, limiter *bandwidth.Limiter, msg *Message) error {
	if msg.Type == KeepAlive {
		_, err := w.Write([]byte{0, 0, 0, 0})
		return err
	}

	body, err := encodeBody(msg)
	if err != nil {
		return err
	}

	var header [5]byte
	var payloadLen int
	if msg.Type == Piece {
		payloadLen = msg.Payload.Length()
	}
	binary.BigEndian.PutUint32(header[:4], uint32(1+len(body)+payloadLen))
	header[4] = byte(msg.Type)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	if msg.Type == Piece {
		defer msg.Payload.Close()
		if limiter != nil {
			if err := limiter.ReserveEgress(int64(payloadLen)); err != nil {
				return fmt.Errorf("egress bandwidth: %s", err)
			}
		}
		if _, err := io.Copy(w, msg.Payload); err != nil {
			return fmt.Errorf("copy piece payload: %s", err)
		}
	}
	return nil
}

func encodeBody(msg *Message) ([]byte, error) {
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone:
		return nil, nil
	case Have, SuggestPiece, AllowedFast:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(msg.Piece))
		return b, nil
	case Bitfield:
		b := make([]byte, (msg.NumPieces+7)/8)
		for i, e := msg.Bits.NextSet(0); e; i, e = msg.Bits.NextSet(i + 1) {
			if int(i) >= msg.NumPieces {
				break
			}
			b[i/8] |= 0x80 >> uint(i%8)
		}
		return b, nil
	case Request, Cancel, RejectRequest:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], uint32(msg.Piece))
		binary.BigEndian.PutUint32(b[4:8], uint32(msg.Begin))
		binary.BigEndian.PutUint32(b[8:12], uint32(msg.Length))
		return b, nil
	case Piece:
		b := make([]byte, 8)
		binary.BigEndian.PutUint32(b[0:4], uint32(msg.Piece))
		binary.BigEndian.PutUint32(b[4:8], uint32(msg.Begin))
		return b, nil
	case Port:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, msg.Port)
		return b, nil
	case Extended:
		b := make([]byte, 1+len(msg.ExtendedPayload))
		b[0] = msg.ExtendedID
		copy(b[1:], msg.ExtendedPayload)
		return b, nil
	default:
		return nil, fmt.Errorf("unrecognized message type: %d", msg.Type)
	}
}
