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
	"fmt"
	"io"

	"github.com/coreswarm/torrent/core"
)

// ProtocolString is the pstr field of a BEP 3 handshake.
const ProtocolString = "BitTorrent protocol"

const handshakeLen = 49 + len(ProtocolString)

// Reserved-byte extension bits, per convention established by BEP 4.
const (
	reservedDHTByteIdx      = 7
	reservedDHTBit          = 0x01
	reservedFastByteIdx     = 7
	reservedFastBit         = 0x04
	reservedExtendedByteIdx = 5
	reservedExtendedBit     = 0x10
)

// Reserved represents the 8 reserved bytes of a handshake, advertising which
// protocol extensions a peer supports.
type Reserved [8]byte

// NewReserved builds a Reserved byte string advertising the given
// extensions.
func NewReserved(dht, fast, extended bool) Reserved {
	var r Reserved
	if dht {
		r[reservedDHTByteIdx] |= reservedDHTBit
	}
	if fast {
		r[reservedFastByteIdx] |= reservedFastBit
	}
	if extended {
		r[reservedExtendedByteIdx] |= reservedExtendedBit
	}
	return r
}

// SupportsDHT reports whether the DHT extension (BEP 5) bit is set.
func (r Reserved) SupportsDHT() bool {
	return r[reservedDHTByteIdx]&reservedDHTBit != 0
}

// SupportsFast reports whether the Fast extension (BEP 6) bit is set.
func (r Reserved) SupportsFast() bool {
	return r[reservedFastByteIdx]&reservedFastBit != 0
}

// SupportsExtended reports whether the extended messaging bit (BEP 10) is
// set.
func (r Reserved) SupportsExtended() bool {
	return r[reservedExtendedByteIdx]&reservedExtendedBit != 0
}

// And returns the intersection of extensions supported by r and o, i.e. the
// extensions usable on a connection between the two peers.
func (r Reserved) And(o Reserved) Reserved {
	var out Reserved
	for i := range out {
		out[i] = r[i] & o[i]
	}
	return out
}

// Handshake is the fixed 68-byte BEP 3 handshake message exchanged as the
// first bytes on every peer connection, before any length-prefixed wire
// message.
type Handshake struct {
	Reserved Reserved
	InfoHash [20]byte
	PeerID   core.PeerID
}

// WriteTo serializes h to w.
func (h Handshake) WriteTo(w io.Writer) error {
	buf := make([]byte, 0, handshakeLen)
	buf = append(buf, byte(len(ProtocolString)))
	buf = append(buf, ProtocolString...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	_, err := w.Write(buf)
	return err
}

// ReadHandshake reads and validates a Handshake off r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var pstrlen [1]byte
	if _, err := io.ReadFull(r, pstrlen[:]); err != nil {
		return nil, fmt.Errorf("read pstrlen: %s", err)
	}
	pstr := make([]byte, pstrlen[0])
	if _, err := io.ReadFull(r, pstr); err != nil {
		return nil, fmt.Errorf("read pstr: %s", err)
	}
	if string(pstr) != ProtocolString {
		return nil, fmt.Errorf("unsupported protocol: %q", pstr)
	}

	var rest [8 + 20 + 20]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return nil, fmt.Errorf("read handshake body: %s", err)
	}

	var h Handshake
	copy(h.Reserved[:], rest[:8])
	copy(h.InfoHash[:], rest[8:28])
	peerID, err := core.PeerIDFromBytes(rest[28:48])
	if err != nil {
		return nil, fmt.Errorf("peer id: %s", err)
	}
	h.PeerID = peerID

	return &h, nil
}
