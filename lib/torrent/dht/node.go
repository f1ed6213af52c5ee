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
package dht

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"net"

	"github.com/coreswarm/torrent/core"
)

// NodeID identifies a DHT node in the same 160-bit keyspace as a PeerID.
type NodeID = core.PeerID

// RandomNodeID returns a randomly generated NodeID.
func RandomNodeID() (NodeID, error) {
	var id NodeID
	_, err := rand.Read(id[:])
	return id, err
}

// Distance returns the XOR metric distance between a and b, per the
// Kademlia routing scheme.
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CommonPrefixLen returns the number of leading bits a and b share, used to
// select which k-bucket a node belongs in. Returns 160 if a == b.
func CommonPrefixLen(a, b NodeID) int {
	d := Distance(a, b)
	for i, byt := range d {
		if byt == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if byt&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return len(d) * 8
}

// Node is a single entry in the DHT routing table: a peer identified by
// NodeID reachable at addr.
type Node struct {
	ID   NodeID
	Addr *net.UDPAddr
}

func (n Node) String() string {
	return hex.EncodeToString(n.ID[:]) + "@" + n.Addr.String()
}

const compactNodeInfoLen = 26 // 20-byte id + 4-byte ipv4 + 2-byte port

// EncodeCompactNodeInfo encodes nodes in the "compact node info" format
// used by find_node/get_peers responses: a flat concatenation of
// id(20)+ipv4(4)+port(2) per node.
func EncodeCompactNodeInfo(nodes []Node) []byte {
	b := make([]byte, 0, len(nodes)*compactNodeInfoLen)
	for _, n := range nodes {
		ip4 := n.Addr.IP.To4()
		if ip4 == nil {
			continue
		}
		b = append(b, n.ID[:]...)
		b = append(b, ip4...)
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], uint16(n.Addr.Port))
		b = append(b, port[:]...)
	}
	return b
}

// DecodeCompactNodeInfo decodes the compact node info format back into Nodes.
func DecodeCompactNodeInfo(b []byte) ([]Node, error) {
	if len(b)%compactNodeInfoLen != 0 {
		return nil, &core.ParseError{Reason: "compact node info length not a multiple of 26"}
	}
	var nodes []Node
	for i := 0; i+compactNodeInfoLen <= len(b); i += compactNodeInfoLen {
		var id NodeID
		copy(id[:], b[i:i+20])
		ip := net.IP(append([]byte{}, b[i+20:i+24]...))
		port := binary.BigEndian.Uint16(b[i+24 : i+26])
		nodes = append(nodes, Node{ID: id, Addr: &net.UDPAddr{IP: ip, Port: int(port)}})
	}
	return nodes, nil
}

const compactPeerInfoLen = 6 // 4-byte ipv4 + 2-byte port

// EncodeCompactPeerInfo encodes a single peer address in the "compact ip
// address/port info" format used by get_peers responses' values list.
func EncodeCompactPeerInfo(addr *net.UDPAddr) []byte {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil
	}
	b := make([]byte, compactPeerInfoLen)
	copy(b, ip4)
	binary.BigEndian.PutUint16(b[4:], uint16(addr.Port))
	return b
}

// DecodeCompactPeerInfo decodes a single compact peer address.
func DecodeCompactPeerInfo(b []byte) (*net.UDPAddr, error) {
	if len(b) != compactPeerInfoLen {
		return nil, &core.ParseError{Reason: "compact peer info must be 6 bytes"}
	}
	ip := net.IP(append([]byte{}, b[0:4]...))
	port := binary.BigEndian.Uint16(b[4:6])
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
