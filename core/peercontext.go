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
package core

import "errors"

// Direction distinguishes which side of a peer connection dialed.
type Direction int

// Connection directions.
const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// PeerContext defines the identity a local client runs under for a single
// torrent session: the fields advertised to remote peers during handshake
// and logged for diagnostics.
type PeerContext struct {
	IP         string
	Port       int
	PeerID     PeerID
	ClientName string
}

// NewPeerContext creates a new PeerContext, minting a peer id per f.
func NewPeerContext(f PeerIDFactory, ip string, port int, clientName string) (PeerContext, error) {
	if ip == "" {
		return PeerContext{}, errors.New("no ip supplied")
	}
	if port == 0 {
		return PeerContext{}, errors.New("no port supplied")
	}
	peerID, err := f.GeneratePeerID(ip, port)
	if err != nil {
		return PeerContext{}, err
	}
	return PeerContext{
		IP:         ip,
		Port:       port,
		PeerID:     peerID,
		ClientName: clientName,
	}, nil
}
