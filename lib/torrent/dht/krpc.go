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
	"bytes"
	"fmt"

	bencode "github.com/jackpal/bencode-go"

	"github.com/coreswarm/torrent/core"
)

// KRPC message types, carried in the top-level "y" field.
const (
	typeQuery    = "q"
	typeResponse = "r"
	typeError    = "e"
)

// KRPC query method names, carried in the top-level "q" field.
const (
	QueryPing         = "ping"
	QueryFindNode     = "find_node"
	QueryGetPeers     = "get_peers"
	QueryAnnouncePeer = "announce_peer"
)

// KRPC protocol error codes, per BEP 5.
const (
	ErrCodeGeneric     = 201
	ErrCodeServer      = 202
	ErrCodeProtocol    = 203
	ErrCodeMethUnknown = 204
)

// queryArgs is the union of every query's "a" argument dict. Only the
// fields relevant to the query's method name are populated.
type queryArgs struct {
	ID          string `bencode:"id"`
	Target      string `bencode:"target,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Token       string `bencode:"token,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	ImpliedPort int    `bencode:"implied_port,omitempty"`
}

// responseValues is the union of every response's "r" return value dict.
type responseValues struct {
	ID     string   `bencode:"id"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

// message is the wire envelope for every KRPC message: a bencoded dict
// keyed by single-letter fields per BEP 5.
type message struct {
	TransactionID string          `bencode:"t"`
	Type          string          `bencode:"y"`
	Query         string          `bencode:"q,omitempty"`
	Args          *queryArgs      `bencode:"a,omitempty"`
	Response      *responseValues `bencode:"r,omitempty"`
	Error         []interface{}   `bencode:"e,omitempty"`
	Version       string          `bencode:"v,omitempty"`
}

func encodeMessage(m *message) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, *m); err != nil {
		return nil, &core.ParseError{Reason: fmt.Sprintf("encode krpc message: %s", err)}
	}
	return buf.Bytes(), nil
}

func decodeMessage(b []byte) (*message, error) {
	var m message
	if err := bencode.Unmarshal(bytes.NewReader(b), &m); err != nil {
		return nil, &core.InvalidMessageError{Reason: fmt.Sprintf("decode krpc message: %s", err)}
	}
	switch m.Type {
	case typeQuery, typeResponse, typeError:
	default:
		return nil, &core.InvalidMessageError{Reason: fmt.Sprintf("unknown krpc type %q", m.Type)}
	}
	return &m, nil
}

func newPingQuery(t string, id NodeID) *message {
	return &message{
		TransactionID: t,
		Type:          typeQuery,
		Query:         QueryPing,
		Args:          &queryArgs{ID: string(id[:])},
	}
}

func newFindNodeQuery(t string, id, target NodeID) *message {
	return &message{
		TransactionID: t,
		Type:          typeQuery,
		Query:         QueryFindNode,
		Args:          &queryArgs{ID: string(id[:]), Target: string(target[:])},
	}
}

func newGetPeersQuery(t string, id NodeID, h core.InfoHash) *message {
	ih := h.Handshake20()
	return &message{
		TransactionID: t,
		Type:          typeQuery,
		Query:         QueryGetPeers,
		Args:          &queryArgs{ID: string(id[:]), InfoHash: string(ih[:])},
	}
}

func newAnnouncePeerQuery(t string, id NodeID, h core.InfoHash, port int, token string) *message {
	ih := h.Handshake20()
	return &message{
		TransactionID: t,
		Type:          typeQuery,
		Query:         QueryAnnouncePeer,
		Args: &queryArgs{
			ID:          string(id[:]),
			InfoHash:    string(ih[:]),
			Port:        port,
			ImpliedPort: 0,
			Token:       token,
		},
	}
}

func newResponse(t string, id NodeID, v *responseValues) *message {
	if v == nil {
		v = &responseValues{}
	}
	v.ID = string(id[:])
	return &message{TransactionID: t, Type: typeResponse, Response: v}
}

func newErrorMessage(t string, code int, reason string) *message {
	return &message{
		TransactionID: t,
		Type:          typeError,
		Error:         []interface{}{code, reason},
	}
}

func idFromArgs(s string) (NodeID, error) {
	var id NodeID
	if len(s) != len(id) {
		return id, &core.InvalidNodeIDError{Reason: fmt.Sprintf("expected %d bytes, got %d", len(id), len(s))}
	}
	copy(id[:], s)
	return id, nil
}
