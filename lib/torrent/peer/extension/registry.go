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

// Package extension implements BEP 10 extended messaging: the handshake
// dictionary that negotiates extension name-to-id mappings, and ut_metadata
// (BEP 9), the only extension this client speaks.
package extension

// UTMetadata is the canonical extension name for BEP 9 metadata exchange.
const UTMetadata = "ut_metadata"

// LocalIDs is the set of extension ids this client advertises in its
// handshake, keyed by extension name. Peers address requests for an
// extension using the id we assigned it here.
var LocalIDs = map[string]int{
	UTMetadata: 1,
}

// HandshakeDict is the bencoded payload of the BEP 10 extended handshake
// message (extended id 0): m maps extension name to locally assigned id,
// and metadata_size (when known) advertises the info dictionary's encoded
// length so peers can request it in piece-sized chunks.
type HandshakeDict struct {
	M            map[string]int `bencode:"m"`
	MetadataSize int             `bencode:"metadata_size,omitempty"`
	Version      string          `bencode:"v,omitempty"`
}

// Registry tracks which extension ids a specific remote peer has assigned,
// as learned from that peer's extended handshake.
type Registry struct {
	remoteIDs map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{remoteIDs: make(map[string]int)}
}

// Update records the extension id mapping a peer advertised in its extended
// handshake.
func (r *Registry) Update(m map[string]int) {
	for name, id := range m {
		r.remoteIDs[name] = id
	}
}

// RemoteID returns the id the remote peer uses for the named extension, and
// whether the peer supports it at all.
func (r *Registry) RemoteID(name string) (int, bool) {
	id, ok := r.remoteIDs[name]
	return id, ok
}

// SupportsUTMetadata reports whether the remote peer advertised ut_metadata
// support.
func (r *Registry) SupportsUTMetadata() bool {
	_, ok := r.remoteIDs[UTMetadata]
	return ok
}
