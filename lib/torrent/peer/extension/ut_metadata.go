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
package extension

// ut_metadata (BEP 9) message types, carried in the msg_type field of the
// bencoded dict that prefixes every ut_metadata payload.
const (
	MetadataRequest = 0
	MetadataData    = 1
	MetadataReject  = 2
)

// MetadataPieceSize is the fixed chunk size ut_metadata splits the info
// dictionary into, per BEP 9.
const MetadataPieceSize = 16 * 1024

// MetadataMessage is the bencoded dict prefixing a ut_metadata payload. For
// MetadataData, the dict is immediately followed by the raw piece bytes
// (not itself bencoded) in the extension message body.
type MetadataMessage struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

// NumMetadataPieces returns how many ut_metadata pieces an info dictionary
// of the given length splits into.
func NumMetadataPieces(infoLen int) int {
	return (infoLen + MetadataPieceSize - 1) / MetadataPieceSize
}
