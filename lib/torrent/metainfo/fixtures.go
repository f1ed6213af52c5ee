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
package metainfo

import (
	"bytes"
	"crypto/sha1"

	"github.com/coreswarm/torrent/lib/torrent/bencode"
)

// SingleFileFixture builds and encodes a minimal single-file v1 .torrent
// with the given content broken into pieceLength-sized pieces. Returns the
// encoded bytes plus the parsed TorrentMetadata.
func SingleFileFixture(name string, content []byte, pieceLength int64) ([]byte, *TorrentMetadata) {
	var pieces bytes.Buffer
	for i := int64(0); i < int64(len(content)); i += pieceLength {
		end := i + pieceLength
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		sum := sha1.Sum(content[i:end])
		pieces.Write(sum[:])
	}

	info := map[string]interface{}{
		"name":         name,
		"piece length": pieceLength,
		"pieces":       pieces.String(),
		"length":       int64(len(content)),
	}
	top := map[string]interface{}{
		"announce": "udp://tracker.example.com:80/announce",
		"info":     info,
	}

	raw, err := bencode.Marshal(top)
	if err != nil {
		panic(err)
	}
	m, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return raw, m
}
