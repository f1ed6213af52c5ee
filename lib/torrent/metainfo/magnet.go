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
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreswarm/torrent/core"
)

// ParseMagnet parses a magnet URI (magnet:?xt=urn:btih:...&tr=...&dn=...)
// into a TorrentMetadata shell with no info dictionary, mirroring NewMagnet.
// The info hash may be hex (40 chars) or base32 (32 chars) encoded, per
// BEP 9. Any "tr" (tracker) params are carried into Announce/AnnounceList
// even though the DHT tracker does not require them.
func ParseMagnet(uri string) (*TorrentMetadata, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &core.ParseError{Reason: fmt.Sprintf("parse magnet uri: %s", err)}
	}
	if u.Scheme != "magnet" {
		return nil, &core.ParseError{Reason: fmt.Sprintf("not a magnet uri: %s", uri)}
	}

	q := u.Query()

	var ih core.InfoHash
	found := false
	for _, xt := range q["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(xt, prefix) {
			continue
		}
		hash := xt[len(prefix):]
		h, err := decodeMagnetHash(hash)
		if err != nil {
			return nil, &core.InvalidMetadataError{Reason: fmt.Sprintf("magnet xt %q: %s", xt, err)}
		}
		ih = h
		found = true
		break
	}
	if !found {
		return nil, &core.InvalidMetadataError{Reason: "magnet uri missing urn:btih xt param"}
	}

	m := NewMagnet(ih)
	if trs := q["tr"]; len(trs) > 0 {
		m.Announce = trs[0]
		if len(trs) > 1 {
			for _, tr := range trs {
				m.AnnounceList = append(m.AnnounceList, []string{tr})
			}
		}
	}
	return m, nil
}

func decodeMagnetHash(hash string) (core.InfoHash, error) {
	switch len(hash) {
	case 40:
		return core.NewInfoHashFromHex(hash)
	case 32:
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(hash))
		if err != nil {
			return core.InfoHash{}, fmt.Errorf("base32 decode: %s", err)
		}
		return core.NewInfoHashFromBytes(raw)
	default:
		return core.InfoHash{}, fmt.Errorf("info hash %q has invalid length %d", hash, len(hash))
	}
}
