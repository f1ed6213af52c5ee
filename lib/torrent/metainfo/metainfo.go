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
	"fmt"
	"sort"
	"strings"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/bencode"
)

// TorrentMetadata is the parsed contents of a .torrent file, or the shell of
// one recovered from a magnet link before the info dictionary has arrived
// over the ut_metadata extension.
type TorrentMetadata struct {
	InfoHash core.InfoHash

	// Info is nil until the info dictionary has been obtained, either by
	// parsing a .torrent file directly or by completing a metadata
	// exchange with a peer.
	Info *Info

	// Announce and AnnounceList carry the tracker URLs declared in the
	// torrent, if any. The DHT tracker does not require these.
	Announce     string
	AnnounceList [][]string

	// raw holds the exact bytes of the decoded info dictionary, so that
	// it can be handed out verbatim to ut_metadata requesters without
	// re-encoding (which could otherwise drift from the original
	// byte-for-byte form a peer is expecting to hash-verify).
	raw []byte
}

// HasInfo reports whether the info dictionary is present.
func (m *TorrentMetadata) HasInfo() bool {
	return m.Info != nil
}

// RawInfo returns the exact bencoded bytes of the info dictionary, suitable
// for serving over ut_metadata. Empty if HasInfo is false.
func (m *TorrentMetadata) RawInfo() []byte {
	return m.raw
}

// Parse decodes a complete .torrent file into a TorrentMetadata.
func Parse(data []byte) (*TorrentMetadata, error) {
	var top map[string]interface{}
	if err := bencode.Unmarshal(data, &top); err != nil {
		return nil, &core.ParseError{Reason: fmt.Sprintf("decode torrent: %s", err)}
	}

	infoVal, ok := top["info"]
	if !ok {
		return nil, &core.InvalidMetadataError{Reason: "missing info dictionary"}
	}
	infoDict, ok := infoVal.(map[string]interface{})
	if !ok {
		return nil, &core.InvalidMetadataError{Reason: "info is not a dictionary"}
	}

	raw, err := bencode.Marshal(infoDict)
	if err != nil {
		return nil, &core.ParseError{Reason: fmt.Sprintf("re-encode info: %s", err)}
	}

	info, err := decodeInfo(infoDict)
	if err != nil {
		return nil, err
	}

	ih, err := infoHashOf(infoDict, info)
	if err != nil {
		return nil, err
	}

	m := &TorrentMetadata{
		InfoHash: ih,
		Info:     info,
		raw:      raw,
	}
	if announce, ok := top["announce"].(string); ok {
		m.Announce = announce
	}
	if list, ok := top["announce-list"].([]interface{}); ok {
		m.AnnounceList = decodeAnnounceList(list)
	}
	return m, nil
}

// NewMagnet constructs a TorrentMetadata shell for a magnet link, with no
// info dictionary. FillInfo must be called once metadata has been fetched
// from a peer.
func NewMagnet(ih core.InfoHash) *TorrentMetadata {
	return &TorrentMetadata{InfoHash: ih}
}

// FillInfo validates a candidate info dictionary against the torrent's
// announced InfoHash and, if it matches, attaches it. Used once a
// ut_metadata exchange completes.
func (m *TorrentMetadata) FillInfo(raw []byte) error {
	var infoDict map[string]interface{}
	if err := bencode.Unmarshal(raw, &infoDict); err != nil {
		return &core.ParseError{Reason: fmt.Sprintf("decode info: %s", err)}
	}

	canonical, err := bencode.Marshal(infoDict)
	if err != nil {
		return &core.ParseError{Reason: fmt.Sprintf("re-encode info: %s", err)}
	}

	info, err := decodeInfo(infoDict)
	if err != nil {
		return err
	}

	ih, err := infoHashOf(infoDict, info)
	if err != nil {
		return err
	}
	if !ih.Equal(m.InfoHash) {
		return &core.InvalidInfoHashError{Expected: m.InfoHash, Got: ih}
	}

	m.Info = info
	m.raw = canonical
	return nil
}

func infoHashOf(infoDict map[string]interface{}, info *Info) (core.InfoHash, error) {
	raw, err := bencode.Marshal(infoDict)
	if err != nil {
		return core.InfoHash{}, &core.ParseError{Reason: fmt.Sprintf("hash info: %s", err)}
	}
	if info.V2() {
		return core.NewInfoHashV2FromBytes(raw), nil
	}
	return core.NewInfoHashV1FromBytes(raw), nil
}

func decodeAnnounceList(list []interface{}) [][]string {
	out := make([][]string, 0, len(list))
	for _, tierVal := range list {
		tierList, ok := tierVal.([]interface{})
		if !ok {
			continue
		}
		tier := make([]string, 0, len(tierList))
		for _, urlVal := range tierList {
			if s, ok := urlVal.(string); ok {
				tier = append(tier, s)
			}
		}
		out = append(out, tier)
	}
	return out
}

// decodeInfo converts a decoded info dictionary into an Info, handling v1,
// v2, and hybrid layouts per BEP 3 and BEP 52.
func decodeInfo(d map[string]interface{}) (*Info, error) {
	name, _ := d["name"].(string)

	pieceLength, ok := asInt64(d["piece length"])
	if !ok || pieceLength <= 0 {
		return nil, &core.InvalidMetadataError{Reason: "missing or invalid piece length"}
	}

	metaVersion := 0
	if v, ok := asInt64(d["meta version"]); ok {
		metaVersion = int(v)
	}

	rawFiles, singleLength, err := decodeFileList(d)
	if err != nil {
		return nil, err
	}

	var rootsByPath map[string]core.PieceHash
	var v2PieceHashesByPath map[string][]core.PieceHash
	if metaVersion >= 2 {
		tree, ok := d["file tree"].(map[string]interface{})
		if !ok {
			return nil, &core.InvalidMetadataError{Reason: "meta version 2 requires a file tree"}
		}
		leaves, err := walkFileTree(tree, nil)
		if err != nil {
			return nil, err
		}
		rootsByPath = make(map[string]core.PieceHash, len(leaves))
		for _, lf := range leaves {
			rootsByPath[lf.path] = lf.root
		}
		if len(rawFiles) == 0 {
			rawFiles = leavesToRawFiles(leaves)
			if len(leaves) == 1 {
				singleLength = leaves[0].length
			}
		}

		layers, _ := d["piece layers"].(map[string]interface{})
		v2PieceHashesByPath = decodePieceLayers(leaves, layers, pieceLength)
	}

	files := buildFiles(name, rawFiles, singleLength, rootsByPath)

	var v1Pieces [][]byte
	if raw, ok := d["pieces"].(string); ok && raw != "" {
		v1Pieces, err = splitHashes([]byte(raw), sha1Size)
		if err != nil {
			return nil, err
		}
	}

	numPieces := len(v1Pieces)
	if numPieces == 0 {
		for _, f := range files {
			if n := len(v2PieceHashesByPath[f.TorrentPath]); n > numPieces {
				numPieces = n
			}
		}
	}
	if numPieces == 0 {
		return nil, &core.InvalidMetadataError{Reason: "no piece hashes present"}
	}

	pieces := make([]PieceHashes, numPieces)
	for i := 0; i < numPieces; i++ {
		var ph PieceHashes
		if i < len(v1Pieces) {
			h := core.NewPieceHashV1(v1Pieces[i])
			ph.V1 = &h
		}
		pieces[i] = ph
	}
	attachV2PieceHashes(pieces, files, v2PieceHashesByPath, pieceLength)

	private := false
	if v, ok := asInt64(d["private"]); ok && v != 0 {
		private = true
	}

	return &Info{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
		Files:       files,
		Private:     private,
		MetaVersion: metaVersion,
	}, nil
}

func decodeFileList(d map[string]interface{}) ([]rawFile, int64, error) {
	filesVal, hasFiles := d["files"]
	if !hasFiles {
		length, _ := asInt64(d["length"])
		return nil, length, nil
	}

	list, ok := filesVal.([]interface{})
	if !ok {
		return nil, 0, &core.InvalidMetadataError{Reason: "files is not a list"}
	}

	out := make([]rawFile, 0, len(list))
	for _, entryVal := range list {
		entry, ok := entryVal.(map[string]interface{})
		if !ok {
			return nil, 0, &core.InvalidMetadataError{Reason: "file entry is not a dictionary"}
		}
		length, _ := asInt64(entry["length"])
		pathList, _ := entry["path"].([]interface{})
		segs := make([]string, 0, len(pathList))
		for _, p := range pathList {
			if s, ok := p.(string); ok {
				segs = append(segs, s)
			}
		}
		attr, _ := entry["attr"].(string)
		out = append(out, rawFile{length: length, path: segs, attr: attr})
	}
	return out, 0, nil
}

func splitHashes(raw []byte, size int) ([][]byte, error) {
	if len(raw)%size != 0 {
		return nil, &core.InvalidMetadataError{
			Reason: fmt.Sprintf("piece hash vector length %d not a multiple of %d", len(raw), size),
		}
	}
	n := len(raw) / size
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = raw[i*size : (i+1)*size]
	}
	return out, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// fileTreeLeaf is a single v2 file tree leaf: a path segment list plus its
// length and pieces root.
type fileTreeLeaf struct {
	path   string
	length int64
	root   core.PieceHash
}

// walkFileTree recursively descends a BEP 52 "file tree" dictionary,
// collecting leaves in path order.
func walkFileTree(tree map[string]interface{}, prefix []string) ([]fileTreeLeaf, error) {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var leaves []fileTreeLeaf
	for _, name := range keys {
		entry, ok := tree[name].(map[string]interface{})
		if !ok {
			return nil, &core.InvalidMetadataError{Reason: "malformed file tree entry"}
		}
		if leaf, ok := entry[""].(map[string]interface{}); ok {
			length, _ := asInt64(leaf["length"])
			var root core.PieceHash
			if raw, ok := leaf["pieces root"].(string); ok && len(raw) == sha256Size {
				root = core.NewPieceHashV2([]byte(raw))
			}
			leaves = append(leaves, fileTreeLeaf{
				path:   strings.Join(append(append([]string{}, prefix...), name), "/"),
				length: length,
				root:   root,
			})
			continue
		}
		sub, err := walkFileTree(entry, append(append([]string{}, prefix...), name))
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}

func leavesToRawFiles(leaves []fileTreeLeaf) []rawFile {
	out := make([]rawFile, 0, len(leaves))
	for _, lf := range leaves {
		out = append(out, rawFile{length: lf.length, path: strings.Split(lf.path, "/")})
	}
	return out
}

// decodePieceLayers resolves each file's v2 piece hash list from the
// top-level "piece layers" dictionary, keyed by that file's pieces root.
func decodePieceLayers(leaves []fileTreeLeaf, layers map[string]interface{}, pieceLength int64) map[string][]core.PieceHash {
	out := make(map[string][]core.PieceHash, len(leaves))
	if layers == nil {
		return out
	}
	for _, lf := range leaves {
		if lf.length == 0 {
			continue
		}
		raw, ok := layers[string(lf.root.Bytes())].(string)
		if !ok {
			continue
		}
		hashes, err := splitHashes([]byte(raw), sha256Size)
		if err != nil {
			continue
		}
		phs := make([]core.PieceHash, len(hashes))
		for i, h := range hashes {
			phs[i] = core.NewPieceHashV2(h)
		}
		out[lf.path] = phs
	}
	return out
}

// attachV2PieceHashes maps each file's per-file v2 piece hash list onto the
// torrent-wide piece index, by file offset / piece length.
func attachV2PieceHashes(pieces []PieceHashes, files []File, byPath map[string][]core.PieceHash, pieceLength int64) {
	if len(byPath) == 0 {
		return
	}
	for _, f := range files {
		hashes, ok := byPath[f.TorrentPath]
		if !ok {
			continue
		}
		start := int(f.OffsetInTorrent / pieceLength)
		for i, h := range hashes {
			idx := start + i
			if idx < 0 || idx >= len(pieces) {
				continue
			}
			hh := h
			pieces[idx].V2 = &hh
		}
	}
}
