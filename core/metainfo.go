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

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/jackpal/bencode-go"
)

// MalformedMetaInfoError occurs when a torrent file cannot be decoded into a
// valid MetaInfo.
type MalformedMetaInfoError struct {
	Reason string
}

func (e MalformedMetaInfoError) Error() string {
	return fmt.Sprintf("malformed metainfo: %s", e.Reason)
}

// IsMalformedMetaInfoError returns true if err is a MalformedMetaInfoError.
func IsMalformedMetaInfoError(err error) bool {
	_, ok := err.(MalformedMetaInfoError)
	return ok
}

// info mirrors the bencoded info dictionary of a single-file torrent.
type info struct {
	Pieces      string `bencode:"pieces"`
	PieceLength int64  `bencode:"piece length"`
	Length      int64  `bencode:"length"`
	Name        string `bencode:"name"`
}

// metainfoFile mirrors the top-level bencoded dictionary of a torrent file.
type metainfoFile struct {
	Announce     string   `bencode:"announce"`
	Comment      string   `bencode:"comment"`
	CreatedBy    string   `bencode:"created by"`
	CreationDate int64    `bencode:"creation date"`
	URLList      []string `bencode:"url-list"`
	Info         info     `bencode:"info"`
}

// MetaInfo contains torrent metadata. Immutable after decode.
type MetaInfo struct {
	file        metainfoFile
	infoHash    InfoHash
	pieceHashes [][sha1.Size]byte
}

// DecodeMetaInfo decodes a raw torrent file. The info hash is computed over
// the exact byte range the bencoded info value occupies in raw: re-encoding
// the decoded dictionary would not survive key ordering or integer
// canonicalization differences, and would silently break every subsequent
// tracker announce and handshake.
func DecodeMetaInfo(raw []byte) (*MetaInfo, error) {
	var file metainfoFile
	if err := bencode.Unmarshal(bytes.NewReader(raw), &file); err != nil {
		return nil, MalformedMetaInfoError{fmt.Sprintf("bencode: %s", err)}
	}
	if file.Announce == "" {
		return nil, MalformedMetaInfoError{"missing announce"}
	}
	if file.Info.Name == "" {
		return nil, MalformedMetaInfoError{"missing info.name"}
	}
	if file.Info.PieceLength <= 0 {
		return nil, MalformedMetaInfoError{
			fmt.Sprintf("non-positive piece length %d", file.Info.PieceLength)}
	}
	if file.Info.Length < 0 {
		return nil, MalformedMetaInfoError{
			fmt.Sprintf("negative length %d", file.Info.Length)}
	}
	if len(file.Info.Pieces) == 0 {
		return nil, MalformedMetaInfoError{"missing info.pieces"}
	}
	if len(file.Info.Pieces)%sha1.Size != 0 {
		return nil, MalformedMetaInfoError{
			fmt.Sprintf("pieces length %d not a multiple of %d", len(file.Info.Pieces), sha1.Size)}
	}
	numPieces := len(file.Info.Pieces) / sha1.Size
	expected := int((file.Info.Length + file.Info.PieceLength - 1) / file.Info.PieceLength)
	if numPieces != expected {
		return nil, MalformedMetaInfoError{
			fmt.Sprintf("expected %d piece hashes, got %d", expected, numPieces)}
	}
	pieceHashes := make([][sha1.Size]byte, numPieces)
	for i := range pieceHashes {
		copy(pieceHashes[i][:], file.Info.Pieces[i*sha1.Size:(i+1)*sha1.Size])
	}

	start, end, err := rawInfoRange(raw)
	if err != nil {
		return nil, MalformedMetaInfoError{err.Error()}
	}
	return &MetaInfo{
		file:        file,
		infoHash:    NewInfoHashFromBytes(raw[start:end]),
		pieceHashes: pieceHashes,
	}, nil
}

// Announce returns the tracker announce URL.
func (mi *MetaInfo) Announce() string {
	return mi.file.Announce
}

// Comment returns the optional comment field.
func (mi *MetaInfo) Comment() string {
	return mi.file.Comment
}

// CreatedBy returns the optional created by field.
func (mi *MetaInfo) CreatedBy() string {
	return mi.file.CreatedBy
}

// CreationDate returns the optional creation date, in unix seconds.
func (mi *MetaInfo) CreationDate() int64 {
	return mi.file.CreationDate
}

// WebSeeds returns the optional url-list field.
func (mi *MetaInfo) WebSeeds() []string {
	return mi.file.URLList
}

// InfoHash returns the torrent InfoHash.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

// Name returns the file name the torrent downloads to.
func (mi *MetaInfo) Name() string {
	return mi.file.Info.Name
}

// Length returns the length of the target file.
func (mi *MetaInfo) Length() int64 {
	return mi.file.Info.Length
}

// NumPieces returns the number of pieces in the torrent.
func (mi *MetaInfo) NumPieces() int {
	return len(mi.pieceHashes)
}

// PieceLength returns the nominal piece length. Note, the final piece may be
// shorter than this. Use GetPieceLength for the true lengths of each piece.
func (mi *MetaInfo) PieceLength() int64 {
	return mi.file.Info.PieceLength
}

// GetPieceLength returns the length of piece i.
func (mi *MetaInfo) GetPieceLength(i int) int64 {
	if i < 0 || i >= len(mi.pieceHashes) {
		return 0
	}
	if i == len(mi.pieceHashes)-1 {
		// Last piece.
		return mi.file.Info.Length - mi.file.Info.PieceLength*int64(i)
	}
	return mi.file.Info.PieceLength
}

// PieceHash returns the expected SHA1 digest of piece i. Does not check bounds.
func (mi *MetaInfo) PieceHash(i int) [sha1.Size]byte {
	return mi.pieceHashes[i]
}

// rawInfoRange returns the [start, end) byte range which the value of the
// top-level "info" key occupies in raw, from its opening 'd' through the
// matching 'e' inclusive.
func rawInfoRange(raw []byte) (start, end int, err error) {
	if len(raw) == 0 || raw[0] != 'd' {
		return 0, 0, fmt.Errorf("expected top-level dictionary")
	}
	i := 1
	for i < len(raw) && raw[i] != 'e' {
		keyStart, keyEnd, next, err := scanString(raw, i)
		if err != nil {
			return 0, 0, fmt.Errorf("dictionary key: %s", err)
		}
		valueEnd, err := scanValue(raw, next)
		if err != nil {
			return 0, 0, fmt.Errorf("dictionary value: %s", err)
		}
		if string(raw[keyStart:keyEnd]) == "info" {
			return next, valueEnd, nil
		}
		i = valueEnd
	}
	return 0, 0, fmt.Errorf("no info key found")
}

// scanString scans the bencoded string at i and returns the range of its
// contents plus the index just past it.
func scanString(raw []byte, i int) (start, end, next int, err error) {
	var n int
	for ; i < len(raw) && raw[i] >= '0' && raw[i] <= '9'; i++ {
		n = n*10 + int(raw[i]-'0')
	}
	if i >= len(raw) || raw[i] != ':' {
		return 0, 0, 0, fmt.Errorf("invalid string length prefix at %d", i)
	}
	i++
	if i+n > len(raw) {
		return 0, 0, 0, fmt.Errorf("string at %d overflows input", i)
	}
	return i, i + n, i + n, nil
}

// scanValue scans the bencoded value at i and returns the index just past it.
func scanValue(raw []byte, i int) (int, error) {
	if i >= len(raw) {
		return 0, fmt.Errorf("unexpected end of input")
	}
	switch c := raw[i]; {
	case c == 'i':
		for i++; i < len(raw); i++ {
			if raw[i] == 'e' {
				return i + 1, nil
			}
		}
		return 0, fmt.Errorf("unterminated integer")
	case c == 'l':
		for i++; i < len(raw) && raw[i] != 'e'; {
			next, err := scanValue(raw, i)
			if err != nil {
				return 0, err
			}
			i = next
		}
		if i >= len(raw) {
			return 0, fmt.Errorf("unterminated list")
		}
		return i + 1, nil
	case c == 'd':
		for i++; i < len(raw) && raw[i] != 'e'; {
			_, _, next, err := scanString(raw, i)
			if err != nil {
				return 0, err
			}
			valueEnd, err := scanValue(raw, next)
			if err != nil {
				return 0, err
			}
			i = valueEnd
		}
		if i >= len(raw) {
			return 0, fmt.Errorf("unterminated dictionary")
		}
		return i + 1, nil
	case c >= '0' && c <= '9':
		_, _, next, err := scanString(raw, i)
		return next, err
	default:
		return 0, fmt.Errorf("invalid type token %q at %d", c, i)
	}
}
