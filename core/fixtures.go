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

	"github.com/riptide-p2p/riptide/utils/randutil"
)

// TorrentFixture joins all information associated with a torrent for testing
// convenience.
type TorrentFixture struct {
	Content  []byte
	Raw      []byte
	MetaInfo *MetaInfo
}

// NumPieces returns the number of pieces of the fixture torrent.
func (f *TorrentFixture) NumPieces() int {
	return f.MetaInfo.NumPieces()
}

// Piece returns the content of piece i.
func (f *TorrentFixture) Piece(i int) []byte {
	start := int64(i) * f.MetaInfo.PieceLength()
	end := start + f.MetaInfo.GetPieceLength(i)
	return f.Content[start:end]
}

// CustomTorrentFixture creates a TorrentFixture with custom content, name and
// announce URL.
func CustomTorrentFixture(
	content []byte, name, announce string, pieceLength uint64) *TorrentFixture {

	var pieces []byte
	for start := 0; start < len(content); start += int(pieceLength) {
		end := start + int(pieceLength)
		if end > len(content) {
			end = len(content)
		}
		sum := sha1.Sum(content[start:end])
		pieces = append(pieces, sum[:]...)
	}
	file := metainfoFile{
		Announce: announce,
		Info: info{
			Pieces:      string(pieces),
			PieceLength: int64(pieceLength),
			Length:      int64(len(content)),
			Name:        name,
		},
	}
	var b bytes.Buffer
	if err := bencode.Marshal(&b, file); err != nil {
		panic(err)
	}
	mi, err := DecodeMetaInfo(b.Bytes())
	if err != nil {
		panic(err)
	}
	return &TorrentFixture{
		Content:  content,
		Raw:      b.Bytes(),
		MetaInfo: mi,
	}
}

// SizedTorrentFixture creates a randomly generated TorrentFixture of given
// size with given piece lengths.
func SizedTorrentFixture(size, pieceLength uint64) *TorrentFixture {
	name := fmt.Sprintf("torrent_%x", randutil.Blob(4))
	return CustomTorrentFixture(
		randutil.Text(size), name, "http://localhost:8080/announce", pieceLength)
}

// NewTorrentFixture creates a randomly generated TorrentFixture.
func NewTorrentFixture() *TorrentFixture {
	return SizedTorrentFixture(256, 64)
}

// MetaInfoFixture returns a randomly generated MetaInfo.
func MetaInfoFixture() *MetaInfo {
	return NewTorrentFixture().MetaInfo
}

// InfoHashFixture returns a randomly generated InfoHash.
func InfoHashFixture() InfoHash {
	return MetaInfoFixture().InfoHash()
}

// PeerIDFixture returns a randomly generated PeerID.
func PeerIDFixture() PeerID {
	p, err := RandomPeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// PeerInfoFixture returns a randomly generated PeerInfo.
func PeerInfoFixture() *PeerInfo {
	p, err := NewPeerInfo(randutil.IP(), randutil.Port())
	if err != nil {
		panic(err)
	}
	return p
}
