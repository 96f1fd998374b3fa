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
package filestorage

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/lib/torrent/storage/piecereader"
)

var errPieceNotComplete = fmt.Errorf("piece not complete")

// Torrent implements storage.Torrent on top of a single positionally written
// file. Blocks are assembled in memory per piece, verified against the
// metainfo piece digest, and committed to the file at offset
// piece * piece_length. There is no resume: creating a Torrent truncates any
// previous download of the same name.
type Torrent struct {
	mi          *core.MetaInfo
	f           *os.File
	pieces      []*piece
	numComplete *atomic.Int32
}

// NewTorrent creates a new Torrent downloading into dir.
func NewTorrent(dir string, mi *core.MetaInfo) (*Torrent, error) {
	name := filepath.Base(mi.Name())
	f, err := os.OpenFile(
		filepath.Join(dir, name), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open download file: %s", err)
	}
	pieces := make([]*piece, mi.NumPieces())
	for i := range pieces {
		pieces[i] = newPiece(int(mi.GetPieceLength(i)))
	}
	return &Torrent{
		mi:          mi,
		f:           f,
		pieces:      pieces,
		numComplete: atomic.NewInt32(0),
	}, nil
}

// Close releases the underlying file handle.
func (t *Torrent) Close() error {
	return t.f.Close()
}

// Name returns the file name the torrent downloads to.
func (t *Torrent) Name() string {
	return t.mi.Name()
}

// Stat returns the storage.TorrentInfo for t.
func (t *Torrent) Stat() *storage.TorrentInfo {
	return storage.NewTorrentInfo(t.mi, t.Bitfield())
}

// InfoHash returns the torrent metainfo hash.
func (t *Torrent) InfoHash() core.InfoHash {
	return t.mi.InfoHash()
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int {
	return len(t.pieces)
}

// Length returns the length of the target file.
func (t *Torrent) Length() int64 {
	return t.mi.Length()
}

// PieceLength returns the length of piece pi.
func (t *Torrent) PieceLength(pi int) int64 {
	return t.mi.GetPieceLength(pi)
}

// MaxPieceLength returns the longest piece length of the torrent.
func (t *Torrent) MaxPieceLength() int64 {
	return t.mi.PieceLength()
}

// Complete indicates whether every piece has been verified and committed.
func (t *Torrent) Complete() bool {
	return int(t.numComplete.Load()) == len(t.pieces)
}

// BytesDownloaded returns an estimate of the number of bytes downloaded in
// the torrent.
func (t *Torrent) BytesDownloaded() int64 {
	n := int64(t.numComplete.Load()) * t.mi.PieceLength()
	if n > t.mi.Length() {
		return t.mi.Length()
	}
	return n
}

// Bitfield returns the bitfield of pieces where true denotes a complete piece
// and false denotes an incomplete piece.
func (t *Torrent) Bitfield() *bitset.BitSet {
	bitfield := bitset.New(uint(len(t.pieces)))
	for i, p := range t.pieces {
		if p.complete() {
			bitfield.Set(uint(i))
		}
	}
	return bitfield
}

func (t *Torrent) String() string {
	downloaded := int(float64(t.BytesDownloaded()) / float64(t.mi.Length()) * 100)
	return fmt.Sprintf(
		"torrent(name=%s, hash=%s, downloaded=%d%%)",
		t.Name(), t.InfoHash().Hex(), downloaded)
}

// HasPiece returns whether piece pi is complete.
func (t *Torrent) HasPiece(pi int) bool {
	if pi < 0 || pi >= len(t.pieces) {
		return false
	}
	return t.pieces[pi].complete()
}

// MissingPieces returns the indices of all incomplete pieces.
func (t *Torrent) MissingPieces() []int {
	var missing []int
	for i, p := range t.pieces {
		if !p.complete() {
			missing = append(missing, i)
		}
	}
	return missing
}

func (t *Torrent) getPiece(pi int) (*piece, error) {
	if pi < 0 || pi >= len(t.pieces) {
		return nil, fmt.Errorf("invalid piece index %d: num pieces = %d", pi, len(t.pieces))
	}
	return t.pieces[pi], nil
}

// WriteBlock writes block b at the given piece offset. When the block
// completes the piece, the piece is verified against the metainfo digest: on
// match it is committed to the file, on mismatch the piece is reset and a
// PieceChecksumError is returned.
func (t *Torrent) WriteBlock(pi, offset int, b []byte) error {
	p, err := t.getPiece(pi)
	if err != nil {
		return err
	}
	assembled, err := p.writeBlock(offset, b)
	if err != nil {
		return err
	}
	if assembled == nil {
		// Piece still has blocks outstanding.
		return nil
	}
	if sha1.Sum(assembled) != t.mi.PieceHash(pi) {
		p.reset()
		return storage.PieceChecksumError{Piece: pi}
	}
	if _, err := t.f.WriteAt(assembled, int64(pi)*t.mi.PieceLength()); err != nil {
		p.reset()
		return fmt.Errorf("write piece %d: %s", pi, err)
	}
	p.markComplete()
	t.numComplete.Inc()
	return nil
}

// GetBlockReader returns a reader over the given block of a complete piece.
func (t *Torrent) GetBlockReader(pi, offset, length int) (storage.PieceReader, error) {
	p, err := t.getPiece(pi)
	if err != nil {
		return nil, err
	}
	if !p.complete() {
		return nil, errPieceNotComplete
	}
	if offset < 0 || length <= 0 || int64(offset+length) > t.mi.GetPieceLength(pi) {
		return nil, fmt.Errorf(
			"block [%d, %d) out of piece bounds [0, %d)",
			offset, offset+length, t.mi.GetPieceLength(pi))
	}
	start := int64(pi)*t.mi.PieceLength() + int64(offset)
	return piecereader.NewFileReader(t.f, start, int64(length)), nil
}
