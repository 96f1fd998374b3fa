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
package storage

import (
	"errors"
	"io"

	"github.com/willf/bitset"

	"github.com/riptide-p2p/riptide/core"
)

// ErrPieceComplete occurs when a block is written to a piece which is already
// complete.
var ErrPieceComplete = errors.New("piece is already complete")

// ErrDuplicateBlock occurs when a block is written to an offset which already
// holds data for an in-flight piece.
var ErrDuplicateBlock = errors.New("block is already written")

// PieceReader defines operations for lazy piece reading.
type PieceReader interface {
	io.ReadCloser
	Length() int
}

// Torrent represents a read/write interface for a torrent. Blocks may be
// written concurrently for distinct pieces; pieces are verified against their
// expected digests before being committed.
type Torrent interface {
	Name() string
	Stat() *TorrentInfo
	NumPieces() int
	Length() int64
	PieceLength(piece int) int64
	MaxPieceLength() int64
	InfoHash() core.InfoHash
	Complete() bool
	BytesDownloaded() int64
	Bitfield() *bitset.BitSet
	String() string
	HasPiece(piece int) bool
	MissingPieces() []int
	WriteBlock(piece, offset int, b []byte) error
	GetBlockReader(piece, offset, length int) (PieceReader, error)
}
