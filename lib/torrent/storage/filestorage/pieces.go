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
	"fmt"
	"sync"

	"github.com/riptide-p2p/riptide/lib/torrent/storage"
)

type pieceStatus int

const (
	_empty pieceStatus = iota
	_dirty
	_complete
)

// piece assembles incoming blocks for a single piece. Blocks may arrive out
// of order; the piece transitions empty -> dirty on the first block and stays
// dirty until every byte is accounted for.
type piece struct {
	sync.Mutex
	status   pieceStatus
	length   int
	buf      []byte
	blocks   map[int]int // offset -> block length
	received int
}

func newPiece(length int) *piece {
	return &piece{status: _empty, length: length}
}

func (p *piece) complete() bool {
	p.Lock()
	defer p.Unlock()
	return p.status == _complete
}

// writeBlock copies b into the assembly buffer at offset. If the block fills
// the piece, returns the assembled buffer for verification; the piece remains
// dirty until the caller settles it via markComplete or reset.
func (p *piece) writeBlock(offset int, b []byte) ([]byte, error) {
	p.Lock()
	defer p.Unlock()

	if p.status == _complete {
		return nil, storage.ErrPieceComplete
	}
	if offset < 0 || len(b) == 0 || offset+len(b) > p.length {
		return nil, fmt.Errorf(
			"block [%d, %d) out of piece bounds [0, %d)", offset, offset+len(b), p.length)
	}
	if p.status == _empty {
		p.status = _dirty
		p.buf = make([]byte, p.length)
		p.blocks = make(map[int]int)
	}
	for o, n := range p.blocks {
		if offset < o+n && o < offset+len(b) {
			if o == offset && n == len(b) {
				return nil, storage.ErrDuplicateBlock
			}
			return nil, fmt.Errorf(
				"block [%d, %d) overlaps received block [%d, %d)", offset, offset+len(b), o, o+n)
		}
	}
	p.blocks[offset] = len(b)
	p.received += len(b)
	copy(p.buf[offset:], b)

	if p.received == p.length {
		return p.buf, nil
	}
	return nil, nil
}

func (p *piece) markComplete() {
	p.Lock()
	defer p.Unlock()
	p.status = _complete
	p.buf = nil
	p.blocks = nil
	p.received = 0
}

func (p *piece) reset() {
	p.Lock()
	defer p.Unlock()
	p.status = _empty
	p.buf = nil
	p.blocks = nil
	p.received = 0
}
