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
package piecerequest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/utils/syncutil"
)

// Status enumerates possible statuses of a Request.
type Status int

const (
	// StatusPending denotes a valid request which is still in-flight.
	StatusPending Status = iota

	// StatusExpired denotes an in-flight request which has timed out on our end.
	StatusExpired

	// StatusUnsent denotes an unsent request that is safe to retry to the same peer.
	StatusUnsent

	// StatusInvalid denotes a completed request that resulted in an invalid payload.
	StatusInvalid
)

// Block identifies a sub-range of a piece requested on the wire.
type Block struct {
	Piece  int
	Offset int
	Length int
}

func (b Block) String() string {
	return fmt.Sprintf("block(piece=%d, offset=%d, length=%d)", b.Piece, b.Offset, b.Length)
}

// Request represents a block request to a peer.
type Request struct {
	Block  Block
	PeerID core.PeerID
	Status Status

	sentAt time.Time
}

type blockKey struct {
	piece  int
	offset int
}

// Breakdown returns the wire blocks of a piece, in ascending offset order.
type Breakdown func(piece int) []Block

// Manager encapsulates thread-safe block request bookkeeping. A piece is
// reserved for a single peer at a time: all of its blocks are pipelined to
// that peer until the piece completes, fails, or the peer disconnects. It is
// not responsible for sending nor receiving blocks in any way.
type Manager struct {
	sync.RWMutex

	// requests and requestsByPeer hold the same data, just indexed differently.
	requests       map[int][]*Request
	requestsByPeer map[core.PeerID]map[blockKey]*Request

	// reserved holds, per peer and piece, the blocks which have not yet been
	// handed out for sending.
	reserved map[core.PeerID]map[int][]Block

	clock   clock.Clock
	timeout time.Duration

	policy        pieceSelectionPolicy
	pipelineLimit int
}

// NewManager creates a new Manager.
func NewManager(
	clk clock.Clock,
	timeout time.Duration,
	policy string,
	pipelineLimit int) (*Manager, error) {

	m := &Manager{
		requests:       make(map[int][]*Request),
		requestsByPeer: make(map[core.PeerID]map[blockKey]*Request),
		reserved:       make(map[core.PeerID]map[int][]Block),
		clock:          clk,
		timeout:        timeout,
		pipelineLimit:  pipelineLimit,
	}

	switch policy {
	case DefaultPolicy:
		m.policy = newDefaultPolicy()
	case RarestFirstPolicy:
		m.policy = newRarestFirstPolicy()
	default:
		return nil, fmt.Errorf("invalid piece selection policy: %s", policy)
	}
	return m, nil
}

// ReserveBlocks returns the next blocks to be requested from the given peer,
// bounded by the peer's remaining pipeline quota. Blocks of pieces already
// reserved by the peer are continued first; once drained, new pieces are
// selected from candidates per the configured policy and broken down via
// breakdown. If allowDuplicates is set, pieces which are already reserved
// under other peers may be selected.
func (m *Manager) ReserveBlocks(
	peerID core.PeerID,
	candidates *bitset.BitSet,
	numPeersByPiece syncutil.Counters,
	allowDuplicates bool,
	breakdown Breakdown) ([]Block, error) {

	m.Lock()
	defer m.Unlock()

	quota := m.requestQuota(peerID)
	if quota <= 0 {
		return nil, nil
	}

	var blocks []Block
	blocks, quota = m.continueReservedPieces(peerID, quota)

	if quota > 0 {
		valid := func(i int) bool { return m.validPiece(peerID, i, allowDuplicates) }
		pieces, err := m.policy.selectPieces(quota, valid, candidates, numPeersByPiece)
		if err != nil {
			return nil, err
		}
		for _, i := range pieces {
			if quota <= 0 {
				break
			}
			if _, ok := m.reserved[peerID]; !ok {
				m.reserved[peerID] = make(map[int][]Block)
			}
			m.reserved[peerID][i] = breakdown(i)
			var continued []Block
			continued, quota = m.continueReservedPieces(peerID, quota)
			blocks = append(blocks, continued...)
		}
	}

	for _, b := range blocks {
		r := &Request{
			Block:  b,
			PeerID: peerID,
			Status: StatusPending,
			sentAt: m.clock.Now(),
		}
		m.requests[b.Piece] = append(m.requests[b.Piece], r)
		if _, ok := m.requestsByPeer[peerID]; !ok {
			m.requestsByPeer[peerID] = make(map[blockKey]*Request)
		}
		m.requestsByPeer[peerID][blockKey{b.Piece, b.Offset}] = r
	}

	return blocks, nil
}

// continueReservedPieces pops up to quota blocks off the peer's reserved
// piece queues, lowest piece first.
func (m *Manager) continueReservedPieces(
	peerID core.PeerID, quota int) (blocks []Block, remaining int) {

	queues := m.reserved[peerID]
	var pieces []int
	for i := range queues {
		pieces = append(pieces, i)
	}
	sort.Ints(pieces)
	for _, i := range pieces {
		for quota > 0 && len(queues[i]) > 0 {
			blocks = append(blocks, queues[i][0])
			queues[i] = queues[i][1:]
			quota--
		}
		if len(queues[i]) == 0 {
			delete(queues, i)
		}
	}
	if len(queues) == 0 {
		delete(m.reserved, peerID)
	}
	return blocks, quota
}

// MarkReceived settles the pending request for the given block. Returns false
// if no request for the block is outstanding to peerID.
func (m *Manager) MarkReceived(peerID core.PeerID, piece, offset int) bool {
	m.Lock()
	defer m.Unlock()

	pm, ok := m.requestsByPeer[peerID]
	if !ok {
		return false
	}
	k := blockKey{piece, offset}
	r, ok := pm[k]
	if !ok || r.Status != StatusPending {
		return false
	}
	delete(pm, k)
	if len(pm) == 0 {
		delete(m.requestsByPeer, peerID)
	}
	m.deleteRequest(piece, r)
	return true
}

// MarkUnsent marks the request for the given block as unsent.
func (m *Manager) MarkUnsent(peerID core.PeerID, piece, offset int) {
	m.markStatus(peerID, piece, offset, StatusUnsent)
}

// MarkPieceInvalid marks all requests peerID holds for piece as invalid and
// releases the peer's reservation of the piece, returning it to the pool.
func (m *Manager) MarkPieceInvalid(peerID core.PeerID, piece int) {
	m.Lock()
	defer m.Unlock()

	for _, r := range m.requests[piece] {
		if r.PeerID == peerID {
			r.Status = StatusInvalid
		}
	}
	if queues, ok := m.reserved[peerID]; ok {
		delete(queues, piece)
		if len(queues) == 0 {
			delete(m.reserved, peerID)
		}
	}
}

// Clear deletes all piece request state for piece. Should be used for freeing
// up unneeded request bookkeeping once a piece completes.
func (m *Manager) Clear(piece int) {
	m.Lock()
	defer m.Unlock()

	delete(m.requests, piece)

	for peerID, pm := range m.requestsByPeer {
		for k := range pm {
			if k.piece == piece {
				delete(pm, k)
			}
		}
		if len(pm) == 0 {
			delete(m.requestsByPeer, peerID)
		}
	}
	for peerID, queues := range m.reserved {
		delete(queues, piece)
		if len(queues) == 0 {
			delete(m.reserved, peerID)
		}
	}
}

// ClearPeer deletes all block requests and reservations for peerID, returning
// its reserved pieces to the pool.
func (m *Manager) ClearPeer(peerID core.PeerID) {
	m.Lock()
	defer m.Unlock()

	delete(m.requestsByPeer, peerID)
	delete(m.reserved, peerID)

	for i, rs := range m.requests {
		var remaining []*Request
		for _, r := range rs {
			if r.PeerID != peerID {
				remaining = append(remaining, r)
			}
		}
		if len(remaining) == 0 {
			delete(m.requests, i)
		} else {
			m.requests[i] = remaining
		}
	}
}

// PendingPieces returns the pieces for which requests or reservations to
// peerID are outstanding, in sorted order. Intended primarily for testing
// purposes.
func (m *Manager) PendingPieces(peerID core.PeerID) []int {
	m.RLock()
	defer m.RUnlock()

	pieces := make(map[int]bool)
	for k, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending {
			pieces[k.piece] = true
		}
	}
	for i := range m.reserved[peerID] {
		pieces[i] = true
	}
	var sorted []int
	for i := range pieces {
		sorted = append(sorted, i)
	}
	sort.Ints(sorted)
	return sorted
}

// GetFailedRequests returns a copy of all failed block requests.
func (m *Manager) GetFailedRequests() []Request {
	m.RLock()
	defer m.RUnlock()

	var failed []Request
	for _, rs := range m.requests {
		for _, r := range rs {
			status := r.Status
			if status == StatusPending && m.expired(r) {
				status = StatusExpired
			}
			if status != StatusPending {
				failed = append(failed, Request{
					Block:  r.Block,
					PeerID: r.PeerID,
					Status: status,
				})
			}
		}
	}
	return failed
}

// validPiece returns whether piece i may be newly reserved for peerID.
func (m *Manager) validPiece(peerID core.PeerID, i int, allowDuplicates bool) bool {
	for reservedPeer, queues := range m.reserved {
		if _, ok := queues[i]; ok {
			if reservedPeer == peerID || !allowDuplicates {
				return false
			}
		}
	}
	for _, r := range m.requests[i] {
		if r.Status == StatusPending && !m.expired(r) {
			if r.PeerID == peerID {
				return false
			}
			if !allowDuplicates {
				return false
			}
		}
	}
	return true
}

func (m *Manager) requestQuota(peerID core.PeerID) int {
	quota := m.pipelineLimit
	for _, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending && !m.expired(r) {
			quota--
			if quota == 0 {
				break
			}
		}
	}
	return quota
}

func (m *Manager) expired(r *Request) bool {
	expiresAt := r.sentAt.Add(m.timeout)
	return m.clock.Now().After(expiresAt)
}

func (m *Manager) deleteRequest(piece int, target *Request) {
	rs := m.requests[piece]
	for j, r := range rs {
		if r == target {
			rs[j] = rs[len(rs)-1]
			m.requests[piece] = rs[:len(rs)-1]
			break
		}
	}
	if len(m.requests[piece]) == 0 {
		delete(m.requests, piece)
	}
}

func (m *Manager) markStatus(peerID core.PeerID, piece, offset int, s Status) {
	m.Lock()
	defer m.Unlock()

	for _, r := range m.requests[piece] {
		if r.PeerID == peerID && r.Block.Offset == offset {
			r.Status = s
		}
	}
}
