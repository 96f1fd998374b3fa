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
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"
	"golang.org/x/sync/syncmap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/dispatch/piecerequest"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/utils/syncutil"
)

var (
	errPeerAlreadyDispatched   = errors.New("peer is already dispatched for the torrent")
	errPieceOutOfBounds        = errors.New("piece index out of bounds")
	errRepeatedBitfieldMessage = errors.New("bitfield may only be the first message")
)

// Events defines Dispatcher events.
type Events interface {
	DispatcherComplete(*Dispatcher)
	PeerRemoved(core.PeerID, core.InfoHash)
}

// Messages defines a subset of conn.Conn methods which Dispatcher requires to
// communicate with remote peers.
type Messages interface {
	Send(msg *conn.Message) error
	Receiver() <-chan *conn.Message
	Close()
}

// Dispatcher coordinates torrent state with sending / receiving messages
// between multiple peers. As such, Dispatcher and Torrent have a one-to-one
// relationship, while Dispatcher and Conn have a one-to-many relationship.
type Dispatcher struct {
	config                Config
	stats                 tally.Scope
	clk                   clock.Clock
	createdAt             time.Time
	localPeerID           core.PeerID
	torrent               storage.Torrent
	peers                 syncmap.Map // core.PeerID -> *peer
	peerStats             syncmap.Map // core.PeerID -> *peerStats, persists on peer removal.
	numPeersByPiece       syncutil.Counters
	pieceRequestTimeout   time.Duration
	pieceRequestManager   *piecerequest.Manager
	pendingPiecesDoneOnce sync.Once
	pendingPiecesDone     chan struct{}
	completeOnce          sync.Once
	events                Events
	logger                *zap.SugaredLogger
}

// New creates a new Dispatcher.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	events Events,
	peerID core.PeerID,
	t storage.Torrent,
	logger *zap.SugaredLogger) (*Dispatcher, error) {

	d, err := newDispatcher(config, stats, clk, events, peerID, t, logger)
	if err != nil {
		return nil, err
	}

	// Exits when d.pendingPiecesDone is closed.
	go d.watchPendingPieceRequests()

	if t.Complete() {
		d.complete()
	}

	return d, nil
}

// newDispatcher creates a new Dispatcher with no side-effects for testing
// purposes.
func newDispatcher(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	events Events,
	peerID core.PeerID,
	t storage.Torrent,
	logger *zap.SugaredLogger) (*Dispatcher, error) {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "dispatch",
	})

	pieceRequestTimeout := config.calcPieceRequestTimeout(t.MaxPieceLength())
	pieceRequestManager, err := piecerequest.NewManager(
		clk, pieceRequestTimeout, config.PieceRequestPolicy, config.PipelineLimit)
	if err != nil {
		return nil, fmt.Errorf("piece request manager: %s", err)
	}

	return &Dispatcher{
		config:              config,
		stats:               stats,
		clk:                 clk,
		createdAt:           clk.Now(),
		localPeerID:         peerID,
		torrent:             t,
		numPeersByPiece:     syncutil.NewCounters(t.NumPieces()),
		pieceRequestTimeout: pieceRequestTimeout,
		pieceRequestManager: pieceRequestManager,
		pendingPiecesDone:   make(chan struct{}),
		events:              events,
		logger:              logger,
	}, nil
}

// Name returns the name of the target file.
func (d *Dispatcher) Name() string {
	return d.torrent.Name()
}

// InfoHash returns d's torrent hash.
func (d *Dispatcher) InfoHash() core.InfoHash {
	return d.torrent.InfoHash()
}

// Length returns d's torrent length.
func (d *Dispatcher) Length() int64 {
	return d.torrent.Length()
}

// Stat returns d's TorrentInfo.
func (d *Dispatcher) Stat() *storage.TorrentInfo {
	return d.torrent.Stat()
}

// Complete returns true if d's torrent is complete.
func (d *Dispatcher) Complete() bool {
	return d.torrent.Complete()
}

// BytesDownloaded returns the number of bytes downloaded of d's torrent.
func (d *Dispatcher) BytesDownloaded() int64 {
	return d.torrent.BytesDownloaded()
}

// CreatedAt returns when d was created.
func (d *Dispatcher) CreatedAt() time.Time {
	return d.createdAt
}

// LastGoodPieceReceived returns when d last received a valid and needed piece
// from peerID.
func (d *Dispatcher) LastGoodPieceReceived(peerID core.PeerID) time.Time {
	v, ok := d.peers.Load(peerID)
	if !ok {
		return time.Time{}
	}
	return v.(*peer).getLastGoodPieceReceived()
}

// LastPieceSent returns when d last sent a piece to peerID.
func (d *Dispatcher) LastPieceSent(peerID core.PeerID) time.Time {
	v, ok := d.peers.Load(peerID)
	if !ok {
		return time.Time{}
	}
	return v.(*peer).getLastPieceSent()
}

// Empty returns true if the Dispatcher has no peers.
func (d *Dispatcher) Empty() bool {
	empty := true
	d.peers.Range(func(k, v interface{}) bool {
		empty = false
		return false
	})
	return empty
}

// NumPeers returns the number of peers connected to the dispatcher.
func (d *Dispatcher) NumPeers() int {
	var n int
	d.peers.Range(func(k, v interface{}) bool {
		n++
		return true
	})
	return n
}

// AddPeer registers a new peer with the Dispatcher. The remote bitfield
// arrives as the peer's first message, if at all, so the peer starts with no
// pieces. Our own bitfield is sent if and only if at least one bit is set.
func (d *Dispatcher) AddPeer(peerID core.PeerID, messages Messages) error {
	p, err := d.addPeer(peerID, messages)
	if err != nil {
		return err
	}
	if b := d.torrent.Bitfield(); b.Any() {
		p.messages.Send(conn.NewBitfieldMessage(b, d.torrent.NumPieces()))
	}
	go d.feed(p)
	return nil
}

// addPeer creates and inserts a new peer into the Dispatcher. Split from
// AddPeer with no goroutine side-effects for testing purposes.
func (d *Dispatcher) addPeer(peerID core.PeerID, messages Messages) (*peer, error) {
	pstats := &peerStats{}
	if s, ok := d.peerStats.LoadOrStore(peerID, pstats); ok {
		pstats = s.(*peerStats)
	}

	p := newPeer(peerID, bitset.New(uint(d.torrent.NumPieces())), messages, d.clk, pstats)
	if _, ok := d.peers.LoadOrStore(peerID, p); ok {
		return nil, errPeerAlreadyDispatched
	}
	return p, nil
}

func (d *Dispatcher) removePeer(p *peer) {
	d.peers.Delete(p.id)
	d.pieceRequestManager.ClearPeer(p.id)

	for _, i := range p.bitfield.GetAllSet() {
		d.numPeersByPiece.Decrement(int(i))
	}
}

// TearDown closes all Dispatcher connections.
func (d *Dispatcher) TearDown() {
	d.pendingPiecesDoneOnce.Do(func() {
		close(d.pendingPiecesDone)
	})

	d.peers.Range(func(k, v interface{}) bool {
		p := v.(*peer)
		d.log("peer", p).Info("Dispatcher teardown closing connection")
		p.messages.Close()
		return true
	})
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher(%s)", d.torrent)
}

func (d *Dispatcher) complete() {
	d.completeOnce.Do(func() { go d.events.DispatcherComplete(d) })
	d.pendingPiecesDoneOnce.Do(func() { close(d.pendingPiecesDone) })

	d.peers.Range(func(k, v interface{}) bool {
		p := v.(*peer)
		if p.bitfield.Complete() {
			// Close connections to other completed peers since those
			// connections are now useless.
			d.log("peer", p).Info("Closing connection to completed peer")
			p.messages.Close()
		} else if p.getAmInterested() {
			// We need nothing further from any peer.
			p.setAmInterested(false)
			p.messages.Send(conn.NewNotInterestedMessage())
		}
		return true
	})
}

func (d *Dispatcher) endgame() bool {
	if d.config.DisableEndgame {
		return false
	}
	remaining := d.torrent.NumPieces() - int(d.torrent.Bitfield().Count())
	return remaining <= d.config.EndgameThreshold
}

// blocks returns the wire block breakdown of piece i, in ascending offset
// order.
func (d *Dispatcher) blocks(i int) []piecerequest.Block {
	length := int(d.torrent.PieceLength(i))
	var blocks []piecerequest.Block
	for offset := 0; offset < length; offset += d.config.BlockSize {
		n := d.config.BlockSize
		if offset+n > length {
			n = length - offset
		}
		blocks = append(blocks, piecerequest.Block{Piece: i, Offset: offset, Length: n})
	}
	return blocks
}

// maybeUpdateInterest flips our interest flag towards p based on whether p
// has any pieces we are missing, notifying p of the transition.
func (d *Dispatcher) maybeUpdateInterest(p *peer) {
	needed := p.bitfield.Intersection(d.torrent.Bitfield().Complement()).Any() &&
		!d.torrent.Complete()
	if needed && !p.getAmInterested() {
		p.setAmInterested(true)
		p.messages.Send(conn.NewInterestedMessage())
	} else if !needed && p.getAmInterested() {
		p.setAmInterested(false)
		p.messages.Send(conn.NewNotInterestedMessage())
	}
}

// maybeRequestMoreBlocks pumps block requests to p while we are interested,
// p is not choking us, and p's pipeline has quota. Requests are never issued
// to a peer which we have observed choking us until its next unchoke.
func (d *Dispatcher) maybeRequestMoreBlocks(p *peer) (bool, error) {
	if !p.getAmInterested() || p.getPeerChoking() {
		return false, nil
	}
	candidates := p.bitfield.Intersection(d.torrent.Bitfield().Complement())
	return d.maybeSendBlockRequests(p, candidates)
}

func (d *Dispatcher) maybeSendBlockRequests(
	p *peer, candidates *bitset.BitSet) (bool, error) {

	blocks, err := d.pieceRequestManager.ReserveBlocks(
		p.id, candidates, d.numPeersByPiece, d.endgame(), d.blocks)
	if err != nil {
		return false, err
	}
	if len(blocks) == 0 {
		return false, nil
	}
	for _, b := range blocks {
		msg := conn.NewRequestMessage(b.Piece, b.Offset, b.Length)
		if err := p.messages.Send(msg); err != nil {
			// Connection closed.
			d.pieceRequestManager.MarkUnsent(p.id, b.Piece, b.Offset)
			return false, err
		}
		p.pstats.incrementBlockRequestsSent()
	}
	return true, nil
}

func (d *Dispatcher) resendFailedPieceRequests() {
	failedRequests := d.pieceRequestManager.GetFailedRequests()
	if len(failedRequests) > 0 {
		d.log().Infof("Resending %d failed block requests", len(failedRequests))
		d.stats.Counter("piece_request_failures").Inc(int64(len(failedRequests)))
	}

	var sent int
	for _, r := range failedRequests {
		d.peers.Range(func(k, v interface{}) bool {
			p := v.(*peer)
			if (r.Status == piecerequest.StatusExpired || r.Status == piecerequest.StatusInvalid) &&
				r.PeerID == p.id {
				// Do not resend to the same peer for expired or invalid requests.
				return true
			}
			if !p.getAmInterested() || p.getPeerChoking() {
				return true
			}
			b := d.torrent.Bitfield()
			candidates := p.bitfield.Intersection(b.Complement())
			if candidates.Test(uint(r.Block.Piece)) {
				nb := bitset.New(b.Len()).Set(uint(r.Block.Piece))
				if ok, err := d.maybeSendBlockRequests(p, nb); ok && err == nil {
					sent++
					return false
				}
			}
			return true
		})
	}

	unsent := len(failedRequests) - sent
	if unsent > 0 {
		d.log().Infof("Nowhere to resend %d / %d failed block requests", unsent, len(failedRequests))
	}
}

func (d *Dispatcher) watchPendingPieceRequests() {
	for {
		select {
		case <-d.clk.After(d.pieceRequestTimeout / 2):
			d.resendFailedPieceRequests()
		case <-d.pendingPiecesDone:
			return
		}
	}
}

// feed reads off of peer and handles incoming messages. When peer's messages
// close, the feed goroutine removes peer from the Dispatcher and exits.
func (d *Dispatcher) feed(p *peer) {
	for msg := range p.messages.Receiver() {
		if err := d.dispatch(p, msg); err != nil {
			d.log("peer", p).Errorf("Error dispatching message: %s", err)
		}
	}
	d.removePeer(p)
	d.events.PeerRemoved(p.id, d.torrent.InfoHash())
}

func (d *Dispatcher) dispatch(p *peer, msg *conn.Message) error {
	first := p.touchFirstMessage()

	switch msg.ID {
	case conn.MessageChoke:
		d.handleChoke(p)
	case conn.MessageUnchoke:
		d.handleUnchoke(p)
	case conn.MessageInterested:
		d.handleInterested(p)
	case conn.MessageNotInterested:
		d.handleNotInterested(p)
	case conn.MessageHave:
		return d.handleHave(p, msg)
	case conn.MessageBitfield:
		if first {
			// A bitfield after the first message is a protocol error.
			p.messages.Close()
			return errRepeatedBitfieldMessage
		}
		return d.handleBitfield(p, msg)
	case conn.MessageRequest:
		return d.handleRequest(p, msg)
	case conn.MessagePiece:
		return d.handlePiece(p, msg)
	case conn.MessageCancel:
		d.handleCancel(p, msg)
	case conn.MessagePort:
		// DHT is unsupported; ignore.
	default:
		// Unknown ids from future protocol extensions are skipped rather
		// than fatal.
		d.log("peer", p).Infof("Ignoring unknown message id %s", msg.ID)
	}
	return nil
}

// handleChoke processes a choke from p. All outstanding requests to p are
// cancelled and their pieces returned to the unassigned pool.
func (d *Dispatcher) handleChoke(p *peer) {
	p.setPeerChoking(true)
	d.pieceRequestManager.ClearPeer(p.id)
}

func (d *Dispatcher) handleUnchoke(p *peer) {
	p.setPeerChoking(false)
	d.maybeRequestMoreBlocks(p)
}

// handleInterested processes an interest declaration from p. Interested peers
// are immediately unchoked: no upload slot management is performed.
func (d *Dispatcher) handleInterested(p *peer) {
	p.setPeerInterested(true)
	if p.getAmChoking() {
		p.setAmChoking(false)
		p.messages.Send(conn.NewUnchokeMessage())
	}
}

func (d *Dispatcher) handleNotInterested(p *peer) {
	p.setPeerInterested(false)
}

func (d *Dispatcher) handleHave(p *peer, msg *conn.Message) error {
	i, err := msg.Have()
	if err != nil {
		return err
	}
	if i >= d.torrent.NumPieces() {
		return errPieceOutOfBounds
	}
	if !p.bitfield.Has(uint(i)) {
		p.bitfield.Set(uint(i), true)
		d.numPeersByPiece.Increment(i)
	}
	d.maybeUpdateInterest(p)
	d.maybeRequestMoreBlocks(p)
	return nil
}

func (d *Dispatcher) handleBitfield(p *peer, msg *conn.Message) error {
	b, err := msg.Bitfield(d.torrent.NumPieces())
	if err != nil {
		return err
	}
	p.bitfield.Replace(b)
	for _, i := range p.bitfield.GetAllSet() {
		d.numPeersByPiece.Increment(int(i))
	}
	d.maybeUpdateInterest(p)
	d.maybeRequestMoreBlocks(p)
	return nil
}

// handleRequest serves a block to p. Requests are quietly ignored unless the
// piece is held locally, p has been unchoked, and the length is within the
// sanity cap.
func (d *Dispatcher) handleRequest(p *peer, msg *conn.Message) error {
	i, offset, length, err := msg.Request()
	if err != nil {
		return err
	}
	p.pstats.incrementPieceRequestsReceived()

	if p.getAmChoking() || uint64(length) > conn.MaxBlockSize || !d.torrent.HasPiece(i) {
		d.log("peer", p, "piece", i).Info("Ignoring unserviceable block request")
		return nil
	}
	pr, err := d.torrent.GetBlockReader(i, offset, length)
	if err != nil {
		d.log("peer", p, "piece", i).Infof("Error getting reader for requested block: %s", err)
		return nil
	}
	resp, err := conn.NewPieceMessage(i, offset, pr)
	if err != nil {
		return fmt.Errorf("new piece message: %s", err)
	}
	if err := p.messages.Send(resp); err != nil {
		return nil
	}
	p.touchLastPieceSent()
	p.pstats.incrementPiecesSent()
	return nil
}

func (d *Dispatcher) handlePiece(p *peer, msg *conn.Message) error {
	i, offset, block, err := msg.Piece()
	if err != nil {
		return err
	}
	if i >= d.torrent.NumPieces() {
		return errPieceOutOfBounds
	}
	if !d.pieceRequestManager.MarkReceived(p.id, i, offset) {
		// A block we never asked this peer for. Possibly a late delivery for
		// an expired request; discard it.
		d.stats.Counter("unexpected_blocks").Inc(1)
		return nil
	}
	if err := d.torrent.WriteBlock(i, offset, block); err != nil {
		if err == storage.ErrPieceComplete || err == storage.ErrDuplicateBlock {
			p.pstats.incrementDuplicatePiecesReceived()
			return nil
		}
		if storage.IsPieceChecksumError(err) {
			// The piece is returned to the pool; the offending peer is
			// disconnected and may not serve it again until reconnect.
			d.stats.Counter("piece_checksum_failures").Inc(1)
			d.pieceRequestManager.MarkPieceInvalid(p.id, i)
			d.log("peer", p, "piece", i).Errorf("Disconnecting peer: %s", err)
			p.messages.Close()
			return nil
		}
		d.pieceRequestManager.MarkPieceInvalid(p.id, i)
		return fmt.Errorf("write block: %s", err)
	}

	p.pstats.incrementGoodPiecesReceived()
	p.touchLastGoodPieceReceived()

	if d.torrent.HasPiece(i) {
		d.pieceRequestManager.Clear(i)
		d.stats.Counter("pieces_downloaded").Inc(1)

		// Announce the completed piece to every other peer.
		d.peers.Range(func(k, v interface{}) bool {
			if k.(core.PeerID) == p.id {
				return true
			}
			pp := v.(*peer)
			pp.messages.Send(conn.NewHaveMessage(i))
			d.maybeUpdateInterest(pp)
			return true
		})
	}

	if d.torrent.Complete() {
		d.complete()
	}

	d.maybeUpdateInterest(p)
	d.maybeRequestMoreBlocks(p)
	return nil
}

// handleCancel noops. All received messages are processed synchronously, so
// by the time a cancel arrives the corresponding block has already been
// queued or sent.
func (d *Dispatcher) handleCancel(p *peer, msg *conn.Message) {}

func (d *Dispatcher) log(args ...interface{}) *zap.SugaredLogger {
	args = append(args, "torrent", d.torrent)
	return d.logger.With(args...)
}
