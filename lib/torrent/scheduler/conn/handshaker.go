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
package conn

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
)

// ErrHandshakeRejected occurs when the remote handshake does not carry the
// expected info hash. Fatal for the connection.
var ErrHandshakeRejected = errors.New("handshake rejected: info hash mismatch")

// PendingConn represents a half-open connection initialized by a remote peer:
// its handshake has been read, but not yet reciprocated.
type PendingConn struct {
	handshake *Handshake
	nc        net.Conn
}

// PeerID returns the remote peer id.
func (pc *PendingConn) PeerID() core.PeerID {
	return pc.handshake.PeerID
}

// InfoHash returns the info hash of the torrent the remote peer wants to open.
func (pc *PendingConn) InfoHash() core.InfoHash {
	return pc.handshake.InfoHash
}

// Close closes the connection.
func (pc *PendingConn) Close() {
	pc.nc.Close()
}

// Handshaker defines the handshake protocol for establishing connections to
// other peers.
type Handshaker struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	peerID core.PeerID
	events Events
	logger *zap.SugaredLogger
}

// NewHandshaker creates a new Handshaker.
func NewHandshaker(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	peerID core.PeerID,
	events Events,
	logger *zap.SugaredLogger) *Handshaker {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "conn",
	})

	return &Handshaker{
		config: config,
		stats:  stats,
		clk:    clk,
		peerID: peerID,
		events: events,
		logger: logger,
	}
}

// Accept upgrades a raw network connection opened by a remote peer into a
// PendingConn.
func (h *Handshaker) Accept(nc net.Conn) (*PendingConn, error) {
	hs, err := h.readHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	return &PendingConn{hs, nc}, nil
}

// Establish upgrades a PendingConn returned via Accept into a fully
// established Conn by reciprocating the handshake. Rejects the connection if
// the remote handshake was for a different torrent.
func (h *Handshaker) Establish(pc *PendingConn, info *storage.TorrentInfo) (*Conn, error) {
	if pc.handshake.InfoHash != info.InfoHash() {
		return nil, ErrHandshakeRejected
	}
	if err := h.sendHandshake(pc.nc, info.InfoHash()); err != nil {
		return nil, fmt.Errorf("send handshake: %s", err)
	}
	c, err := h.newConn(pc.nc, pc.handshake.PeerID, info.InfoHash(), true)
	if err != nil {
		return nil, fmt.Errorf("new conn: %s", err)
	}
	return c, nil
}

// Initialize returns a fully established Conn for the given torrent to the
// given address. Sends the local handshake, reads the remote handshake, and
// verifies that both speak for the same torrent.
func (h *Handshaker) Initialize(addr string, info *storage.TorrentInfo) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, h.config.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	c, err := h.fullHandshake(nc, info)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (h *Handshaker) sendHandshake(nc net.Conn, infoHash core.InfoHash) error {
	hs := &Handshake{
		InfoHash: infoHash,
		PeerID:   h.peerID,
	}
	// NOTE: We do not use the clock interface here because the net package
	// uses the system clock when evaluating deadlines.
	if err := nc.SetWriteDeadline(time.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %s", err)
	}
	b := hs.Encode()
	for len(b) > 0 {
		n, err := nc.Write(b)
		if err != nil {
			return fmt.Errorf("write handshake: %s", err)
		}
		b = b[n:]
	}
	return nil
}

func (h *Handshaker) readHandshake(nc net.Conn) (*Handshake, error) {
	if err := nc.SetReadDeadline(time.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %s", err)
	}
	hs, err := DecodeHandshake(nc)
	if err != nil {
		return nil, err
	}
	return hs, nil
}

func (h *Handshaker) fullHandshake(nc net.Conn, info *storage.TorrentInfo) (*Conn, error) {
	if err := h.sendHandshake(nc, info.InfoHash()); err != nil {
		return nil, fmt.Errorf("send handshake: %s", err)
	}
	hs, err := h.readHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	if hs.InfoHash != info.InfoHash() {
		return nil, ErrHandshakeRejected
	}
	c, err := h.newConn(nc, hs.PeerID, info.InfoHash(), false)
	if err != nil {
		return nil, fmt.Errorf("new conn: %s", err)
	}
	return c, nil
}

func (h *Handshaker) newConn(
	nc net.Conn,
	peerID core.PeerID,
	infoHash core.InfoHash,
	openedByRemote bool) (*Conn, error) {

	return newConn(
		h.config,
		h.stats,
		h.clk,
		h.events,
		nc,
		h.peerID,
		peerID,
		infoHash,
		openedByRemote,
		h.logger)
}
