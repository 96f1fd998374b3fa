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
package connstate

import (
	"errors"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
)

// State errors.
var (
	ErrAtCapacity         = errors.New("connection capacity reached")
	ErrConnAlreadyPending = errors.New("conn is already pending")
	ErrConnAlreadyActive  = errors.New("conn is already active")
	ErrAddrBlacklisted    = errors.New("conn addr is blacklisted")
)

type blacklistEntry struct {
	expiration time.Time
}

func (e *blacklistEntry) Blacklisted(now time.Time) bool {
	return e.Remaining(now) > 0
}

func (e *blacklistEntry) Remaining(now time.Time) time.Duration {
	return e.expiration.Sub(now)
}

// State provides connection lifecycle management and enforces connection
// limits. Pending connections are dial addresses which "reserve" connection
// capacity until they are done handshaking; before the handshake completes,
// the remote peer id is unknown, so pending connections and the blacklist are
// keyed by address. Active connections are established connections, keyed by
// the peer id learned during handshake.
//
// Note, State is NOT thread-safe. Synchronization must be provided by the
// client.
type State struct {
	config      Config
	clk         clock.Clock
	localPeerID core.PeerID
	logger      *zap.SugaredLogger

	// Pending conn addresses. These count towards conn capacity.
	pending map[string]bool

	// All active conns, keyed by remote peer id.
	active map[core.PeerID]*conn.Conn

	// All blacklisted addresses. These do not count towards conn capacity.
	blacklist map[string]*blacklistEntry
}

// New creates a new State.
func New(
	config Config,
	clk clock.Clock,
	localPeerID core.PeerID,
	logger *zap.SugaredLogger) *State {

	config = config.applyDefaults()

	return &State{
		config:      config,
		clk:         clk,
		localPeerID: localPeerID,
		logger:      logger,
		pending:     make(map[string]bool),
		blacklist:   make(map[string]*blacklistEntry),
		active:      make(map[core.PeerID]*conn.Conn),
	}
}

// NumPending returns the number of pending connections.
func (s *State) NumPending() int {
	return len(s.pending)
}

// NumActive returns the number of active connections.
func (s *State) NumActive() int {
	return len(s.active)
}

// ActiveConns returns a list of all active connections.
func (s *State) ActiveConns() []*conn.Conn {
	conns := make([]*conn.Conn, 0, len(s.active))
	for _, c := range s.active {
		conns = append(conns, c)
	}
	return conns
}

// Saturated returns true if no capacity remains for new connections.
func (s *State) Saturated() bool {
	return len(s.pending)+len(s.active) >= s.config.MaxOpenConnections
}

// Blacklist blacklists addr for the configured BlacklistDuration.
func (s *State) Blacklist(addr string) {
	if s.config.DisableBlacklist {
		return
	}
	s.blacklist[addr] = &blacklistEntry{s.clk.Now().Add(s.config.BlacklistDuration)}
	s.log("addr", addr).Infof("Connection blacklisted for %s", s.config.BlacklistDuration)
}

// Blacklisted returns true if addr is currently blacklisted.
func (s *State) Blacklisted(addr string) bool {
	e, ok := s.blacklist[addr]
	return ok && e.Blacklisted(s.clk.Now())
}

// AddPending reserves connection capacity for a dial to addr.
func (s *State) AddPending(addr string) error {
	if s.Blacklisted(addr) {
		return ErrAddrBlacklisted
	}
	if s.Saturated() {
		return ErrAtCapacity
	}
	if s.pending[addr] {
		return ErrConnAlreadyPending
	}
	s.pending[addr] = true
	s.log("addr", addr).Info("Added pending conn")
	return nil
}

// DeletePending frees the capacity reserved for addr.
func (s *State) DeletePending(addr string) {
	if !s.pending[addr] {
		return
	}
	delete(s.pending, addr)
	s.log("addr", addr).Info("Deleted pending conn")
}

// AddActive moves a handshaked conn into the active set. The conn's pending
// reservation, if any, must be deleted by the caller. Incoming connections
// never held a reservation, so capacity is re-checked here.
func (s *State) AddActive(c *conn.Conn) error {
	if s.Saturated() {
		return ErrAtCapacity
	}
	if _, ok := s.active[c.PeerID()]; ok {
		return ErrConnAlreadyActive
	}
	s.active[c.PeerID()] = c
	s.log("peer", c.PeerID()).Info("Added active conn")
	return nil
}

// DeleteActive removes c from the active set. No-ops if c is not the
// registered conn for its peer id.
func (s *State) DeleteActive(c *conn.Conn) {
	cur, ok := s.active[c.PeerID()]
	if !ok || cur != c {
		return
	}
	delete(s.active, c.PeerID())
	s.log("peer", c.PeerID()).Info("Deleted active conn")
}

// HasActive returns whether a conn to peerID is active.
func (s *State) HasActive(peerID core.PeerID) bool {
	_, ok := s.active[peerID]
	return ok
}

func (s *State) log(args ...interface{}) *zap.SugaredLogger {
	return s.logger.With(args...)
}
