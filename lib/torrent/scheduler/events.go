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
package scheduler

import (
	"time"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/dispatch"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
)

// event describes an external event which modifies state. While the event is
// applying, it is guaranteed to be the only accessor of state.
type event interface {
	apply(*state)
}

// eventLoop represents a serialized list of events to be applied to scheduler
// state.
type eventLoop interface {
	send(event) bool
	sendTimeout(e event, timeout time.Duration) error
	run(*state)
	stop()
}

type baseEventLoop struct {
	events chan event
	done   chan struct{}
}

func newEventLoop() *baseEventLoop {
	return &baseEventLoop{
		events: make(chan event),
		done:   make(chan struct{}),
	}
}

// send sends a new event into l. Should never be called by the same goroutine
// running l (i.e. within apply methods), else deadlock will occur. Returns
// false if l is not running.
func (l *baseEventLoop) send(e event) bool {
	select {
	case l.events <- e:
		return true
	case <-l.done:
		return false
	}
}

func (l *baseEventLoop) sendTimeout(e event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.events <- e:
		return nil
	case <-l.done:
		return ErrSchedulerStopped
	case <-timer.C:
		return ErrSendEventTimedOut
	}
}

func (l *baseEventLoop) run(s *state) {
	for {
		select {
		case e := <-l.events:
			e.apply(s)
		case <-l.done:
			return
		}
	}
}

func (l *baseEventLoop) stop() {
	close(l.done)
}

type liftedEventLoop struct {
	eventLoop
}

// liftEventLoop lifts events from subpackages into an eventLoop.
func liftEventLoop(l eventLoop) *liftedEventLoop {
	return &liftedEventLoop{l}
}

func (l *liftedEventLoop) ConnClosed(c *conn.Conn) {
	l.send(connClosedEvent{c})
}

func (l *liftedEventLoop) DispatcherComplete(d *dispatch.Dispatcher) {
	l.send(dispatcherCompleteEvent{d})
}

func (l *liftedEventLoop) PeerRemoved(peerID core.PeerID, h core.InfoHash) {
	l.send(peerRemovedEvent{peerID, h})
}

// announceResultEvent occurs when a successfully announce returned a list of
// peers.
type announceResultEvent struct {
	peers []*core.PeerInfo
}

func (e announceResultEvent) apply(s *state) {
	var spawned int
	for _, p := range e.peers {
		addr := p.Addr()
		if err := s.conns.AddPending(addr); err != nil {
			s.sched.log("addr", addr).Infof("Skipping peer handout: %s", err)
			continue
		}
		spawned++
		go s.sched.initializeOutgoingHandshake(addr)
	}
	if spawned == 0 {
		s.maybeFailNoUsablePeers()
	}
}

// announceErrEvent occurs when an announce failed terminally.
type announceErrEvent struct {
	err error
}

func (e announceErrEvent) apply(s *state) {
	s.sched.resolve(e.err)
}

// incomingHandshakeEvent occurs when a remote peer opens a connection and its
// handshake has been read.
type incomingHandshakeEvent struct {
	pc *conn.PendingConn
}

func (e incomingHandshakeEvent) apply(s *state) {
	if e.pc.InfoHash() != s.sched.dispatcher.InfoHash() {
		s.sched.log("hash", e.pc.InfoHash()).Info("Rejecting incoming handshake for unknown torrent")
		e.pc.Close()
		return
	}
	if s.conns.Saturated() || s.conns.HasActive(e.pc.PeerID()) {
		e.pc.Close()
		return
	}
	go s.sched.establishIncomingHandshake(e.pc)
}

// outgoingConnEvent occurs when an outgoing handshake completed.
type outgoingConnEvent struct {
	addr string
	c    *conn.Conn
}

func (e outgoingConnEvent) apply(s *state) {
	s.conns.DeletePending(e.addr)
	s.addConn(e.c)
}

// failedOutgoingHandshakeEvent occurs when an outgoing handshake failed.
type failedOutgoingHandshakeEvent struct {
	addr string
}

func (e failedOutgoingHandshakeEvent) apply(s *state) {
	s.conns.DeletePending(e.addr)
	s.conns.Blacklist(e.addr)
	s.maybeRequestMorePeers()
}

// incomingConnEvent occurs when an incoming handshake was reciprocated and
// established.
type incomingConnEvent struct {
	c *conn.Conn
}

func (e incomingConnEvent) apply(s *state) {
	s.addConn(e.c)
}

// connClosedEvent occurs when a connection is closed.
type connClosedEvent struct {
	c *conn.Conn
}

func (e connClosedEvent) apply(s *state) {
	s.conns.DeleteActive(e.c)
	s.maybeRequestMorePeers()
}

// peerRemovedEvent occurs when the dispatcher finished tearing down a peer.
// Connection state is reconciled by connClosedEvent, so there is nothing left
// to do.
type peerRemovedEvent struct {
	peerID core.PeerID
	hash   core.InfoHash
}

func (e peerRemovedEvent) apply(s *state) {}

// dispatcherCompleteEvent occurs when the dispatcher torrent finishes
// downloading.
type dispatcherCompleteEvent struct {
	dispatcher *dispatch.Dispatcher
}

func (e dispatcherCompleteEvent) apply(s *state) {
	s.sched.log().Info("Torrent complete")
	go s.sched.announceEvent(announceclient.EventCompleted)
	s.sched.resolve(nil)
}

// shutdownEvent stops the scheduler.
type shutdownEvent struct{}

func (e shutdownEvent) apply(s *state) {
	s.sched.dispatcher.TearDown()
	s.sched.eventLoop.stop()
	s.sched.resolve(ErrSchedulerStopped)
}
