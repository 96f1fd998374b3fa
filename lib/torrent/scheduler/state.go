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
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/connstate"
)

// state is a superset of Scheduler, which includes protected state which can
// only be accessed from the event loop. state is free to access Scheduler
// fields and methods, however Scheduler has no reference to state.
//
// Any network I/O, such as opening connections, does not belong at the state
// level. These operations should be defined as Scheduler methods, and
// executed from a separate goroutine when calling from the event loop.
// Results from I/O may transform state by sending events into the event loop.
type state struct {
	sched *Scheduler

	// Protected state.
	conns *connstate.State
}

func newState(s *Scheduler) *state {
	return &state{
		sched: s,
		conns: connstate.New(s.config.ConnState, s.clock, s.peerID, s.logger),
	}
}

// addConn activates an established conn and hands it to the dispatcher.
func (s *state) addConn(c *conn.Conn) {
	if c.PeerID() == s.sched.peerID {
		// We dialed ourselves through a tracker handout.
		s.sched.log().Info("Closing self-connection")
		c.Close()
		return
	}
	if err := s.conns.AddActive(c); err != nil {
		s.sched.log("peer", c.PeerID()).Infof("Closing conn: %s", err)
		c.Close()
		return
	}
	if err := s.sched.dispatcher.AddPeer(c.PeerID(), c); err != nil {
		s.sched.log("peer", c.PeerID()).Infof("Closing conn: %s", err)
		s.conns.DeleteActive(c)
		c.Close()
		return
	}
	c.Start()
}

// maybeRequestMorePeers triggers an immediate re-announce once the last
// connection is gone and the torrent is still incomplete.
func (s *state) maybeRequestMorePeers() {
	if s.idle() && !s.sched.dispatcher.Complete() {
		select {
		case s.sched.announceNow <- struct{}{}:
		default:
		}
	}
}

// maybeFailNoUsablePeers fails the download if an announce yielded no usable
// peers while no connections remain.
func (s *state) maybeFailNoUsablePeers() {
	if s.idle() && !s.sched.dispatcher.Complete() {
		s.sched.resolve(ErrNoUsablePeers)
	}
}

func (s *state) idle() bool {
	return s.conns.NumActive() == 0 && s.conns.NumPending() == 0
}
