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
	"fmt"
	"sort"
)

// PeerInfo is an endpoint descriptor handed out by the tracker. It is never
// mutated after creation.
type PeerInfo struct {
	IP   string
	Port int
}

// NewPeerInfo creates a new PeerInfo.
func NewPeerInfo(ip string, port int) (*PeerInfo, error) {
	if ip == "" {
		return nil, fmt.Errorf("empty ip")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port %d outside of [1, 65535]", port)
	}
	return &PeerInfo{IP: ip, Port: port}, nil
}

// Addr returns the "ip:port" dial address of the peer.
func (p *PeerInfo) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

func (p *PeerInfo) String() string {
	return p.Addr()
}

// SortedPeerAddrs converts a list of peers into their dial addresses in
// ascending order.
func SortedPeerAddrs(peers []*PeerInfo) []string {
	addrs := make([]string, len(peers))
	for i := range addrs {
		addrs[i] = peers[i].Addr()
	}
	sort.Strings(addrs)
	return addrs
}
