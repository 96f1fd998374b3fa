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
	"bytes"
	"fmt"
	"io"

	"github.com/riptide-p2p/riptide/core"
)

// protocolName identifies the peer wire protocol in handshakes.
const protocolName = "BitTorrent protocol"

// handshakeLength is the fixed wire length of a handshake:
// <pstrlen><pstr><8 reserved><info hash><peer id>.
const handshakeLength = 1 + len(protocolName) + 8 + 20 + 20

// Handshake is the fixed-size greeting exchanged before any framed messages.
// It is encoded and decoded as raw bytes; any textual escaping is a bug.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

func (h *Handshake) String() string {
	return fmt.Sprintf("Handshake(hash=%s, peer=%s)", h.InfoHash, h.PeerID)
}

// Encode converts h into its 68-byte wire form. The reserved bytes are always
// zero: no extensions are advertised.
func (h *Handshake) Encode() []byte {
	b := make([]byte, handshakeLength)
	b[0] = byte(len(protocolName))
	copy(b[1:], protocolName)
	copy(b[1+len(protocolName)+8:], h.InfoHash.Bytes())
	copy(b[1+len(protocolName)+8+20:], h.PeerID.Bytes())
	return b
}

// DecodeHandshake reads exactly 68 bytes from r and parses them into a
// Handshake.
func DecodeHandshake(r io.Reader) (*Handshake, error) {
	b := make([]byte, handshakeLength)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	if b[0] != byte(len(protocolName)) {
		return nil, fmt.Errorf("invalid protocol name length %d", b[0])
	}
	if !bytes.Equal(b[1:1+len(protocolName)], []byte(protocolName)) {
		return nil, fmt.Errorf("invalid protocol name %q", b[1:1+len(protocolName)])
	}
	var h Handshake
	copy(h.InfoHash[:], b[1+len(protocolName)+8:])
	copy(h.PeerID[:], b[1+len(protocolName)+8+20:])
	return &h, nil
}
