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
package announceclient

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/utils/httputil"
)

// Event enumerates announce events.
type Event int

const (
	// EventNone omits the event parameter, for periodic re-announces.
	EventNone Event = iota

	// EventStarted announces that the download has started.
	EventStarted

	// EventStopped announces that the client is shutting down.
	EventStopped

	// EventCompleted announces that the download has completed.
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	}
	return ""
}

// TrackerError occurs when the tracker responds with a failure reason.
type TrackerError struct {
	Reason string
}

func (e TrackerError) Error() string {
	return fmt.Sprintf("tracker failure: %s", e.Reason)
}

// IsTrackerError returns true if err is a TrackerError.
func IsTrackerError(err error) bool {
	_, ok := err.(TrackerError)
	return ok
}

// UnreachableError occurs when the tracker cannot be contacted.
type UnreachableError struct {
	err error
}

func (e UnreachableError) Error() string {
	return fmt.Sprintf("tracker unreachable: %s", e.err)
}

// IsUnreachableError returns true if err is an UnreachableError.
func IsUnreachableError(err error) bool {
	_, ok := err.(UnreachableError)
	return ok
}

// Request defines an announce request.
type Request struct {
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// Response defines a parsed announce response.
type Response struct {
	Peers    []*core.PeerInfo
	Interval time.Duration
}

// Client defines a client for announcing and getting peers.
type Client interface {
	Announce(r *Request) (*Response, error)
}

type client struct {
	config   Config
	announce string
	infoHash core.InfoHash
}

// New creates a new Client announcing for the given torrent.
func New(config Config, mi *core.MetaInfo) Client {
	config = config.applyDefaults()
	return &client{config, mi.Announce(), mi.InfoHash()}
}

// Announce issues an HTTP GET announce and parses the returned peer list.
// Both dict form and compact form peer lists are accepted.
func (c *client) Announce(r *Request) (*Response, error) {
	url := c.announce + buildQuery(c.infoHash, r)

	opts := []httputil.SendOption{httputil.SendTimeout(c.config.Timeout)}
	if !c.config.DisableRetry {
		opts = append(opts, httputil.SendRetry())
	}
	httpResp, err := httputil.Get(url, opts...)
	if err != nil {
		if httputil.IsNetworkError(err) {
			return nil, UnreachableError{err}
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := ioutil.ReadAll(httpResp.Body)
	if err != nil {
		return nil, UnreachableError{err}
	}
	resp, err := parseResponse(body)
	if err != nil {
		if IsTrackerError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("parse response: %s", err)
	}
	return resp, nil
}

// buildQuery encodes the announce parameters in a stable order. The two
// binary parameters are percent-encoded byte by byte: any byte outside the
// unreserved set becomes %XX.
func buildQuery(h core.InfoHash, r *Request) string {
	params := []struct {
		key   string
		value string
	}{
		{"info_hash", percentEncode(h.Bytes())},
		{"peer_id", percentEncode(r.PeerID.Bytes())},
		{"port", strconv.Itoa(r.Port)},
		{"uploaded", strconv.FormatInt(r.Uploaded, 10)},
		{"downloaded", strconv.FormatInt(r.Downloaded, 10)},
		{"left", strconv.FormatInt(r.Left, 10)},
	}
	if r.Event != EventNone {
		params = append(params, struct{ key, value string }{"event", r.Event.String()})
	}
	var q strings.Builder
	for i, p := range params {
		if i == 0 {
			q.WriteByte('?')
		} else {
			q.WriteByte('&')
		}
		q.WriteString(p.key)
		q.WriteByte('=')
		q.WriteString(p.value)
	}
	return q.String()
}

func unreserved(b byte) bool {
	return b >= 'A' && b <= 'Z' ||
		b >= 'a' && b <= 'z' ||
		b >= '0' && b <= '9' ||
		b == '-' || b == '_' || b == '.' || b == '~'
}

func percentEncode(raw []byte) string {
	var s strings.Builder
	for _, b := range raw {
		if unreserved(b) {
			s.WriteByte(b)
		} else {
			s.WriteString(fmt.Sprintf("%%%02X", b))
		}
	}
	return s.String()
}

func parseResponse(body []byte) (*Response, error) {
	decoded, err := bencode.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}
	root, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected dictionary, got %T", decoded)
	}
	if reason, ok := root["failure reason"].(string); ok {
		return nil, TrackerError{reason}
	}
	interval, ok := root["interval"].(int64)
	if !ok {
		return nil, fmt.Errorf("missing interval")
	}
	var peers []*core.PeerInfo
	switch v := root["peers"].(type) {
	case []interface{}:
		peers, err = parseDictPeers(v)
	case string:
		peers, err = parseCompactPeers(v)
	default:
		return nil, fmt.Errorf("unexpected peers type %T", v)
	}
	if err != nil {
		return nil, err
	}
	return &Response{
		Peers:    peers,
		Interval: time.Duration(interval) * time.Second,
	}, nil
}

// parseDictPeers parses the dict form peer list: a list of dictionaries with
// ip and port keys.
func parseDictPeers(list []interface{}) ([]*core.PeerInfo, error) {
	var peers []*core.PeerInfo
	for _, e := range list {
		d, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected peer dictionary, got %T", e)
		}
		ip, ok := d["ip"].(string)
		if !ok {
			return nil, fmt.Errorf("peer missing ip")
		}
		port, ok := d["port"].(int64)
		if !ok {
			return nil, fmt.Errorf("peer missing port")
		}
		p, err := core.NewPeerInfo(ip, int(port))
		if err != nil {
			return nil, fmt.Errorf("peer: %s", err)
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// parseCompactPeers parses the compact form peer list: 6-byte records of a
// 4-byte IPv4 address followed by a 2-byte big-endian port.
func parseCompactPeers(s string) ([]*core.PeerInfo, error) {
	raw := []byte(s)
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of 6", len(raw))
	}
	var peers []*core.PeerInfo
	for i := 0; i < len(raw); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", raw[i], raw[i+1], raw[i+2], raw[i+3])
		port := int(binary.BigEndian.Uint16(raw[i+4 : i+6]))
		p, err := core.NewPeerInfo(ip, port)
		if err != nil {
			return nil, fmt.Errorf("peer: %s", err)
		}
		peers = append(peers, p)
	}
	return peers, nil
}
