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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riptide-p2p/riptide/core"
)

func requestFixture() *Request {
	peerID, err := core.NewPeerIDFromBytes([]byte("-TR2940-k8hj0wgej6ch"))
	if err != nil {
		panic(err)
	}
	return &Request{
		PeerID:     peerID,
		Port:       8000,
		Uploaded:   0,
		Downloaded: 0,
		Left:       100,
		Event:      EventStarted,
	}
}

func TestBuildQueryPercentEncodesBinaryParams(t *testing.T) {
	require := require.New(t)

	infoHash, err := core.NewInfoHashFromHex("ff0c2d000102030a09154e7be7227a633864ff22")
	require.NoError(err)

	q := buildQuery(infoHash, requestFixture())

	require.Equal(
		"?info_hash=%FF%0C-%00%01%02%03%0A%09%15N%7B%E7%22zc8d%FF%22"+
			"&peer_id=-TR2940-k8hj0wgej6ch"+
			"&port=8000&uploaded=0&downloaded=0&left=100&event=started",
		q)
}

func TestBuildQueryOmitsEmptyEvent(t *testing.T) {
	require := require.New(t)

	r := requestFixture()
	r.Event = EventNone
	q := buildQuery(core.InfoHashFixture(), r)

	require.NotContains(q, "event=")
}

func newTestClient(announce string, handler http.HandlerFunc) (Client, func()) {
	s := httptest.NewServer(handler)
	f := core.CustomTorrentFixture(
		[]byte("xx"), "blob", s.URL+announce, 2)
	c := New(Config{Timeout: 5 * time.Second, DisableRetry: true}, f.MetaInfo)
	return c, s.Close
}

func TestAnnounceDictFormPeers(t *testing.T) {
	require := require.New(t)

	resp := "d8:intervali1800e5:peers" +
		"ld2:ip9:127.0.0.14:porti4001eed2:ip8:10.0.0.24:porti4002eee" +
		"e"
	c, stop := newTestClient("/announce", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(r.URL.RawQuery, "info_hash=")
		require.Contains(r.URL.RawQuery, "event=started")
		fmt.Fprint(w, resp)
	})
	defer stop()

	result, err := c.Announce(requestFixture())
	require.NoError(err)
	require.Equal(30*time.Minute, result.Interval)
	require.Len(result.Peers, 2)
	require.Equal("127.0.0.1:4001", result.Peers[0].Addr())
	require.Equal("10.0.0.2:4002", result.Peers[1].Addr())
}

func TestAnnounceCompactFormPeers(t *testing.T) {
	require := require.New(t)

	compact := string([]byte{127, 0, 0, 1, 0x0f, 0xa1, 10, 0, 0, 2, 0x0f, 0xa2})
	resp := fmt.Sprintf("d8:intervali900e5:peers%d:%se", len(compact), compact)
	c, stop := newTestClient("/announce", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resp)
	})
	defer stop()

	result, err := c.Announce(requestFixture())
	require.NoError(err)
	require.Equal(15*time.Minute, result.Interval)
	require.Len(result.Peers, 2)
	require.Equal("127.0.0.1:4001", result.Peers[0].Addr())
	require.Equal("10.0.0.2:4002", result.Peers[1].Addr())
}

func TestAnnounceFailureReason(t *testing.T) {
	require := require.New(t)

	c, stop := newTestClient("/announce", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "d14:failure reason15:unknown torrente")
	})
	defer stop()

	_, err := c.Announce(requestFixture())
	require.Error(err)
	require.True(IsTrackerError(err))
	require.Contains(err.Error(), "unknown torrent")
}

func TestAnnounceMalformedResponses(t *testing.T) {
	tests := []struct {
		description string
		body        string
	}{
		{"not bencode", "certainly not bencode"},
		{"not a dictionary", "i42e"},
		{"missing interval", "d5:peerslee"},
		{"bad compact length", "d8:intervali900e5:peers5:aaaaae"},
		{"bad peer type", "d8:intervali900e5:peersli42eee"},
	}
	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			c, stop := newTestClient("/announce", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, test.body)
			})
			defer stop()

			_, err := c.Announce(requestFixture())
			require.Error(t, err)
			require.False(t, IsTrackerError(err))
		})
	}
}

func TestAnnounceUnreachableTracker(t *testing.T) {
	require := require.New(t)

	f := core.CustomTorrentFixture([]byte("xx"), "blob", "http://127.0.0.1:1/announce", 2)
	c := New(Config{Timeout: time.Second, DisableRetry: true}, f.MetaInfo)

	_, err := c.Announce(requestFixture())
	require.Error(err)
	require.True(IsUnreachableError(err))
}
