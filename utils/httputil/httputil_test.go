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
package httputil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/require"
)

func TestSendAcceptsOKByDefault(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	}))
	defer s.Close()

	resp, err := Get(s.URL)
	require.NoError(err)
	resp.Body.Close()
}

func TestSendStatusError(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer s.Close()

	_, err := Get(s.URL)
	require.Error(err)
	require.True(IsNotFound(err))
	require.False(IsNetworkError(err))
}

func TestSendAcceptedCodes(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer s.Close()

	_, err := Get(s.URL, SendAcceptedCodes(http.StatusOK, http.StatusAccepted))
	require.NoError(err)
}

func TestSendNetworkError(t *testing.T) {
	require := require.New(t)

	_, err := Get("http://127.0.0.1:1/", SendTimeout(time.Second))
	require.Error(err)
	require.True(IsNetworkError(err))
}

func TestSendRetryOnServerError(t *testing.T) {
	require := require.New(t)

	var calls int64
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer s.Close()

	b := backoff.NewConstantBackOff(10 * time.Millisecond)
	resp, err := Get(s.URL, SendRetry(RetryBackoff(backoff.WithMaxRetries(b, 5))))
	require.NoError(err)
	resp.Body.Close()
	require.Equal(int64(3), atomic.LoadInt64(&calls))
}
