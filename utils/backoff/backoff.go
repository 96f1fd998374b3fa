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
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config defines Backoff configuration.
type Config struct {
	Min          time.Duration `yaml:"min"`
	Max          time.Duration `yaml:"max"`
	Factor       float64       `yaml:"factor"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`

	// NoJitter disables randomization of backoff durations. Should only be
	// used for testing purposes.
	NoJitter bool `yaml:"no_jitter"`
}

func (c Config) applyDefaults() Config {
	if c.Min == 0 {
		c.Min = 1 * time.Second
	}
	if c.Max == 0 {
		c.Max = 10 * time.Minute
	}
	if c.Factor == 0 {
		c.Factor = 2
	}
	if c.RetryTimeout == 0 {
		c.RetryTimeout = 15 * time.Minute
	}
	return c
}

// Backoff computes exponentially increasing backoff durations.
type Backoff struct {
	config Config
}

// New creates a new Backoff.
func New(config Config) *Backoff {
	config = config.applyDefaults()
	return &Backoff{config}
}

// Duration returns the backoff duration for the given attempt.
func (b *Backoff) Duration(attempt int) time.Duration {
	d := float64(b.config.Min) * math.Pow(b.config.Factor, float64(attempt))
	if !b.config.NoJitter {
		d = rand.Float64()*(d-float64(b.config.Min)) + float64(b.config.Min)
	}
	if d > float64(b.config.Max) {
		return b.config.Max
	}
	return time.Duration(d)
}

// ErrRetryTimeout occurs when the retry timeout is exceeded.
var ErrRetryTimeout = errors.New("retry timeout exceeded")

// Attempts tracks a sequence of backoff attempts, bounded by the configured
// retry timeout. At least one attempt is always granted.
type Attempts struct {
	b        *Backoff
	attempt  int
	deadline time.Time
	err      error
}

// Attempts starts a new attempt sequence.
func (b *Backoff) Attempts() *Attempts {
	return &Attempts{
		b:        b,
		deadline: time.Now().Add(b.config.RetryTimeout),
	}
}

// WaitForNext blocks until the next attempt may execute. Returns false if the
// retry timeout was exceeded.
func (a *Attempts) WaitForNext() bool {
	if a.attempt == 0 {
		a.attempt++
		return true
	}
	d := a.b.Duration(a.attempt - 1)
	if time.Now().Add(d).After(a.deadline) {
		a.err = ErrRetryTimeout
		return false
	}
	time.Sleep(d)
	a.attempt++
	return true
}

// Err returns the error which terminated the attempt sequence, if any.
func (a *Attempts) Err() error {
	return a.err
}
