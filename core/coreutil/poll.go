// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package coreutil

import (
	"context"
	"time"
)

// Poll calls done every interval until it returns true, or ctx is done.
// done is called once before the first wait, so finished work costs no sleep.
// Returns nil if done returned true, or ctx error otherwise.
func Poll(ctx context.Context, interval time.Duration, done func() bool) error {
	p := NewPoller(interval)
	defer p.Stop()
	for {
		if done() {
			return nil
		}
		if !p.Wait(ctx) {
			return ctx.Err()
		}
	}
}

// Poller is goroutine unsafe fixed delay waiter, that reuses one timer between waits.
type Poller struct {
	interval time.Duration
	// Lazy initialized.
	timer *time.Timer
}

func NewPoller(interval time.Duration) *Poller {
	return &Poller{interval: interval}
}

// Wait sleeps for poller interval. Returns true, if interval successfully waited,
// or false if ctx is done.
func (p *Poller) Wait(ctx context.Context) (ok bool) {
	// Check, that context is not done. Very quick: 5 ns for op, due to benchmark.
	select {
	case <-ctx.Done():
		return false
	default:
	}
	if p.interval <= 0 {
		return true
	}
	if p.timer == nil {
		p.timer = time.NewTimer(p.interval)
	} else {
		p.timer.Reset(p.interval)
	}
	select {
	case <-p.timer.C:
		return true
	case <-ctx.Done():
		if !p.timer.Stop() {
			<-p.timer.C
		}
		return false
	}
}

func (p *Poller) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
