// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package connection

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yandex/funnel/core/coreutil"
)

// WaitForAllHandled blocks until stream end, close or error, and handling of all pieces
// cut before it. Then connection is terminated.
// Returns nil, if stream ended cleanly and all pieces were handled successfully,
// or the first failure otherwise. Returns ctx error, if ctx is done before termination.
// Connection keeps working in that case: wait again, or call Abort.
// If drain timeout is exceeded, connection is aborted.
func (c *Connection) WaitForAllHandled(ctx context.Context) error {
	err := coreutil.Poll(ctx, c.conf.PollInterval, c.isFinalCutDone)
	if err != nil {
		return errors.WithMessage(err, "stream end wait canceled")
	}

	drainCtx := ctx
	if c.conf.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, c.conf.DrainTimeout)
		defer cancel()
	}
	err = coreutil.Poll(drainCtx, c.conf.PollInterval, c.funnel.IsEmpty)
	if err != nil {
		if ctx.Err() != nil {
			return errors.WithMessage(ctx.Err(), "pieces handling wait canceled")
		}
		c.log.Warn("Drain timeout exceeded. Canceling pieces handling", zap.Duration("timeout", c.conf.DrainTimeout))
		c.fail(&DrainTimeoutError{Timeout: c.conf.DrainTimeout})
		c.Abort()
		select {
		case <-c.terminated:
		case <-ctx.Done():
			return errors.WithMessage(ctx.Err(), "aborted handling wait canceled")
		}
		return c.Err()
	}

	c.funnel.Shutdown()
	err = coreutil.Poll(ctx, c.conf.PollInterval, c.funnel.IsStopped)
	if err != nil {
		return errors.WithMessage(err, "funnel stop wait canceled")
	}
	c.terminate()
	return c.Err()
}

func (c *Connection) isFinalCutDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalCut
}
