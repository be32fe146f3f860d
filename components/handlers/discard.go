// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package handlers

import (
	"context"

	"github.com/yandex/funnel/core"
	"github.com/yandex/funnel/lib/monitoring"
)

// NewDiscard returns handler, that just counts and throws pieces away.
func NewDiscard(counter *monitoring.Counter) core.PieceHandler {
	return discard{counter}
}

type discard struct {
	counter *monitoring.Counter
}

func (d discard) Handle(context.Context, core.Responder, core.Piece) error {
	d.counter.Inc()
	return nil
}
