// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package cli

import (
	"time"

	"go.uber.org/zap"

	"github.com/yandex/funnel/core/connection"
	"github.com/yandex/funnel/core/funnel"
	"github.com/yandex/funnel/core/server"
	"github.com/yandex/funnel/lib/monitoring"
)

func newServerMetrics() server.Metrics {
	return server.Metrics{
		Connection: connection.Metrics{
			Funnel: funnel.Metrics{
				Submitted: monitoring.NewCounter("funnel_Submitted"),
				Done:      monitoring.NewCounter("funnel_Done"),
				Failed:    monitoring.NewCounter("funnel_Failed"),
				Skipped:   monitoring.NewCounter("funnel_Skipped"),
			},
			Pieces: monitoring.NewCounter("conn_Pieces"),
			Pauses: monitoring.NewCounter("conn_Pauses"),
		},
		Accepted:     monitoring.NewCounter("server_Accepted"),
		Active:       monitoring.NewCounter("server_Active"),
		Failed:       monitoring.NewCounter("server_Failed"),
		BytesRead:    monitoring.NewCounter("server_BytesRead"),
		BytesWritten: monitoring.NewCounter("server_BytesWritten"),
	}
}

func startReport(log *zap.Logger, m server.Metrics) {
	evPiecesPS := monitoring.NewCounter("funnel_PiecesPS")
	evHandledPS := monitoring.NewCounter("funnel_HandledPS")
	evQueued := monitoring.NewCounter("funnel_Queued")
	pieces := m.Connection.Pieces.Get()
	fm := m.Connection.Funnel
	handled := fm.Done.Get() + fm.Failed.Get()
	go func() {
		var piecesNew, handledNew int64
		for range time.NewTicker(1 * time.Second).C {
			piecesNew = m.Connection.Pieces.Get()
			handledNew = fm.Done.Get() + fm.Failed.Get()
			pps := piecesNew - pieces
			hps := handledNew - handled
			queued := fm.Submitted.Get() - handledNew - fm.Skipped.Get()
			log.Sugar().Infof(
				"[FUNNEL] %d pieces/s; %d handled/s; %d queued; %d conns; %d failed conns",
				pps, hps, queued, m.Active.Get(), m.Failed.Get())

			pieces = piecesNew
			handled = handledNew

			evPiecesPS.Set(pps)
			evHandledPS.Set(hps)
			evQueued.Set(queued)
		}
	}()
}
