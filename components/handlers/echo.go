// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yandex/funnel/core"
)

type EchoConfig struct {
	// WaitWritten makes handler wait for answer write, before next piece handling.
	WaitWritten bool `config:"wait-written"`
}

func DefaultEchoConfig() EchoConfig {
	return EchoConfig{}
}

func NewEcho(enc core.Encoder, conf EchoConfig) *Echo {
	return &Echo{enc: enc, conf: conf}
}

// Echo writes back every piece payload, encoded in connection wire format.
type Echo struct {
	enc  core.Encoder
	conf EchoConfig
}

var _ core.PieceHandler = (*Echo)(nil)

func (e *Echo) Handle(ctx context.Context, r core.Responder, p core.Piece) error {
	payload, err := framePayload(p)
	if err != nil {
		return err
	}
	res := r.Write(e.enc.Encode(nil, payload))
	if !e.conf.WaitWritten {
		return nil
	}
	select {
	case err := <-res:
		return errors.WithMessage(err, "echo write failed")
	case <-ctx.Done():
		return ctx.Err()
	}
}
