// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package coretest

import (
	"fmt"

	"github.com/yandex/funnel/core"
)

// Payload returns payload of piece, that should be *core.Frame.
func Payload(p core.Piece) string {
	f, ok := p.(*core.Frame)
	if !ok {
		panic(fmt.Sprintf("unexpected piece type %T", p))
	}
	return string(f.Payload)
}

func Payloads(pieces []core.Piece) []string {
	res := make([]string, 0, len(pieces))
	for _, p := range pieces {
		res = append(res, Payload(p))
	}
	return res
}
