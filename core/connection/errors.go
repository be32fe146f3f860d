// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package connection

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrAborted is connection failure, when it was aborted before all pieces were handled.
var ErrAborted = errors.New("connection aborted")

// TruncatedError means, that stream terminated in the middle of piece.
type TruncatedError struct {
	// Leftover is bytes, that were not consumed by final framing pass.
	Leftover []byte
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("stream truncated: %v trailing bytes can't be framed", len(e.Leftover))
}

// DrainTimeoutError means, that queued pieces were not handled in drain timeout.
type DrainTimeoutError struct {
	Timeout time.Duration
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("pieces were not handled in drain timeout %s", e.Timeout)
}
