// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package errutil

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Join returns not nil of err1 and err2, or both of them as *multierror.Error.
func Join(err1, err2 error) error {
	switch {
	case err1 == nil:
		return err2
	case err2 == nil:
		return err1
	default:
		return multierror.Append(err1, err2)
	}
}

// First returns first non nil error.
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// IsCtxError returns true, if err is nil, or ctx is done and err is caused by it
// in terms of github.com/pkg/errors.Cause. Useful to suppress cancel results of
// routines that were stopped through ctx.
func IsCtxError(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	select {
	case <-ctx.Done():
		return ctx.Err() == errors.Cause(err) // Support github.com/pkg/errors wrapping
	default:
	}
	return false
}
