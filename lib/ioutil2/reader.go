// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package ioutil2

import "io"

// NewMultiPassReader returns reader, that reads r passes times, seeking to start on every io.EOF.
// Unlimited passes if passes <= 0. If r is not io.Seeker, or passes == 1, r is returned as is.
func NewMultiPassReader(r io.Reader, passes int) io.Reader {
	if passes == 1 {
		return r
	}
	rs, isSeekable := r.(io.ReadSeeker)
	if !isSeekable {
		return r
	}
	return &MultiPassReader{rs: rs, passesLimit: passes}
}

type MultiPassReader struct {
	rs          io.ReadSeeker
	passesCount int
	passesLimit int
}

func (r *MultiPassReader) Read(p []byte) (n int, err error) {
	n, err = r.rs.Read(p)
	if err == io.EOF {
		r.passesCount++
		if r.passesLimit <= 0 || r.passesCount < r.passesLimit {
			_, err = r.rs.Seek(0, io.SeekStart)
		}
	}
	return
}

func (r *MultiPassReader) PassesDone() int {
	return r.passesCount
}

func (r *MultiPassReader) Unwrap() io.Reader {
	return r.rs
}
