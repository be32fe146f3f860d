// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package connection

// State is connection lifecycle stage. Stages are passed strictly in order:
// Open -> Reading -> Draining -> Terminated.
type State int32

const (
	StateOpen State = iota
	StateReading
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Reason is the event, that moved connection from Reading to Draining.
type Reason int32

const (
	ReasonNone Reason = iota
	ReasonEndOfStream
	ReasonClosed
	ReasonErrored
	// ReasonAborted means that Abort was called before stream end.
	ReasonAborted
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEndOfStream:
		return "end-of-stream"
	case ReasonClosed:
		return "closed"
	case ReasonErrored:
		return "errored"
	case ReasonAborted:
		return "aborted"
	}
	return "unknown"
}
