// Copyright (c) 2017 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package netutil

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

type Dialer interface {
	DialContext(ctx context.Context, net, addr string) (net.Conn, error)
}

var _ Dialer = &net.Dialer{}

type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// ParseEndpoint returns network and address of endpoint.
// Endpoint is "host:port", ":port", "unix:/path/to/socket" or "/path/to/socket".
func ParseEndpoint(endpoint string) (network, address string) {
	if strings.HasPrefix(endpoint, "unix:") {
		return "unix", strings.TrimPrefix(endpoint, "unix:")
	}
	if strings.HasPrefix(endpoint, "/") {
		return "unix", endpoint
	}
	return "tcp", endpoint
}

// Dial connects to endpoint with dialer.
func Dial(ctx context.Context, d Dialer, endpoint string) (net.Conn, error) {
	network, address := ParseEndpoint(endpoint)
	conn, err := d.DialContext(ctx, network, address)
	return conn, errors.Wrapf(err, "%s dial failed", network)
}

// Listen announces on endpoint. Listener accepts at most maxConns simultaneous
// connections, if maxConns is positive.
// Stale unix socket file is removed before listen.
func Listen(ctx context.Context, endpoint string, maxConns int) (net.Listener, error) {
	network, address := ParseEndpoint(endpoint)
	if network == "unix" {
		err := os.Remove(address)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "stale socket remove failed")
		}
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listen failed", network)
	}
	if maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}
	return listener, nil
}
