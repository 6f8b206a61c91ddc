// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ipc talks to the node lifecycle manager and the persistence
// admin service over local unix sockets. Only registration and
// unregistration round-trips live here; asynchronous notifications from
// these services arrive through the event loop, not through this client.
package ipc

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Transport creates an HTTP transport over a local unix socket.
type Transport struct {
	// SocketPath is the unix socket path of the peer service.
	SocketPath string
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.httpTransport().RoundTrip(req)
}

// httpTransport creates the underlying HTTP transport.
func (t *Transport) httpTransport() *http.Transport {
	socketPath := t.SocketPath
	return &http.Transport{
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
}

// NewUnixTransport creates a transport for a unix socket.
func NewUnixTransport(socketPath string) *Transport {
	return &Transport{SocketPath: socketPath}
}
