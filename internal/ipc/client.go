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

package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// ServiceNotRunningError indicates the peer service socket is not accepting
// connections.
type ServiceNotRunningError struct {
	SocketPath string
	Err        error
}

// Error implements the error interface.
func (e *ServiceNotRunningError) Error() string {
	return fmt.Sprintf("service not reachable at %s: %v", e.SocketPath, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServiceNotRunningError) Unwrap() error { return e.Err }

// Client is a client for one local persistence-infrastructure service
// (lifecycle manager or admin service).
type Client struct {
	httpClient *http.Client
	socketPath string
	baseURL    string
}

// NewClient creates a client for the service listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{Transport: NewUnixTransport(socketPath)},
		socketPath: socketPath,
		baseURL:    "http://localhost", // placeholder host for unix sockets
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// registrationRequest is the JSON body of register/unregister calls.
type registrationRequest struct {
	App          string `json:"app"`
	ShutdownMode int    `json:"shutdown_mode,omitempty"`
}

// RegisterLifecycle registers the application for shutdown notifications
// with the node lifecycle manager.
func (c *Client) RegisterLifecycle(ctx context.Context, app string, mode int) error {
	return c.post(ctx, "/v1/lifecycle/register", registrationRequest{App: app, ShutdownMode: mode})
}

// UnregisterLifecycle removes the application's lifecycle registration.
func (c *Client) UnregisterLifecycle(ctx context.Context, app string, mode int) error {
	return c.post(ctx, "/v1/lifecycle/unregister", registrationRequest{App: app, ShutdownMode: mode})
}

// RegisterAdmin registers the application with the persistence admin service.
func (c *Client) RegisterAdmin(ctx context.Context, app string) error {
	return c.post(ctx, "/v1/admin/register", registrationRequest{App: app})
}

// UnregisterAdmin removes the application's admin service registration.
func (c *Client) UnregisterAdmin(ctx context.Context, app string) error {
	return c.post(ctx, "/v1/admin/unregister", registrationRequest{App: app})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return &ServiceNotRunningError{SocketPath: c.socketPath, Err: err}
		}
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request to %s failed with status %d: %s", path, resp.StatusCode, string(msg))
	}

	return nil
}
