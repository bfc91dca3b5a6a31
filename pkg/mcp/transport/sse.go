// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// SSETransport implements Transport over streaming HTTP: POST for requests,
// an SSE subscription for responses.
type SSETransport struct {
	endpoint   string
	sseClient  *sse.Client
	httpClient *http.Client
	headers    map[string]string

	events chan []byte
	errors chan error

	mu     sync.Mutex
	closed bool

	logger *zap.Logger
}

// SSEConfig configures an SSE transport.
type SSEConfig struct {
	// Endpoint is the connector's base URL.
	Endpoint string
	// Headers carries auth headers set per-connector (bearer token, API key).
	Headers map[string]string
	// SSEPath is the event stream path. Default /sse.
	SSEPath string
	Logger  *zap.Logger
}

// NewSSETransport creates a transport and starts the event subscription in
// the background. An unreachable server does not fail construction; the
// first Send or Receive surfaces the error.
func NewSSETransport(config SSEConfig) (*SSETransport, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.SSEPath == "" {
		config.SSEPath = "/sse"
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sseClient := sse.NewClient(config.Endpoint + config.SSEPath)
	for k, v := range config.Headers {
		sseClient.Headers[k] = v
	}

	t := &SSETransport{
		endpoint:  config.Endpoint,
		sseClient: sseClient,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: config.Headers,
		events:  make(chan []byte, 100),
		errors:  make(chan error, 1),
		logger:  logger,
	}

	sseClient.OnDisconnect(func(c *sse.Client) {
		t.logger.Warn("event stream disconnected", zap.String("endpoint", config.Endpoint))
		select {
		case t.errors <- fmt.Errorf("event stream disconnected"):
		default:
		}
	})

	go func() {
		err := sseClient.SubscribeWithContext(context.Background(), "message", func(msg *sse.Event) {
			select {
			case t.events <- msg.Data:
			default:
				t.logger.Warn("event buffer full, dropping message")
			}
		})
		if err != nil {
			t.logger.Warn("event stream subscription failed",
				zap.String("endpoint", config.Endpoint),
				zap.Error(err))
			select {
			case t.errors <- err:
			default:
			}
		}
	}()

	return t, nil
}

// Send POSTs one JSON-RPC frame to the connector's message endpoint.
func (t *SSETransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/messages", bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, body)
	}

	return nil
}

// Receive returns the next event-stream frame.
func (t *SSETransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err, ok := <-t.errors:
		if !ok {
			return nil, io.EOF
		}
		return nil, err
	case data, ok := <-t.events:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

// Close shuts the transport down. Safe to call twice.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	close(t.events)
	close(t.errors)
	return nil
}

var _ Transport = (*SSETransport)(nil)
