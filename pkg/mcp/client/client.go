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
// Package client implements the session layer over a connector transport:
// handshake, request correlation, and the tool operations.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/mcp/protocol"
	"github.com/erpilot/erpilot/pkg/mcp/transport"
)

// Client is one session with a remote tool server. Responses are matched to
// requests through a pending map keyed by request ID; a single receive loop
// feeds it.
type Client struct {
	transport transport.Transport
	logger    *zap.Logger

	initialized bool
	serverInfo  protocol.Implementation
	serverCaps  protocol.ServerCapabilities

	nextID    int64
	pending   map[string]chan *protocol.Response
	pendingMu sync.Mutex

	toolsMu sync.RWMutex
	tools   map[string]protocol.Tool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// Config configures a Client.
type Config struct {
	Transport transport.Transport
	Logger    *zap.Logger

	// RequestTimeout bounds each round trip. Default 30s.
	RequestTimeout time.Duration
}

// NewClient creates a client and starts its receive loop.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: config.Transport,
		logger:    config.Logger,
		pending:   make(map[string]chan *protocol.Response),
		tools:     make(map[string]protocol.Tool),
		ctx:       ctx,
		cancel:    cancel,
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c
}

// Initialize performs the session handshake.
func (c *Client) Initialize(ctx context.Context, clientInfo protocol.Implementation) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return fmt.Errorf("already initialized")
	}
	c.mu.Unlock()

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      clientInfo,
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}

	resp, err := c.call(ctx, protocol.MethodInitialize, paramsJSON)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parsing initialize result: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.mu.Unlock()

	c.logger.Info("connector session initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("version", result.ServerInfo.Version))

	// The initialized notification completes the handshake; notifications
	// carry no ID.
	note, err := json.Marshal(&protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  "notifications/initialized",
	})
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, note)
}

// Ping checks connection health.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, protocol.MethodPing, json.RawMessage(`{}`))
	return err
}

// ListTools fetches the server's tool descriptors and refreshes the local
// cache.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	resp, err := c.call(ctx, protocol.MethodListTools, json.RawMessage(`{}`))
	if err != nil {
		return nil, err
	}

	var result protocol.ToolListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parsing tools/list result: %w", err)
	}

	c.toolsMu.Lock()
	c.tools = make(map[string]protocol.Tool, len(result.Tools))
	for _, tool := range result.Tools {
		c.tools[tool.Name] = tool
	}
	c.toolsMu.Unlock()

	return result.Tools, nil
}

// CallTool invokes one remote tool. Arguments are validated against the
// advertised schema before the wire call.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*protocol.CallToolResult, error) {
	tool, err := c.getTool(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := protocol.ValidateToolArguments(tool, arguments); err != nil {
		return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
	}

	paramsJSON, err := json.Marshal(protocol.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, protocol.MethodCallTool, paramsJSON)
	if err != nil {
		return nil, err
	}

	var result protocol.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parsing tools/call result: %w", err)
	}
	return &result, nil
}

// Close shuts the session down and waits for the receive loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if err := c.transport.Close(); err != nil {
		c.logger.Error("closing transport", zap.Error(err))
	}
	c.wg.Wait()
	return nil
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (*protocol.Response, error) {
	req := &protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      c.nextRequestID(),
		Method:  method,
		Params:  params,
	}
	if err := protocol.ValidateRequest(req); err != nil {
		return nil, err
	}

	respChan := make(chan *protocol.Response, 1)
	key := req.ID.String()

	c.pendingMu.Lock()
	c.pending[key] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, reqJSON); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	}
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		data, err := c.transport.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Warn("receive failed", zap.Error(err))
			continue
		}
		if len(data) == 0 {
			continue
		}

		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == nil {
			c.logger.Debug("dropping non-response frame", zap.ByteString("data", data))
			continue
		}

		c.pendingMu.Lock()
		respChan, exists := c.pending[resp.ID.String()]
		c.pendingMu.Unlock()
		if !exists {
			c.logger.Warn("response for unknown request", zap.String("id", resp.ID.String()))
			continue
		}

		select {
		case respChan <- &resp:
		default:
		}
	}
}

func (c *Client) getTool(ctx context.Context, name string) (protocol.Tool, error) {
	c.toolsMu.RLock()
	tool, exists := c.tools[name]
	c.toolsMu.RUnlock()
	if exists {
		return tool, nil
	}

	if _, err := c.ListTools(ctx); err != nil {
		return protocol.Tool{}, err
	}

	c.toolsMu.RLock()
	tool, exists = c.tools[name]
	c.toolsMu.RUnlock()
	if !exists {
		return protocol.Tool{}, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

func (c *Client) nextRequestID() *protocol.RequestID {
	return protocol.NewNumericRequestID(atomic.AddInt64(&c.nextID, 1))
}
