// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// rpcClient correlates JSON-RPC requests with responses over a
// Transport. One receive loop feeds pending callers by id; server-
// initiated requests (sampling and friends) are answered with
// method-not-found since the bridge only consumes tools.
type rpcClient struct {
	transport Transport
	logger    *zap.Logger

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[string]chan *response

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRPCClient(transport Transport, logger *zap.Logger) *rpcClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &rpcClient{
		transport: transport,
		logger:    logger,
		pending:   make(map[string]chan *response),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.wg.Add(1)
	go c.receiveLoop()
	return c
}

// Call sends one request and blocks for its response or ctx expiry.
func (c *rpcClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := request{JSONRPC: jsonrpcVersion, ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	key := strconv.FormatInt(id, 10)
	ch := make(chan *response, 1)
	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.Send(ctx, data); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("connection closed")
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// Notify sends a request without an id; no response is expected.
func (c *rpcClient) Notify(ctx context.Context, method string, params any) error {
	req := request{JSONRPC: jsonrpcVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, data)
}

func (c *rpcClient) Close() error {
	c.cancel()
	err := c.transport.Close()
	c.wg.Wait()
	return err
}

func (c *rpcClient) receiveLoop() {
	defer c.wg.Done()
	for {
		data, err := c.transport.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Warn("mcp receive error", zap.Error(err))
			continue
		}
		if len(data) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err == nil && len(resp.ID) > 0 &&
			(resp.Result != nil || resp.Error != nil) {
			c.dispatch(&resp)
			continue
		}

		var req request
		if err := json.Unmarshal(data, &req); err == nil && req.Method != "" {
			c.rejectServerRequest(&req)
			continue
		}

		c.logger.Warn("unrecognized mcp message", zap.ByteString("data", data))
	}
}

func (c *rpcClient) dispatch(resp *response) {
	key := idKey(resp.ID)
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Warn("mcp response for unknown request", zap.String("id", key))
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// rejectServerRequest answers server-initiated requests with a standard
// method-not-found error. Notifications (no id) are dropped silently.
func (c *rpcClient) rejectServerRequest(req *request) {
	if req.ID == nil {
		return
	}
	resp := map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      *req.ID,
		"error":   map[string]any{"code": -32601, "message": "method not found: " + req.Method},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.transport.Send(c.ctx, data); err != nil {
		c.logger.Debug("mcp error reply failed", zap.Error(err))
	}
}
