// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// sseTransport pairs an SSE event stream for server→client messages
// with plain POSTs for client→server. The classic HTTP MCP layout:
// GET <url>/sse for events, POST <url>/messages for requests.
type sseTransport struct {
	endpoint   string
	sseClient  *sse.Client
	httpClient *http.Client

	events chan []byte
	errs   chan error
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

func newSSETransport(cfg ServerConfig, logger *zap.Logger) (*sseTransport, error) {
	endpoint := strings.TrimRight(cfg.URL, "/")
	client := sse.NewClient(endpoint + "/sse")
	for k, v := range cfg.Headers {
		client.Headers[k] = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &sseTransport{
		endpoint:   endpoint,
		sseClient:  client,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		events:     make(chan []byte, 100),
		errs:       make(chan error, 1),
		cancel:     cancel,
		logger:     logger,
	}

	client.OnDisconnect(func(*sse.Client) {
		select {
		case t.errs <- fmt.Errorf("sse stream disconnected"):
		default:
		}
	})

	// Subscribe in the background so an unreachable server delays the
	// first call instead of blocking startup.
	go func() {
		err := client.SubscribeWithContext(ctx, "message", func(msg *sse.Event) {
			select {
			case t.events <- msg.Data:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			t.logger.Warn("sse subscription failed",
				zap.String("endpoint", endpoint), zap.Error(err))
			select {
			case t.errs <- err:
			default:
			}
		}
	}()

	return t, nil
}

func (t *sseTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.endpoint+"/messages", bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (t *sseTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-t.errs:
		return nil, err
	case data, ok := <-t.events:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	close(t.events)
	return nil
}
