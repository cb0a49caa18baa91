// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// streamableHTTPTransport implements the modern MCP HTTP transport
// (2025-03-26 spec): every request is a POST to one endpoint, responses
// come back as application/json or as a short-lived SSE body, and the
// server may hand out a session id that later requests echo.
type streamableHTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	messages chan []byte

	mu        sync.Mutex
	sessionID string
	closed    bool
	logger    *zap.Logger
}

func newStreamableHTTPTransport(cfg ServerConfig, logger *zap.Logger) (*streamableHTTPTransport, error) {
	return &streamableHTTPTransport{
		endpoint: cfg.URL,
		headers:  cfg.Headers,
		client:   &http.Client{},
		messages: make(chan []byte, 100),
		logger:   logger,
	}, nil
}

func (t *streamableHTTPTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	session := t.sessionID
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint,
		bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if session != "" {
		req.Header.Set("Mcp-Session-Id", session)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", t.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
	case http.StatusNotFound:
		t.mu.Lock()
		t.sessionID = ""
		t.mu.Unlock()
		return fmt.Errorf("mcp session expired")
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		return t.consumeEventStream(ctx, resp.Body)
	case strings.HasPrefix(contentType, "application/json"):
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		// Empty bodies acknowledge notifications.
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		select {
		case t.messages <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		// 202 with no body acknowledges a notification.
		if resp.StatusCode == http.StatusAccepted {
			return nil
		}
		return fmt.Errorf("unexpected Content-Type %q", contentType)
	}
}

// consumeEventStream reads a whole SSE response body and queues each
// data payload. Bodies here are short: servers close the stream after
// the response events.
func (t *streamableHTTPTransport) consumeEventStream(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var data bytes.Buffer
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		payload := make([]byte, data.Len())
		copy(payload, data.Bytes())
		data.Reset()
		select {
		case t.messages <- payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(value, " "))
		}
	}
	if err := scanner.Err(); err != nil && !strings.Contains(err.Error(), "closed response body") {
		t.logger.Warn("sse body read error", zap.Error(err))
	}
	return flush()
}

func (t *streamableHTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-t.messages:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

func (t *streamableHTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.sessionID
	t.mu.Unlock()

	if session != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.endpoint, nil)
		if err == nil {
			req.Header.Set("Mcp-Session-Id", session)
			if resp, err := t.client.Do(req); err == nil {
				_ = resp.Body.Close()
			}
		}
	}
	close(t.messages)
	return nil
}
