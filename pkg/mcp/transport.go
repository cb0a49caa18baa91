// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package mcp

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Transport is the message-framing layer beneath the JSON-RPC client.
// Implementations carry one JSON message per Send/Receive.
type Transport interface {
	Send(ctx context.Context, message []byte) error

	// Receive blocks for the next message from the server.
	Receive(ctx context.Context) ([]byte, error)

	Close() error
}

// newTransport builds the transport a server config asks for.
func newTransport(name string, cfg ServerConfig, logger *zap.Logger) (Transport, error) {
	switch cfg.TransportName() {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("server %s: stdio transport requires command", name)
		}
		return newStdioTransport(cfg, logger)
	case TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: sse transport requires url", name)
		}
		return newSSETransport(cfg, logger)
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: streamable_http transport requires url", name)
		}
		return newStreamableHTTPTransport(cfg, logger)
	}
	return nil, fmt.Errorf("server %s: unknown transport %q", name, cfg.Transport)
}
