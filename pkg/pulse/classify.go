// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"context"
	"time"

	"github.com/teradata-labs/treadle/pkg/config"
)

// ClassifiedIntent is the one-shot classifier verdict, the shape the
// subprocess self-test mode prints on stdout.
type ClassifiedIntent struct {
	Type string `json:"type"`
	Tool string `json:"tool,omitempty"`
}

// ClassifyOnce classifies a single message without executing anything.
// The deterministic fast path answers without a model call; everything
// else goes through the active backend's classifier. History, retrieval
// and dialogue state are deliberately absent: the verdict must depend
// on the text alone so repeated runs stay comparable.
func (e *Executor) ClassifyOnce(ctx context.Context, text string) (ClassifiedIntent, error) {
	if raw := resolveIntentFast(text, e.opts.Distiller, ""); raw != nil {
		intent := mapIntent(raw, text)
		return ClassifiedIntent{Type: intent.Type, Tool: intent.Tool}, nil
	}
	provider, err := e.provider(config.GetActiveBackend())
	if err != nil {
		return ClassifiedIntent{}, err
	}
	intent := e.classifyIntent(ctx, provider, nil, text, driverInputs{
		Timeout: 30 * time.Second,
	})
	return ClassifiedIntent{Type: intent.Type, Tool: intent.Tool}, nil
}
