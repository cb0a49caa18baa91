// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	alertQueueCap    = 50
	alertMaxAttempts = 3
)

// Notifier delivers one alert message to the operator channel.
type Notifier func(msg string) error

// Alerts is a bounded queue of operator alerts. Levels push from
// inside the tick; delivery happens outside it so a slow or failing
// notifier never stalls the engine. When the queue is full the oldest
// alert is dropped.
type Alerts struct {
	mu      sync.Mutex
	queue   []string
	notify  Notifier
	logger  *zap.Logger
	backoff time.Duration
}

// NewAlerts builds an alert queue. A nil notifier makes Drain a no-op
// that still empties the queue.
func NewAlerts(notify Notifier, logger *zap.Logger) *Alerts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerts{notify: notify, logger: logger, backoff: time.Second}
}

// Push enqueues an alert, evicting the oldest when full.
func (a *Alerts) Push(msg string) {
	if msg == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) >= alertQueueCap {
		a.queue = a.queue[1:]
	}
	a.queue = append(a.queue, msg)
}

// Pending returns the number of queued alerts.
func (a *Alerts) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Drain delivers every queued alert, retrying each up to three times
// with exponential backoff. Undeliverable alerts are logged and
// dropped so the queue cannot wedge.
func (a *Alerts) Drain() {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	if len(batch) == 0 || a.notify == nil {
		return
	}
	for _, msg := range batch {
		var err error
		for attempt := 1; attempt <= alertMaxAttempts; attempt++ {
			if err = a.notify(msg); err == nil {
				break
			}
			if attempt < alertMaxAttempts {
				time.Sleep(a.retryDelay(attempt))
			}
		}
		if err != nil {
			a.logger.Warn("alert delivery failed, dropping",
				zap.String("alert", msg), zap.Error(err))
		}
	}
}

// retryDelay doubles the base backoff per failed attempt.
func (a *Alerts) retryDelay(attempt int) time.Duration {
	return a.backoff << (attempt - 1)
}
