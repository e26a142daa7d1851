// Package moonraker provides a client for the Moonraker printer control API.
// The harness drives every printer operation through this package: macro
// execution, object status queries, heater targets and idle waits.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gantry-drift/pkg/config"
	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/log"
)

// Status is the result of an objects query: object name -> field -> value.
type Status map[string]map[string]any

// Float extracts a float64 field from a queried object. The second return
// is false when the object or field is missing or not numeric.
func (s Status) Float(object, field string) (float64, bool) {
	fields, ok := s[object]
	if !ok {
		return 0, false
	}
	v, ok := fields[field]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// FloatIndex extracts one element of a numeric array field, such as a
// coordinate from gcode_move.gcode_position.
func (s Status) FloatIndex(object, field string, index int) (float64, bool) {
	fields, ok := s[object]
	if !ok {
		return 0, false
	}
	arr, ok := fields[field].([]any)
	if !ok || index < 0 || index >= len(arr) {
		return 0, false
	}
	f, ok := arr[index].(float64)
	return f, ok
}

// String extracts a string field from a queried object.
func (s Status) String(object, field string) (string, bool) {
	fields, ok := s[object]
	if !ok {
		return "", false
	}
	v, ok := fields[field].(string)
	return v, ok
}

// transport is the wire-level interface behind the client. HTTP is the
// default; a JSON-RPC websocket implementation is selected by config.
type transport interface {
	RunScript(ctx context.Context, script string) error
	QueryObjects(ctx context.Context, objects map[string][]string) (Status, error)
	ListObjects(ctx context.Context) ([]string, error)
	Close() error
}

// Client issues commands and queries against a Moonraker instance.
// A mutex serializes all calls so at most one command is in flight at a
// time; the printer is the single shared resource.
type Client struct {
	mu        sync.Mutex
	transport transport
	retry     config.RetryConfig
	logger    *log.Logger

	// OnRetry, when set, is invoked once per retried attempt. Used for
	// instrumentation.
	OnRetry func(op string)
}

// New creates a client for the configured printer URL and transport.
func New(cfg *config.Config, logger *log.Logger) (*Client, error) {
	var t transport
	var err error
	switch cfg.Transport {
	case config.TransportWebsocket:
		t, err = newWSTransport(cfg.PrinterURL)
	default:
		t, err = newHTTPTransport(cfg.PrinterURL)
	}
	if err != nil {
		return nil, err
	}
	return &Client{
		transport: t,
		retry:     cfg.Retry,
		logger:    logger,
	}, nil
}

// newWithTransport is used by tests to inject a fake transport.
func newWithTransport(t transport, retry config.RetryConfig, logger *log.Logger) *Client {
	return &Client{transport: t, retry: retry, logger: logger}
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// withRetry runs fn under the bounded exponential backoff policy.
// Only transport-level errors are retried; an API rejection is permanent
// and surfaces immediately. Exhaustion returns the last transport error.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.InitialInterval.Std()
	policy.MaxInterval = c.retry.MaxInterval.Std()
	policy.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	attempts := uint64(c.retry.MaxAttempts)
	if attempts < 1 {
		attempts = 1
	}
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, attempts-1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !gderr.IsTransport(err) {
			return backoff.Permanent(err)
		}
		if attempt < int(attempts) {
			c.logger.WarnFields("transport error, retrying", log.Fields{
				"op":      op,
				"attempt": attempt,
				"error":   err.Error(),
			})
			if c.OnRetry != nil {
				c.OnRetry(op)
			}
		}
		return err
	}, wrapped)
}

// RunScript executes a G-code script or macro on the printer.
func (c *Client) RunScript(ctx context.Context, script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("run script: %s", script)
	return c.withRetry(ctx, "gcode/script", func() error {
		return c.transport.RunScript(ctx, script)
	})
}

// QueryObjects returns current field values for the named objects.
// A nil field slice requests every field of that object.
func (c *Client) QueryObjects(ctx context.Context, objects map[string][]string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var status Status
	err := c.withRetry(ctx, "objects/query", func() error {
		var qErr error
		status, qErr = c.transport.QueryObjects(ctx, objects)
		return qErr
	})
	return status, err
}

// ListObjects returns the names of all printer objects the control plane
// exposes. Used to resolve configured sensors at startup.
func (c *Client) ListObjects(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	err := c.withRetry(ctx, "objects/list", func() error {
		var lErr error
		names, lErr = c.transport.ListObjects(ctx)
		return lErr
	})
	return names, err
}

// SetHeaterTarget sets a heater's target temperature. Transport errors
// are retried like any other command, but an API rejection of a heater
// command is safety-relevant and always escalates without retry.
func (c *Client) SetHeaterTarget(ctx context.Context, heater string, target float64) error {
	script := fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=%s TARGET=%.1f", heater, target)
	return c.RunScript(ctx, script)
}

// WaitForIdle polls the idle_timeout object until the printer stops
// reporting "Printing" or the timeout elapses. The poll loop observes
// context cancellation at every iteration.
func (c *Client) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	const pollInterval = time.Second

	deadline := time.Now().Add(timeout)
	for {
		status, err := c.QueryObjects(ctx, map[string][]string{
			"idle_timeout": {"state"},
		})
		if err != nil {
			return err
		}
		if state, ok := status.String("idle_timeout", "state"); ok && state != "Printing" {
			return nil
		}
		// The control plane kept answering; a printer that stays busy is
		// a session failure, not a connectivity one.
		if time.Now().After(deadline) {
			return gderr.New(gderr.ErrAbort, "timed out waiting for motion idle").
				SetOp("wait_for_idle")
		}
		select {
		case <-ctx.Done():
			return gderr.Wrap(ctx.Err(), gderr.ErrAbort, "wait for idle interrupted")
		case <-time.After(pollInterval):
		}
	}
}
