// HTTP transport for the Moonraker client
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gderr "gantry-drift/pkg/errors"
)

// httpTransport speaks Moonraker's REST endpoints:
// POST /printer/gcode/script, POST /printer/objects/query and
// GET /printer/objects/list.
type httpTransport struct {
	baseURL string
	client  *http.Client
}

func newHTTPTransport(baseURL string) (*httpTransport, error) {
	return &httpTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// apiResponse is Moonraker's standard envelope. result is "ok" for script
// execution and an object for queries; error carries a rejection message.
type apiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *httpTransport) do(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, gderr.APIError(op, fmt.Sprintf("unable to encode request: %v", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return nil, gderr.APIError(op, fmt.Sprintf("unable to build request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, gderr.TransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gderr.TransportError(op, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode >= 500 {
			return nil, gderr.TransportError(op, fmt.Errorf("server error %d", resp.StatusCode))
		}
		return nil, gderr.APIError(op, fmt.Sprintf("unparseable response (status %d)", resp.StatusCode))
	}

	if envelope.Error != nil {
		return nil, gderr.APIError(op, envelope.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, gderr.TransportError(op, fmt.Errorf("server error %d", resp.StatusCode))
		}
		return nil, gderr.APIError(op, fmt.Sprintf("request rejected with status %d", resp.StatusCode))
	}
	return envelope.Result, nil
}

func (t *httpTransport) RunScript(ctx context.Context, script string) error {
	_, err := t.do(ctx, "gcode/script", http.MethodPost, "/printer/gcode/script",
		map[string]any{"script": script})
	return err
}

func (t *httpTransport) QueryObjects(ctx context.Context, objects map[string][]string) (Status, error) {
	// Moonraker expects {"objects": {"name": null}} for all fields and
	// {"objects": {"name": ["field", ...]}} for specific ones.
	objParam := make(map[string]any, len(objects))
	for name, fields := range objects {
		if len(fields) == 0 {
			objParam[name] = nil
		} else {
			objParam[name] = fields
		}
	}

	result, err := t.do(ctx, "objects/query", http.MethodPost, "/printer/objects/query",
		map[string]any{"objects": objParam})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, gderr.APIError("objects/query", fmt.Sprintf("unparseable status payload: %v", err))
	}
	return payload.Status, nil
}

func (t *httpTransport) ListObjects(ctx context.Context) ([]string, error) {
	result, err := t.do(ctx, "objects/list", http.MethodGet, "/printer/objects/list", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Objects []string `json:"objects"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, gderr.APIError("objects/list", fmt.Sprintf("unparseable object list: %v", err))
	}
	return payload.Objects, nil
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
