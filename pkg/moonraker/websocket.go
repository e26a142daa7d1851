// JSON-RPC websocket transport for the Moonraker client
//
// Moonraker exposes the same printer.* methods over a websocket at
// /websocket as JSON-RPC 2.0 calls. This transport keeps one connection
// open for the session and matches responses by request id, skipping the
// notify_* notifications Moonraker interleaves on the same socket.
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	gderr "gantry-drift/pkg/errors"
)

const wsResponseTimeout = 30 * time.Second

type wsTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newWSTransport(baseURL string) (*wsTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, gderr.ConfigErrorf("invalid printer_url %q: %v", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, gderr.TransportError("websocket/dial", err)
	}
	return &wsTransport{conn: conn}, nil
}

// call performs one JSON-RPC request/response exchange. The connection is
// used by one caller at a time; the client above already serializes
// commands, and the mutex here keeps the framing safe regardless.
func (t *wsTransport) call(ctx context.Context, op, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	if err := t.conn.WriteJSON(req); err != nil {
		return nil, gderr.TransportError(op, err)
	}

	deadline := time.Now().Add(wsResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, gderr.TransportError(op, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, gderr.Wrap(err, gderr.ErrAbort, "websocket call interrupted").SetOp(op)
		}

		var resp jsonRPCResponse
		if err := t.conn.ReadJSON(&resp); err != nil {
			return nil, gderr.TransportError(op, err)
		}

		// Status notifications carry a method and no id.
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, gderr.APIError(op, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (t *wsTransport) RunScript(ctx context.Context, script string) error {
	_, err := t.call(ctx, "gcode/script", "printer.gcode.script",
		map[string]any{"script": script})
	return err
}

func (t *wsTransport) QueryObjects(ctx context.Context, objects map[string][]string) (Status, error) {
	objParam := make(map[string]any, len(objects))
	for name, fields := range objects {
		if len(fields) == 0 {
			objParam[name] = nil
		} else {
			objParam[name] = fields
		}
	}

	result, err := t.call(ctx, "objects/query", "printer.objects.query",
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

func (t *wsTransport) ListObjects(ctx context.Context) ([]string, error) {
	result, err := t.call(ctx, "objects/list", "printer.objects.list", nil)
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

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
