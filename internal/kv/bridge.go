// -------------------------------------------------------------------------------
// BridgeBackend - Host Bridge HTTP Client
//
// Author: Alex Freidah
//
// Talks to the privileged host process over its loopback KV API. Every call
// carries the shared token in X-Bridge-Token. Path segments are escaped
// individually so keys may contain any character.
//
//   GET    /kv/{db}/{store}/{key}   value bytes, 404 when missing
//   PUT    /kv/{db}/{store}/{key}   store request body
//   DELETE /kv/{db}/{store}/{key}   remove
//   GET    /kv/{db}/{store}         JSON array of keys
//   DELETE /kv/{db}/{store}         clear
// -------------------------------------------------------------------------------

package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/auth"
	"github.com/Quriosity-agent/qcut-sub012/internal/config"
)

// BridgeBackend implements Backend by calling the host bridge server.
type BridgeBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBridgeBackend creates a client for the configured bridge.
func NewBridgeBackend(cfg config.BridgeConfig) *BridgeBackend {
	return NewBridgeBackendWithClient(cfg.URL, cfg.Token, &http.Client{Timeout: cfg.Timeout})
}

// NewBridgeBackendWithClient creates a client using the supplied HTTP client.
func NewBridgeBackendWithClient(baseURL, token string, client *http.Client) *BridgeBackend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BridgeBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Name returns "bridge".
func (b *BridgeBackend) Name() string { return "bridge" }

// Open returns an adapter for ns. No request is made.
func (b *BridgeBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	return &bridgeAdapter{backend: b, ns: ns}, nil
}

// Close releases idle connections.
func (b *BridgeBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// BridgeError is a non-2xx response from the bridge server.
type BridgeError struct {
	StatusCode int
	Message    string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.StatusCode, e.Message)
}

// do sends one request. Transport failures wrap ErrBackendUnavailable.
func (b *BridgeBackend) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build bridge request: %w", err)
	}
	if b.token != "" {
		req.Header.Set(auth.TokenHeader, b.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return resp, nil
}

// readError drains a failed response into a BridgeError.
func readError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &BridgeError{StatusCode: resp.StatusCode, Message: msg}
}

type bridgeAdapter struct {
	backend *BridgeBackend
	ns      Namespace
}

func (a *bridgeAdapter) storePath() string {
	return "/kv/" + url.PathEscape(a.ns.Database) + "/" + url.PathEscape(a.ns.Store)
}

func (a *bridgeAdapter) keyPath(key string) string {
	return a.storePath() + "/" + url.PathEscape(key)
}

func (a *bridgeAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, op := startOperation(ctx, "bridge", opGet, a.ns, key)
	value, ok, err := a.get(ctx, key)
	op.end(err)
	return value, ok, err
}

func (a *bridgeAdapter) get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	resp, err := a.backend.do(ctx, http.MethodGet, a.keyPath(key), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, readError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read bridge response: %w", err)
	}
	return data, true, nil
}

func (a *bridgeAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	ctx, op := startOperation(ctx, "bridge", opSet, a.ns, key)
	err := a.expectNoContent(ctx, http.MethodPut, a.keyPath(key), value)
	op.end(err)
	return err
}

func (a *bridgeAdapter) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	ctx, op := startOperation(ctx, "bridge", opRemove, a.ns, key)
	err := a.expectNoContent(ctx, http.MethodDelete, a.keyPath(key), nil)
	op.end(err)
	return err
}

func (a *bridgeAdapter) List(ctx context.Context) ([]string, error) {
	ctx, op := startOperation(ctx, "bridge", opList, a.ns, "")
	keys, err := a.list(ctx)
	op.end(err)
	return keys, err
}

func (a *bridgeAdapter) list(ctx context.Context) ([]string, error) {
	resp, err := a.backend.do(ctx, http.MethodGet, a.storePath(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	keys := []string{}
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode key list: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (a *bridgeAdapter) Clear(ctx context.Context) error {
	ctx, op := startOperation(ctx, "bridge", opClear, a.ns, "")
	err := a.expectNoContent(ctx, http.MethodDelete, a.storePath(), nil)
	op.end(err)
	return err
}

// expectNoContent sends a mutation and accepts any 2xx response.
func (a *bridgeAdapter) expectNoContent(ctx context.Context, method, path string, body []byte) error {
	resp, err := a.backend.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
