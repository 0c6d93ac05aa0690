package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sseReconnectDelay is how long the notification listener waits before
// re-dialing a dropped event stream.
const sseReconnectDelay = 5 * time.Second

// HTTPTransport posts JSON-RPC envelopes to a tool server's endpoint and
// listens for server notifications on a companion SSE stream. Requests are
// correlated by the HTTP exchange itself, so unlike the stdio transport
// there is no pending-call table.
type HTTPTransport struct {
	cfg    *ServerConfig
	logger *slog.Logger
	client *http.Client

	events    chan *JSONRPCNotification
	connected atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHTTPTransport builds a transport for cfg; Connect starts the SSE
// listener.
func NewHTTPTransport(cfg *ServerConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		cfg:    cfg,
		logger: slog.Default().With("tool_server", cfg.ID, "transport", "http"),
		client: &http.Client{Timeout: timeout},
		events: make(chan *JSONRPCNotification, 100),
		done:   make(chan struct{}),
	}
}

// Connect marks the transport usable and starts the notification listener.
// The endpoint itself is not probed here; the client's initialize call is
// the first real exchange and surfaces an unreachable server immediately.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.cfg.URL == "" {
		return fmt.Errorf("URL is required for http transport")
	}
	t.connected.Store(true)
	t.logger.Info("http transport ready", "url", t.cfg.URL)

	t.wg.Add(1)
	go t.listenEvents(ctx)
	return nil
}

// Close stops the notification listener.
func (t *HTTPTransport) Close() error {
	t.connected.Store(false)
	close(t.done)
	t.wg.Wait()
	return nil
}

// Call posts one request and decodes its response from the HTTP body.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	req := JSONRPCRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	req.Params = raw

	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// Notify posts a notification; the response body, if any, is discarded.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	notif.Params = raw

	_, err = t.post(ctx, notif)
	return err
}

// post sends one JSON-RPC envelope to the server's endpoint and returns the
// raw response body.
func (t *HTTPTransport) post(ctx context.Context, envelope any) ([]byte, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// Events returns the server-initiated notification channel.
func (t *HTTPTransport) Events() <-chan *JSONRPCNotification {
	return t.events
}

// Connected reports whether the transport is usable.
func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

// listenEvents keeps an SSE connection to the server's /sse endpoint open,
// re-dialing after drops, until the transport closes.
func (t *HTTPTransport) listenEvents(ctx context.Context) {
	defer t.wg.Done()

	url := strings.TrimSuffix(t.cfg.URL, "/") + "/sse"
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		t.readEventStream(ctx, url)

		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-time.After(sseReconnectDelay):
		}
	}
}

// readEventStream holds one SSE connection open and routes its data lines
// until the stream drops or the transport closes.
func (t *HTTPTransport) readEventStream(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.logger.Debug("create sse request failed", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("sse connect failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("sse returned non-200", "status", resp.StatusCode)
		return
	}
	t.logger.Debug("sse connected", "url", url)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			t.routeEvent([]byte(data))
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("sse scanner error", "error", err)
	}
}

// routeEvent forwards id-less messages with a method as notifications.
// Anything with an id is a server-initiated request (e.g. sampling), which
// is outside the tool-discovery/tool-call surface this client speaks.
func (t *HTTPTransport) routeEvent(data []byte) {
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}
	if envelope.Method == "" || envelope.ID != nil {
		return
	}
	notif := &JSONRPCNotification{JSONRPC: envelope.JSONRPC, Method: envelope.Method, Params: envelope.Params}
	select {
	case t.events <- notif:
	default:
		t.logger.Warn("notification channel full, dropping", "method", envelope.Method)
	}
}
