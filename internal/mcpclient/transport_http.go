package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// httpTransport exchanges JSON-RPC requests over plain HTTP POSTs. A tool
// call is request/response, so no server-push notification channel is kept
// open.
type httpTransport struct {
	cfg    ServerConfig
	logger *slog.Logger
	client *http.Client

	connected atomic.Bool
}

func newHTTPTransport(cfg ServerConfig, logger *slog.Logger) *httpTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		cfg:    cfg,
		logger: logger.With("mcp_server", cfg.ID, "transport", "http"),
		client: &http.Client{Timeout: timeout},
	}
}

func (t *httpTransport) Connect(ctx context.Context) error {
	t.connected.Store(true)
	t.logger.Info("external tool endpoint ready", "url", t.cfg.URL)
	return nil
}

func (t *httpTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("mcpclient: %s: not connected", t.cfg.ID)
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: marshal params: %w", err)
		}
		raw = b
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: generate request id: %w", err)
	}
	req := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id.String(), Method: method, Params: raw}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcpclient: %s returned HTTP %d: %s", t.cfg.ID, resp.StatusCode, string(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("mcpclient: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcpclient: %s returned error %d: %s", t.cfg.ID, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
