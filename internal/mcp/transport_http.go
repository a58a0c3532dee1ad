package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const sessionHeader = "Mcp-Session-Id"

// HTTPTransport implements the MCP streamable HTTP transport: each request
// is a POST answered with either a JSON body or an event stream.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	connected atomic.Bool

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates a new HTTP transport. Servers configured with
// OAuth get a client that fetches and refreshes client-credentials tokens.
func NewHTTPTransport(cfg *ServerConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: cfg.timeout()}
	if cfg.OAuth != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		oauthClient := cc.Client(ctx)
		oauthClient.Timeout = cfg.timeout()
		client = oauthClient
	}
	return &HTTPTransport{
		config: cfg,
		logger: logger.With("mcp_server", cfg.ID, "transport", "http"),
		client: client,
	}
}

// Connect marks the transport ready. The HTTP transport holds no connection;
// the client performs the initialize handshake.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for HTTP transport")
	}
	t.connected.Store(true)
	t.logger.Debug("HTTP transport ready", "url", t.config.URL)
	return nil
}

// Close ends the session.
func (t *HTTPTransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.mu.RLock()
	sessionID := t.sessionID
	t.mu.RUnlock()
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, t.config.URL, nil)
	if err != nil {
		return nil
	}
	t.setHeaders(req)
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
	return nil
}

// Call sends a request and waits for a response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	paramsJSON, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req.Params = paramsJSON

	resp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	var rpcResp *JSONRPCResponse
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		rpcResp, err = readEventStream(resp.Body, id)
	} else {
		rpcResp = &JSONRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpcResp)
	}
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{ServerID: t.config.ID, Method: method, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

// Notify sends a notification (no response expected).
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	paramsJSON, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	notif.Params = paramsJSON

	resp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Connected returns whether the transport is connected.
func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{ServerID: t.config.ID, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	t.mu.RLock()
	if t.sessionID != "" {
		req.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()
}

// readEventStream scans SSE data lines until the response to id arrives.
func readEventStream(r io.Reader, id string) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if respID, ok := resp.ID.(string); ok && respID == id {
			return &resp, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}
