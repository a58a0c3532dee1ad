package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeServer is a minimal MCP server speaking JSON-RPC over HTTP.
type fakeServer struct {
	t     *testing.T
	tools [][]*Tool // pages

	mu        sync.Mutex
	methods   []string
	sessions  []string
	authz     []string
	useSSE    bool
	failWith  int
	callCount int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.sessions = append(f.sessions, r.Header.Get(sessionHeader))
	f.authz = append(f.authz, r.Header.Get("Authorization"))
	failWith := f.failWith
	useSSE := f.useSSE
	pages := f.tools
	f.mu.Unlock()

	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if failWith != 0 {
		http.Error(w, "unavailable", failWith)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()

	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		w.Header().Set(sessionHeader, "sess-1")
		resp.Result = json.RawMessage(`{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake","version":"0.1"}}`)
	case "tools/list":
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Params, &params)
		page := 0
		if params.Cursor != "" {
			fmt.Sscanf(params.Cursor, "page-%d", &page)
		}
		result := ListToolsResult{}
		if page < len(pages) {
			result.Tools = pages[page]
		}
		if page+1 < len(pages) {
			result.NextCursor = fmt.Sprintf("page-%d", page+1)
		}
		resp.Result, _ = json.Marshal(result)
	case "tools/call":
		f.mu.Lock()
		f.callCount++
		f.mu.Unlock()
		var params CallToolParams
		_ = json.Unmarshal(req.Params, &params)
		switch params.Name {
		case "echo":
			resp.Result, _ = json.Marshal(ToolCallResult{Content: []ToolResultContent{
				{Type: "text", Text: "echo:"},
				{Type: "text", Text: string(params.Arguments)},
			}})
		case "fail":
			resp.Result = json.RawMessage(`{"content":[{"type":"text","text":"disk full"}],"isError":true}`)
		default:
			resp.Error = &JSONRPCError{Code: ErrCodeToolNotFound, Message: "unknown tool " + params.Name}
		}
	default:
		resp.Error = &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "method not found"}
	}

	data, _ := json.Marshal(resp)
	if useSSE {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (f *fakeServer) seenMethods() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.methods, ",")
}

func (f *fakeServer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func newFakeServer(t *testing.T, pages ...[]*Tool) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{t: t, tools: pages}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func tool(name string) *Tool {
	return &Tool{Name: name, Description: name + " tool", InputSchema: json.RawMessage(`{"type":"object"}`)}
}
