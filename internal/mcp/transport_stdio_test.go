package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const stdioHelperEnv = "CONDUIT_MCP_STDIO_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(stdioHelperEnv) == "1" {
		runStdioHelper()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runStdioHelper turns the test binary into a line-delimited MCP server.
func runStdioHelper() {
	out := bufio.NewWriter(os.Stdout)
	send := func(v any) {
		data, _ := json.Marshal(v)
		out.Write(append(data, '\n'))
		out.Flush()
	}
	fmt.Fprintln(os.Stderr, "helper started")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req JSONRPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			resp.Result = json.RawMessage(`{"protocolVersion":"2025-03-26","serverInfo":{"name":"helper","version":"1"}}`)
		case "tools/list":
			resp.Result = json.RawMessage(`{"tools":[{"name":"echo","inputSchema":{"type":"object"}},{"name":"notify","inputSchema":{"type":"object"}}]}`)
		case "tools/call":
			var params CallToolParams
			_ = json.Unmarshal(req.Params, &params)
			switch params.Name {
			case "hang":
				continue
			case "notify":
				send(JSONRPCNotification{JSONRPC: "2.0", Method: "notifications/tools/list_changed"})
			}
			result, _ := json.Marshal(ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: params.Name + " " + string(params.Arguments)}}})
			resp.Result = result
		default:
			resp.Error = &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "no"}
		}
		send(resp)
	}
}

func helperConfig() *ServerConfig {
	return &ServerConfig{
		ID:      "helper",
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     map[string]string{stdioHelperEnv: "1"},
		Timeout: 5 * time.Second,
	}
}

func TestStdioClientRoundTrip(t *testing.T) {
	client := NewClient(helperConfig(), discardLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if client.ServerInfo().Name != "helper" || len(client.Tools()) != 2 {
		t.Fatalf("info=%+v tools=%d", client.ServerInfo(), len(client.Tools()))
	}

	res, err := client.CallTool(context.Background(), "echo", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Text() != `echo {"a":1}` {
		t.Fatalf("text = %q", res.Text())
	}

	if _, err := client.CallTool(context.Background(), "notify", nil); err != nil {
		t.Fatalf("CallTool notify: %v", err)
	}
	if !client.Stale() {
		t.Fatal("list_changed notification did not mark tools stale")
	}

	_, err = client.transport.Call(context.Background(), "resources/list", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrCodeMethodNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestStdioCallFailsWhenProcessExits(t *testing.T) {
	client := NewClient(helperConfig(), discardLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), "hang", nil)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	client.Close()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected error after close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return after close")
	}
	if client.Connected() {
		t.Error("still connected after close")
	}
}

func TestStdioCallHonoursContext(t *testing.T) {
	client := NewClient(helperConfig(), discardLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.CallTool(ctx, "hang", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestStdioProcessLine(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{ID: "x", Command: "x"}, discardLogger())
	ch := make(chan *JSONRPCResponse, 1)
	tr.pending[7] = ch

	var notified []string
	tr.OnNotification(func(n *JSONRPCNotification) { notified = append(notified, n.Method) })

	tr.processLine([]byte(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`))
	tr.processLine([]byte(`{"jsonrpc":"2.0","method":"notifications/message"}`))
	tr.processLine([]byte(`{"jsonrpc":"2.0","id":"str","result":{}}`))
	tr.processLine([]byte(`garbage`))

	select {
	case resp := <-ch:
		if string(resp.Result) != `{"ok":true}` {
			t.Fatalf("result = %s", resp.Result)
		}
	default:
		t.Fatal("response not delivered")
	}
	if _, ok := tr.pending[7]; ok {
		t.Error("pending entry not removed")
	}
	if strings.Join(notified, ",") != "notifications/message" {
		t.Errorf("notified = %v", notified)
	}
}

func TestStdioTransportNotConnected(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{ID: "x"}, nil)
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("expected error without command")
	}
	if _, err := tr.Call(context.Background(), "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Call = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
}
