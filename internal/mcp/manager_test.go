package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/internal/agent"
)

func startManager(t *testing.T, servers ...*ServerConfig) *Manager {
	t.Helper()
	m := NewManager(&Config{Enabled: true, Servers: servers}, discardLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Stop() })
	return m
}

func TestManagerListToolsAcrossServers(t *testing.T) {
	_, docs := newFakeServer(t, []*Tool{tool("search"), tool("echo")})
	_, web := newFakeServer(t, []*Tool{tool("search"), tool("fetch page")})

	m := startManager(t,
		&ServerConfig{ID: "docs", Transport: TransportHTTP, URL: docs.URL},
		&ServerConfig{ID: "web", Transport: TransportHTTP, URL: web.URL},
	)

	defs, err := m.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var got []string
	for _, d := range defs {
		got = append(got, d.ServerID+":"+d.Name)
	}
	want := "docs:search,docs:echo,web:web_search,web:fetch_page"
	if strings.Join(got, ",") != want {
		t.Fatalf("tools = %v, want %s", got, want)
	}
	if string(defs[0].Parameters) != `{"type":"object"}` {
		t.Errorf("schema = %s", defs[0].Parameters)
	}
}

func TestManagerCallToolRoutesByExposedName(t *testing.T) {
	docsFake, docs := newFakeServer(t, []*Tool{tool("echo")})
	webFake, web := newFakeServer(t, []*Tool{tool("echo")})

	m := startManager(t,
		&ServerConfig{ID: "docs", Transport: TransportHTTP, URL: docs.URL},
		&ServerConfig{ID: "web", Transport: TransportHTTP, URL: web.URL},
	)

	out, err := m.CallTool(context.Background(), "web_echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out.IsError || !strings.Contains(out.Content, `{"x":1}`) {
		t.Fatalf("out = %+v", out)
	}
	if docsFake.calls() != 0 || webFake.calls() != 1 {
		t.Fatalf("calls docs=%d web=%d", docsFake.calls(), webFake.calls())
	}

	out, err = m.CallTool(context.Background(), "echo", nil)
	if err != nil || out.IsError {
		t.Fatalf("CallTool echo = %+v, %v", out, err)
	}
}

func TestManagerCallToolReportsToolErrors(t *testing.T) {
	_, srv := newFakeServer(t, []*Tool{tool("fail")})
	m := startManager(t, &ServerConfig{ID: "ops", Transport: TransportHTTP, URL: srv.URL})

	out, err := m.CallTool(context.Background(), "fail", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !out.IsError || out.Content != "disk full" {
		t.Fatalf("out = %+v", out)
	}
}

func TestManagerUnknownTool(t *testing.T) {
	m := startManager(t)
	_, err := m.CallTool(context.Background(), "nope", nil)
	if !errors.Is(err, agent.ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestManagerSkipsUnreachableServers(t *testing.T) {
	_, srv := newFakeServer(t, []*Tool{tool("echo")})
	m := startManager(t,
		&ServerConfig{ID: "down", Transport: TransportHTTP, URL: "http://127.0.0.1:1"},
		&ServerConfig{ID: "up", Transport: TransportHTTP, URL: srv.URL},
	)

	defs, _ := m.ListTools(context.Background())
	if len(defs) != 1 || defs[0].ServerID != "up" {
		t.Fatalf("defs = %+v", defs)
	}
	status := m.Status()
	if len(status) != 2 || status[0].Connected || !status[1].Connected || status[1].Tools != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status[1].Name != "fake" {
		t.Errorf("status name = %q", status[1].Name)
	}
}

func TestManagerRefreshesStaleServers(t *testing.T) {
	fake, srv := newFakeServer(t, []*Tool{tool("echo")})
	m := startManager(t, &ServerConfig{ID: "docs", Transport: TransportHTTP, URL: srv.URL})

	fake.mu.Lock()
	fake.tools = [][]*Tool{{tool("echo"), tool("added")}}
	fake.mu.Unlock()

	client, _ := m.Client("docs")
	client.handleNotification(&JSONRPCNotification{Method: "notifications/tools/list_changed"})

	defs, _ := m.ListTools(context.Background())
	if len(defs) != 2 || defs[1].Name != "added" {
		t.Fatalf("defs = %+v", defs)
	}
	if client.Stale() {
		t.Error("client still stale after refresh")
	}
}

func TestManagerDisconnect(t *testing.T) {
	_, srv := newFakeServer(t, []*Tool{tool("echo")})
	m := startManager(t, &ServerConfig{ID: "docs", Transport: TransportHTTP, URL: srv.URL})

	if err := m.Disconnect("docs"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if defs, _ := m.ListTools(context.Background()); len(defs) != 0 {
		t.Fatalf("defs after disconnect = %+v", defs)
	}
	if err := m.Disconnect("docs"); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if err := m.Connect(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown server")
	}
}

func TestManagerDisabled(t *testing.T) {
	m := NewManager(&Config{Servers: []*ServerConfig{{ID: "x", Transport: TransportHTTP, URL: "http://127.0.0.1:1"}}}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := m.Client("x"); ok {
		t.Fatal("disabled manager connected a server")
	}
}

func TestExposedName(t *testing.T) {
	used := map[string]toolRef{}
	take := func(server, name string) string {
		n := exposedName(server, name, used)
		used[n] = toolRef{serverID: server, name: name}
		return n
	}

	if got := take("a", "search"); got != "search" {
		t.Errorf("first = %q", got)
	}
	if got := take("b", "search"); got != "b_search" {
		t.Errorf("collision = %q", got)
	}
	used["c_search"] = toolRef{}
	used["search"] = toolRef{}
	if got := take("c", "search"); got != "c_search_2" {
		t.Errorf("double collision = %q", got)
	}
	if got := take("a", "read file!"); got != "read_file" {
		t.Errorf("sanitized = %q", got)
	}
	long := strings.Repeat("x", 80)
	if got := take("a", long); len(got) != maxToolNameLen {
		t.Errorf("long name length = %d", len(got))
	}
	if got := take("a", "***"); got != "tool" {
		t.Errorf("empty after sanitize = %q", got)
	}
}
