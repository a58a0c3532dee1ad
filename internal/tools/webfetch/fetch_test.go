package webfetch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/internal/infra"
)

func TestWebFetch_ExtractsHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Fetch  Test</title><style>body{color:red}</style></head>
<body>
<nav>Home | About</nav>
<main><h1>Heading</h1><p>Hello &amp; welcome.</p><script>alert(1)</script>
<ul><li>one</li><li>two</li></ul></main>
</body>
</html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	tool := New(Config{AllowPrivate: true})
	raw, _ := json.Marshal(map[string]any{"url": server.URL})
	result, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %s", result.Content)
	}

	var payload struct {
		Title     string `json:"title"`
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Title != "Fetch Test" {
		t.Errorf("title = %q", payload.Title)
	}
	for _, want := range []string{"Heading", "Hello & welcome.", "- one", "- two"} {
		if !strings.Contains(payload.Content, want) {
			t.Errorf("content %q missing %q", payload.Content, want)
		}
	}
	for _, unwanted := range []string{"alert", "color:red", "About"} {
		if strings.Contains(payload.Content, unwanted) {
			t.Errorf("content %q should not contain %q", payload.Content, unwanted)
		}
	}
	if payload.Truncated {
		t.Error("short page marked truncated")
	}
}

func TestWebFetch_Truncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("é", 200)))
	}))
	defer server.Close()

	tool := New(Config{MaxChars: 100, AllowPrivate: true})
	raw, _ := json.Marshal(map[string]any{"url": server.URL, "max_chars": 50})
	result, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	var payload struct {
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !payload.Truncated || payload.Content != strings.Repeat("é", 50)+"..." {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestWebFetch_UpstreamStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			tool := New(Config{AllowPrivate: true})
			raw, _ := json.Marshal(map[string]any{"url": server.URL})
			_, err := tool.Execute(context.Background(), raw)
			var se *StatusError
			if !errors.As(err, &se) || se.Status != tt.status {
				t.Fatalf("err = %v, want StatusError %d", err, tt.status)
			}
			if got := infra.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestWebFetch_UnsupportedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer server.Close()

	tool := New(Config{AllowPrivate: true})
	raw, _ := json.Marshal(map[string]any{"url": server.URL})
	if _, err := tool.Execute(context.Background(), raw); err == nil || !strings.Contains(err.Error(), "unsupported content type") {
		t.Fatalf("err = %v", err)
	}
}

func TestWebFetch_RejectsInput(t *testing.T) {
	tool := New(Config{})
	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"not json", `{`, "invalid parameters"},
		{"missing url", `{}`, "missing required parameter"},
		{"bad scheme", `{"url":"file:///etc/passwd"}`, "scheme must be http or https"},
		{"localhost", `{"url":"http://localhost:8080/"}`, "address not allowed"},
		{"loopback literal", `{"url":"http://127.0.0.1/"}`, "address not allowed"},
		{"metadata", `{"url":"http://169.254.169.254/latest/meta-data"}`, "address not allowed"},
		{"private v6", `{"url":"http://[fd00::1]/"}`, "address not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if !result.IsError || !strings.Contains(result.Content, tt.want) {
				t.Fatalf("result = %+v, want error containing %q", result, tt.want)
			}
		})
	}
}

func TestWebFetch_BlocksPrivateRedirect(t *testing.T) {
	tool := New(Config{})
	err := tool.client.CheckRedirect(&http.Request{URL: mustParse(t, "http://10.0.0.7/admin")}, nil)
	if !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("CheckRedirect = %v, want ErrBlockedAddress", err)
	}
}

func TestGuardDial(t *testing.T) {
	tests := []struct {
		address string
		blocked bool
	}{
		{"127.0.0.1:80", true},
		{"10.1.2.3:443", true},
		{"192.168.0.10:80", true},
		{"[::1]:80", true},
		{"0.0.0.0:80", true},
		{"169.254.169.254:80", true},
		{"93.184.216.34:443", false},
		{"[2606:4700::1111]:443", false},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			err := guardDial("tcp", tt.address, nil)
			if got := errors.Is(err, ErrBlockedAddress); got != tt.blocked {
				t.Errorf("guardDial(%s) = %v, blocked want %v", tt.address, err, tt.blocked)
			}
		})
	}
}

func TestIsPrivateOrReserved(t *testing.T) {
	if !isPrivateOrReserved(net.ParseIP("172.16.5.4")) {
		t.Error("172.16.0.0/12 should be private")
	}
	if isPrivateOrReserved(net.ParseIP("8.8.8.8")) {
		t.Error("8.8.8.8 should be public")
	}
}

func TestExtractText(t *testing.T) {
	title, text := ExtractText(strings.NewReader(`<html><head><title>T</title></head><body><p>a</p><p>b</p><svg><text>x</text></svg><br/>c</body></html>`))
	if title != "T" {
		t.Errorf("title = %q", title)
	}
	if text != "a\n\nb\n\nc" {
		t.Errorf("text = %q", text)
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}
