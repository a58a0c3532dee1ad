// Package webfetch implements the web_fetch tool: an HTTP GET with readable
// text extraction and protection against requests to internal networks.
package webfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/tools"
)

const (
	defaultMaxChars = 10000
	defaultMaxBytes = 2 << 20
	defaultTimeout  = 15 * time.Second
	userAgent       = "conduit-webfetch/1.0"
)

// ErrBlockedAddress is returned when a URL resolves to a private or reserved address.
var ErrBlockedAddress = errors.New("address not allowed")

// Config controls web_fetch limits.
type Config struct {
	MaxChars int
	MaxBytes int64
	Timeout  time.Duration

	// AllowPrivate disables the internal-network guard.
	AllowPrivate bool
}

// StatusError reports a non-2xx response from the fetched site.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d", e.Status) }

// StatusCode exposes the upstream status for retry classification.
func (e *StatusError) StatusCode() int { return e.Status }

// Tool implements web_fetch.
type Tool struct {
	config Config
	client *http.Client
}

type fetchArgs struct {
	URL      string `json:"url" jsonschema:"description=Absolute http or https URL to fetch."`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Maximum characters of text to return.,minimum=1"`
}

// New creates a web_fetch tool.
func New(cfg Config) *Tool {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !cfg.AllowPrivate {
		dialer.Control = guardDial
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &Tool{
		config: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return checkURL(req.URL, cfg.AllowPrivate)
			},
		},
	}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "web_fetch" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Fetch a web page over HTTP(S) and return its readable text."
}

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage { return tools.SchemaFor[fetchArgs]() }

// Execute fetches the page. Upstream failures are returned as errors so the
// orchestrator can classify and retry them; bad input is reported to the model.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var input fetchArgs
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.Errorf("invalid parameters: %v", err), nil
	}
	raw := strings.TrimSpace(input.URL)
	if raw == "" {
		return tools.Errorf("missing required parameter: url"), nil
	}
	target, err := url.Parse(raw)
	if err != nil {
		return tools.Errorf("invalid url: %v", err), nil
	}
	if err := checkURL(target, t.config.AllowPrivate); err != nil {
		return tools.Errorf("url rejected: %v", err), nil
	}

	limit := t.config.MaxChars
	if input.MaxChars > 0 && input.MaxChars < limit {
		limit = input.MaxChars
	}

	title, content, err := t.fetch(ctx, target.String())
	if err != nil {
		if errors.Is(err, ErrBlockedAddress) {
			return tools.Errorf("url rejected: %v", err), nil
		}
		return nil, err
	}

	truncated := false
	if utf8.RuneCountInString(content) > limit {
		content = string([]rune(content)[:limit]) + "..."
		truncated = true
	}
	result := map[string]any{
		"url":     target.String(),
		"content": content,
	}
	if title != "" {
		result["title"] = title
	}
	if truncated {
		result["truncated"] = true
	}
	return tools.JSONOutput(result)
}

func (t *Tool) fetch(ctx context.Context, target string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, application/json;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", "", &StatusError{Status: resp.StatusCode}
	}

	body := io.LimitReader(resp.Body, t.config.MaxBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text := ExtractText(body)
		return title, text, nil
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || mediaType == "":
		data, err := io.ReadAll(body)
		if err != nil {
			return "", "", fmt.Errorf("failed to read body: %w", err)
		}
		return "", strings.TrimSpace(string(data)), nil
	default:
		return "", "", fmt.Errorf("unsupported content type: %s", mediaType)
	}
}

func checkURL(u *url.URL, allowPrivate bool) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("url must have a host")
	}
	if allowPrivate {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateOrReserved(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// guardDial rejects connections to private addresses after DNS resolution,
// which also covers redirects and rebinding.
func guardDial(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || isPrivateOrReserved(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

var metadataIP = net.ParseIP("169.254.169.254")

func isPrivateOrReserved(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast() ||
		ip.Equal(metadataIP)
}
