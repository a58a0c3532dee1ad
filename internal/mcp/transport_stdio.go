package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// StdioTransport runs a server as a subprocess and exchanges newline-delimited
// JSON-RPC messages over its stdin and stdout.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser
	writeMu sync.Mutex

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	notifyMu sync.RWMutex
	onNotify func(*JSONRPCNotification)

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(cfg *ServerConfig, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:  cfg,
		logger:  logger.With("mcp_server", cfg.ID, "transport", "stdio"),
		pending: make(map[int64]chan *JSONRPCResponse),
		done:    make(chan struct{}),
	}
}

// OnNotification registers a handler for server notifications.
func (t *StdioTransport) OnNotification(fn func(*JSONRPCNotification)) {
	t.notifyMu.Lock()
	t.onNotify = fn
	t.notifyMu.Unlock()
}

// Connect starts the subprocess. The process outlives ctx; Close stops it.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.process = exec.Command(t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)
	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info("started MCP server process",
		"command", t.config.Command,
		"pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()
	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}
	return nil
}

// Close stops the subprocess.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.process != nil && t.process.Process != nil {
			_ = t.process.Process.Kill()
			t.wg.Wait()
			_ = t.process.Wait()
		}
	})
	return nil
}

// Call sends a request and waits for a response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	paramsJSON, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req.Params = paramsJSON

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(t.config.timeout())
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, &RPCError{ServerID: t.config.ID, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("mcp %s: request timeout after %v", t.config.ID, t.config.timeout())
	case <-t.done:
		return nil, fmt.Errorf("mcp %s: transport closed: %w", t.config.ID, io.ErrUnexpectedEOF)
	}
}

// Notify sends a notification (no response expected).
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	paramsJSON, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	notif.Params = paramsJSON
	if err := t.write(notif); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Connected returns whether the transport is connected.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

func (t *StdioTransport) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(append(data, '\n'))
	return err
}

// readLoop reads messages from stdout until the process exits.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer close(t.done)
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		t.processLine(line)
	}
	if err := t.stdout.Err(); err != nil {
		t.logger.Error("stdout scanner error", "error", err)
	}
}

// processLine routes one message to a pending call or the notification handler.
func (t *StdioTransport) processLine(line []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(line, &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		default:
			t.logger.Warn("unexpected response ID type", "id", resp.ID)
			return
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal(line, &notif); err == nil && notif.Method != "" {
		t.notifyMu.RLock()
		fn := t.onNotify
		t.notifyMu.RUnlock()
		if fn != nil {
			fn(&notif)
		}
	}
}

// logStderr logs stderr output from the subprocess.
func (t *StdioTransport) logStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
