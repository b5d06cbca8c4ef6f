// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package channels

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/config"
	"github.com/parziva-1/zeroclaw/pkg/logger"
	"github.com/parziva-1/zeroclaw/pkg/utils"
)

const (
	acpProtocolVersion = 1
	acpResponseTimeout = 30 * time.Second
	acpSendAttempts    = 2
)

// ACPChannel drives a local `opencode acp` subprocess over
// newline-delimited JSON-RPC 2.0 on its stdio. The process is spawned
// lazily on first send, bootstrapped with initialize and session/new,
// and reused across sends until it dies.
type ACPChannel struct {
	cfg    config.ACPConfig
	policy SenderPolicy

	// sendMu serializes whole send operations; procMu guards only the
	// process slot so health checks stay cheap.
	sendMu sync.Mutex
	procMu sync.Mutex
	proc   *acpProcess

	respMu   sync.RWMutex
	respChan Channel
}

type acpProcess struct {
	cmd       *exec.Cmd
	stdin     *json.Encoder
	stdinPipe interface{ Close() error }
	stdout    *bufio.Reader
	sessionID string
	nextID    uint64
	done      chan struct{}
}

func NewACPChannel(cfg config.ACPConfig) (*ACPChannel, error) {
	if strings.TrimSpace(cfg.OpencodePath) == "" {
		cfg.OpencodePath = "opencode"
	}
	return &ACPChannel{
		cfg: cfg,
		policy: SenderPolicy{
			Allowed: cfg.AllowedUsers,
		},
	}, nil
}

func (c *ACPChannel) Name() string { return "acp" }

// SetResponseChannel routes agent replies to another channel. Forwarding
// is best-effort; failures are logged, never returned.
func (c *ACPChannel) SetResponseChannel(ch Channel) {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	c.respChan = ch
}

// Listen keeps the channel registered. ACP is request/response only, so
// there is nothing to pull; the loop just waits for cancellation.
func (c *ACPChannel) Listen(ctx context.Context, sink chan<- bus.ChannelMessage) error {
	logger.InfoC("acp", "ACP channel active (request/response mode, no inbound events)")
	<-ctx.Done()
	return nil
}

func (c *ACPChannel) Send(ctx context.Context, msg bus.SendMessage) error {
	if !c.policy.Admits(msg.Recipient) {
		logger.WarnCF("acp", "Recipient not in allow list, dropping message", map[string]interface{}{
			"recipient": msg.Recipient,
		})
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= acpSendAttempts; attempt++ {
		proc, err := c.checkoutProcess(ctx)
		if err != nil {
			return err
		}

		response, err := c.prompt(ctx, proc, msg.Content)
		if err == nil {
			if proc.alive() {
				c.restoreProcess(proc)
			} else {
				proc.stop()
				c.restoreProcess(nil)
			}
			c.forwardResponse(ctx, response, msg.Recipient)
			return nil
		}

		proc.stop()
		c.restoreProcess(nil)
		lastErr = err
		if attempt < acpSendAttempts {
			logger.WarnCF("acp", "Prompt failed, restarting agent process", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
	}
	return lastErr
}

// HealthCheck reports whether a live agent process is currently held.
// A dead process found here is reaped so the next send starts fresh.
func (c *ACPChannel) HealthCheck(ctx context.Context) bool {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.proc == nil {
		return false
	}
	if !c.proc.alive() {
		c.proc.stop()
		c.proc = nil
		return false
	}
	return true
}

// Close kills any held agent process.
func (c *ACPChannel) Close() error {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.proc != nil {
		c.proc.stop()
		c.proc = nil
	}
	return nil
}

// checkoutProcess takes exclusive ownership of the process slot,
// spawning and bootstrapping a fresh agent when the slot is empty or
// the held process has died.
func (c *ACPChannel) checkoutProcess(ctx context.Context) (*acpProcess, error) {
	c.procMu.Lock()
	proc := c.proc
	c.proc = nil
	c.procMu.Unlock()

	if proc != nil {
		if proc.alive() {
			return proc, nil
		}
		logger.WarnC("acp", "Agent process died, spawning a new one")
		proc.stop()
	}

	return c.spawnProcess(ctx)
}

func (c *ACPChannel) restoreProcess(proc *acpProcess) {
	c.procMu.Lock()
	c.proc = proc
	c.procMu.Unlock()
}

func (c *ACPChannel) spawnProcess(ctx context.Context) (*acpProcess, error) {
	args := append([]string{"acp"}, c.cfg.ExtraArgs...)
	cmd := exec.Command(c.cfg.OpencodePath, args...)
	if c.cfg.Workdir != "" {
		cmd.Dir = c.cfg.Workdir
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("acp stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("acp stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s acp: %w", c.cfg.OpencodePath, err)
	}

	proc := &acpProcess{
		cmd:       cmd,
		stdin:     json.NewEncoder(stdin),
		stdinPipe: stdin,
		stdout:    bufio.NewReader(stdout),
		nextID:    1,
		done:      make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		close(proc.done)
	}()

	if err := c.bootstrap(ctx, proc); err != nil {
		proc.stop()
		return nil, err
	}
	logger.InfoCF("acp", "Agent process ready", map[string]interface{}{
		"pid":     cmd.Process.Pid,
		"session": proc.sessionID,
	})
	return proc, nil
}

func (c *ACPChannel) bootstrap(ctx context.Context, proc *acpProcess) error {
	initParams := map[string]interface{}{
		"protocol_version": acpProtocolVersion,
		"client_capabilities": map[string]interface{}{
			"fs": map[string]interface{}{
				"read_text_file":  false,
				"write_text_file": false,
			},
			"terminal": false,
		},
		"client_info": map[string]interface{}{
			"name":    "zeroclaw",
			"title":   "ZeroClaw",
			"version": "0.1.0",
		},
	}
	if _, err := c.roundTrip(ctx, proc, "initialize", initParams); err != nil {
		return fmt.Errorf("acp initialize: %w", err)
	}

	cwd := c.cfg.Workdir
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	result, err := c.roundTrip(ctx, proc, "session/new", map[string]interface{}{
		"cwd":         cwd,
		"mcp_servers": []interface{}{},
	})
	if err != nil {
		return fmt.Errorf("acp session/new: %w", err)
	}
	var session struct {
		SessionID string `json:"sessionId"`
		SnakeID   string `json:"session_id"`
	}
	if err := json.Unmarshal(result, &session); err != nil {
		return fmt.Errorf("%w: session/new result: %v", ErrProtocol, err)
	}
	proc.sessionID = session.SessionID
	if proc.sessionID == "" {
		proc.sessionID = session.SnakeID
	}
	if proc.sessionID == "" {
		return fmt.Errorf("%w: session/new returned no session id", ErrProtocol)
	}
	return nil
}

func (c *ACPChannel) prompt(ctx context.Context, proc *acpProcess, content string) (string, error) {
	result, err := c.roundTrip(ctx, proc, "session/prompt", map[string]interface{}{
		"session_id": proc.sessionID,
		"prompt": []map[string]interface{}{
			{"type": "text", "text": content},
		},
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("%w: prompt result: %v", ErrProtocol, err)
	}
	return out.Response, nil
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// roundTrip writes one JSON-RPC request line and blocks for its
// response line. The response id must match the request id; the agent
// never interleaves frames on stdout.
func (c *ACPChannel) roundTrip(ctx context.Context, proc *acpProcess, method string, params interface{}) (json.RawMessage, error) {
	id := proc.nextID
	proc.nextID++
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	if err := proc.stdin.Encode(req); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrDisconnected, method, err)
	}

	line, err := proc.readLine(ctx, acpResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrProtocol, method, err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("%w: %s response id %d, want %d", ErrProtocol, method, resp.ID, id)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s error %d: %s", ErrUpstreamRejected, method, resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

type acpReadResult struct {
	line []byte
	err  error
}

// readLine reads one newline-delimited frame from the agent's stdout,
// bounded by timeout and ctx. The caller discards the process on any
// error here, which also unblocks the reader goroutine.
func (p *acpProcess) readLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	resultCh := make(chan acpReadResult, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		resultCh <- acpReadResult{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, r.err)
		}
		return r.line, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response within %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *acpProcess) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *acpProcess) stop() {
	p.stdinPipe.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

func (c *ACPChannel) forwardResponse(ctx context.Context, response, recipient string) {
	if strings.TrimSpace(response) == "" {
		return
	}
	c.respMu.RLock()
	target := c.respChan
	c.respMu.RUnlock()

	if target == nil {
		logger.InfoCF("acp", "Agent response (no response channel configured)", map[string]interface{}{
			"response": utils.Truncate(response, 200),
		})
		return
	}
	err := target.Send(ctx, bus.SendMessage{
		Recipient: recipient,
		Content:   response,
		Channel:   target.Name(),
	})
	if err != nil {
		logger.WarnCF("acp", "Forwarding agent response failed", map[string]interface{}{
			"channel": target.Name(),
			"error":   err.Error(),
		})
	}
}
