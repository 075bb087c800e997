// Package mcp connects to the external MCP memory/graph service and
// exposes its tools to the Tool Registry. Per spec.md §1 the MCP
// memory/graph service itself is an external collaborator; this
// package is the thin, permission-scoped client boundary the core
// requires of it.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// MemoryToolNames are the only tool names the core ever exposes from
// the MCP memory/graph server, per spec.md §4.4.
var MemoryToolNames = []string{
	"open_nodes",
	"create_entities",
	"create_relations",
	"add_observations",
	"read_graph",
}

// ServerConfig describes how to reach the memory/graph MCP server.
type ServerConfig struct {
	Command    string
	Args       []string
	Env        map[string]string
	URL        string
	TimeoutSec int
}

// Manager owns the single MCP memory/graph server connection gated by
// MCP_MEMORY_ENABLED.
type Manager struct {
	mu        sync.Mutex
	cfg       ServerConfig
	client    *mcpclient.Client
	connected atomic.Bool
	cancel    context.CancelFunc
	reconn    int
}

// NewManager creates an MCP Manager for the given server config.
func NewManager(cfg ServerConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Connected reports whether the memory server connection is live.
func (m *Manager) Connected() bool { return m.connected.Load() }

// Start connects to the memory server. Non-fatal: logs and returns an
// error the caller may choose to ignore (memory tools simply stay
// gated off), matching spec.md §7's "mcp_unavailable" external error
// classification.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		slog.Warn("mcp.memory.connect_failed", "error", err)
		go m.reconnectLoop(ctx)
		return fmt.Errorf("mcp_unavailable: %w", err)
	}
	go m.healthLoop(ctx)
	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	var c *mcpclient.Client
	var err error
	if m.cfg.URL != "" {
		c, err = mcpclient.NewStreamableHttpClient(m.cfg.URL)
	} else {
		env := make([]string, 0, len(m.cfg.Env))
		for k, v := range m.cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err = mcpclient.NewStdioMCPClient(m.cfg.Command, env, m.cfg.Args...)
	}
	if err != nil {
		return err
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.Initialize(initCtx, mcp.InitializeRequest{}); err != nil {
		_ = c.Close()
		return err
	}

	m.mu.Lock()
	m.client = c
	m.reconn = 0
	m.mu.Unlock()
	m.connected.Store(true)
	slog.Info("mcp.memory.connected")
	return nil
}

func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			c := m.client
			m.mu.Unlock()
			if c == nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Warn("mcp.memory.health_check_failed", "error", err)
				m.connected.Store(false)
				go m.reconnectLoop(ctx)
				return
			}
		}
	}
}

func (m *Manager) reconnectLoop(ctx context.Context) {
	backoff := initialBackoff
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err := m.connect(ctx); err == nil {
			go m.healthLoop(ctx)
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	slog.Error("mcp.memory.reconnect_exhausted", "attempts", maxReconnectAttempts)
}

// Stop disconnects from the memory server.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	m.connected.Store(false)
}

// CallTool invokes a memory tool by name. Callers (the Tool Registry)
// are responsible for restricting name to MemoryToolNames and the
// caller to Manager-only before reaching here.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil || !m.connected.Load() {
		return nil, fmt.Errorf("mcp_unavailable: memory server not connected")
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.CallTool(ctx, req)
}

// ResultText flattens a CallToolResult's text content blocks into one
// string, the shape every MemoryToolNames response takes in practice.
func ResultText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
