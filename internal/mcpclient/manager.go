package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ghlggc/Jimi-sub000/internal/toolkit"
)

// Manager owns every configured external tool server's Client and
// registers its tools onto a toolkit.Registry.
type Manager struct {
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "mcpclient"), clients: make(map[string]*Client)}
}

// ConnectAll connects every server in cfgs and registers its tools onto
// registry. A server that fails to connect is logged and skipped so one
// misconfigured external tool process doesn't prevent the engine from
// starting with the rest.
func (m *Manager) ConnectAll(ctx context.Context, cfgs []ServerConfig, registry *toolkit.Registry) {
	for _, cfg := range cfgs {
		if err := m.connect(ctx, cfg, registry); err != nil {
			m.logger.Error("failed to connect external tool server", "server", cfg.ID, "error", err)
		}
	}
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig, registry *toolkit.Registry) error {
	client, err := NewClient(cfg, m.logger)
	if err != nil {
		return err
	}
	tools, err := client.Connect(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[cfg.ID] = client
	m.mu.Unlock()

	for _, t := range tools {
		registry.Register(t)
	}
	m.logger.Info("connected external tool server", "server", cfg.ID, "tools", len(tools))
	return nil
}

// Close disconnects every connected server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, c := range m.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", id, err)
		}
	}
	return firstErr
}
