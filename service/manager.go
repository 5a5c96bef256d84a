package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/health"
)

// DefaultStopTimeout bounds each component's shutdown.
const DefaultStopTimeout = 5 * time.Second

// Manager owns the pipeline's components.
type Manager struct {
	registry *component.Registry
	deps     component.Dependencies
	logger   *slog.Logger
	monitor  *health.Monitor

	stopTimeout time.Duration

	mu         sync.Mutex
	components []managed
	running    bool
}

// managed pairs a component with the name it was configured under.
type managed struct {
	name      string
	instance  component.Discoverable
	lifecycle component.LifecycleComponent
}

// NewManager builds a manager over the given registry and shared
// dependencies.
func NewManager(registry *component.Registry, deps component.Dependencies, monitor *health.Monitor) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:    registry,
		deps:        deps,
		logger:      logger,
		monitor:     monitor,
		stopTimeout: DefaultStopTimeout,
	}
}

// Build creates every enabled component named in the configuration.
// Creation failures are fatal: a half-built pipeline would silently drop
// one leg's data.
func (m *Manager) Build(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, spec := range cfg.Components {
		if !spec.IsEnabled() {
			m.logger.Info("component disabled", "component", spec.Name)
			continue
		}

		instance, err := m.registry.CreateComponent(spec.Name, spec.Factory, spec.Config, m.deps)
		if err != nil {
			return errors.WrapFatal(err, "Manager", "Build", "create "+spec.Name)
		}

		entry := managed{name: spec.Name, instance: instance}
		if lc, ok := component.AsLifecycleComponent(instance); ok {
			entry.lifecycle = lc
		}
		m.components = append(m.components, entry)

		if m.monitor != nil {
			inst := instance
			name := spec.Name
			m.monitor.Register(name, func() health.Status {
				return health.FromComponent(name, inst.Health())
			})
		}
		m.logger.Info("component created", "component", spec.Name, "factory", spec.Factory)
	}

	if len(m.components) == 0 {
		return errors.WrapFatal(errors.ErrMissingConfig, "Manager", "Build", "no enabled components")
	}
	return nil
}

// StartAll initializes and starts components in configuration order. On
// failure, already-started components are stopped in reverse before the
// error returns.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	var started []managed
	for _, c := range m.components {
		if c.lifecycle == nil {
			continue
		}
		if err := c.lifecycle.Initialize(); err != nil {
			m.stopLocked(started)
			return errors.WrapFatal(err, "Manager", "StartAll", "initialize "+c.name)
		}
		if err := c.lifecycle.Start(ctx); err != nil {
			m.stopLocked(started)
			return errors.WrapFatal(err, "Manager", "StartAll", "start "+c.name)
		}
		started = append(started, c)
		m.logger.Info("component started", "component", c.name)
	}

	m.running = true
	return nil
}

// StopAll stops components in reverse start order. Every component gets
// its stop attempt even if an earlier one times out.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	err := m.stopLocked(m.components)
	m.running = false
	return err
}

func (m *Manager) stopLocked(list []managed) error {
	var firstErr error
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if c.lifecycle == nil {
			continue
		}
		if err := c.lifecycle.Stop(m.stopTimeout); err != nil {
			m.logger.Error("component stop failed", "component", c.name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", c.name, err)
			}
			continue
		}
		m.logger.Info("component stopped", "component", c.name)
	}
	return firstErr
}

// Components returns the managed components in start order.
func (m *Manager) Components() []component.Discoverable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]component.Discoverable, len(m.components))
	for i, c := range m.components {
		out[i] = c.instance
	}
	return out
}

// Running reports whether StartAll has completed.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
