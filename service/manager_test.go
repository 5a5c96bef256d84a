package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/health"
)

// stub is a minimal lifecycle component that records calls into a shared
// journal.
type stub struct {
	name     string
	journal  *journal
	failInit bool
	healthy  bool
}

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func (s *stub) Meta() component.Metadata { return component.Metadata{Name: s.name, Type: "input"} }
func (s *stub) InputPorts() []component.Port     { return nil }
func (s *stub) OutputPorts() []component.Port    { return nil }
func (s *stub) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}
func (s *stub) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: s.healthy}
}
func (s *stub) DataFlow() component.FlowMetrics { return component.FlowMetrics{} }

func (s *stub) Initialize() error {
	s.journal.add("init " + s.name)
	if s.failInit {
		return errors.WrapFatal(errors.ErrInvalidConfig, "stub", "Initialize", "forced failure")
	}
	return nil
}

func (s *stub) Start(context.Context) error {
	s.journal.add("start " + s.name)
	return nil
}

func (s *stub) Stop(time.Duration) error {
	s.journal.add("stop " + s.name)
	return nil
}

func stubRegistry(t *testing.T, j *journal, failInit map[string]bool) *component.Registry {
	t.Helper()
	registry := component.NewRegistry()
	factory := func(rawConfig json.RawMessage, _ component.Dependencies) (component.Discoverable, error) {
		var cfg struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(rawConfig, &cfg))
		return &stub{name: cfg.Name, journal: j, failInit: failInit[cfg.Name], healthy: true}, nil
	}
	require.NoError(t, registry.RegisterFactory("stub", &component.Registration{
		Name: "stub", Type: "input", Factory: factory,
	}))
	return registry
}

func pipelineConfig(names ...string) *config.Config {
	cfg := &config.Config{}
	for _, name := range names {
		raw, _ := json.Marshal(map[string]string{"name": name})
		cfg.Components = append(cfg.Components, config.ComponentSpec{
			Name: name, Factory: "stub", Config: raw,
		})
	}
	return cfg
}

func TestStartOrderAndReverseStop(t *testing.T) {
	j := &journal{}
	m := NewManager(stubRegistry(t, j, nil), component.Dependencies{}, nil)

	require.NoError(t, m.Build(pipelineConfig("a", "b", "c")))
	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.Running())
	require.NoError(t, m.StopAll())
	assert.False(t, m.Running())

	assert.Equal(t, []string{
		"init a", "start a",
		"init b", "start b",
		"init c", "start c",
		"stop c", "stop b", "stop a",
	}, j.all())
}

func TestStartFailureUnwindsStarted(t *testing.T) {
	j := &journal{}
	m := NewManager(stubRegistry(t, j, map[string]bool{"b": true}), component.Dependencies{}, nil)

	require.NoError(t, m.Build(pipelineConfig("a", "b")))
	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.False(t, m.Running())

	assert.Equal(t, []string{"init a", "start a", "init b", "stop a"}, j.all())
}

func TestDisabledComponentSkipped(t *testing.T) {
	j := &journal{}
	m := NewManager(stubRegistry(t, j, nil), component.Dependencies{}, nil)

	cfg := pipelineConfig("a", "b")
	off := false
	cfg.Components[1].Enabled = &off

	require.NoError(t, m.Build(cfg))
	assert.Len(t, m.Components(), 1)
}

func TestBuildFeedsHealthMonitor(t *testing.T) {
	j := &journal{}
	monitor := health.NewMonitor("socks")
	m := NewManager(stubRegistry(t, j, nil), component.Dependencies{}, monitor)

	require.NoError(t, m.Build(pipelineConfig("merger")))
	status := monitor.Check()
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "merger", status.SubStatuses[0].Component)
	assert.Equal(t, health.StateHealthy, status.State)
}

func TestBuildRejectsEmptyPipeline(t *testing.T) {
	m := NewManager(stubRegistry(t, &journal{}, nil), component.Dependencies{}, nil)
	assert.Error(t, m.Build(&config.Config{}))
}
