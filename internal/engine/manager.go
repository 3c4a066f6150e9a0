package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// Manager runs a set of named engine instances. Each instance ticks on its
// own goroutine; one instance emergency-stopping does not take the others
// down.
type Manager struct {
	mu      sync.Mutex
	log     *logger.Logger
	engines map[string]*Engine
	wg      sync.WaitGroup
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		log:     log.Named("manager"),
		engines: make(map[string]*Engine),
	}
}

// Register adds an engine under its configured name. Names must be unique.
func (m *Manager) Register(e *Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[e.Name()]; exists {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"duplicate engine instance name: %s", e.Name())
	}

	m.engines[e.Name()] = e

	return nil
}

// Get returns an engine by name.
func (m *Manager) Get(name string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.engines[name]

	return e, ok
}

// StartAll starts every registered engine and launches its tick loop. An
// instance that fails to start aborts the whole startup; instances already
// running are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := make([]*Engine, 0, len(m.engines))

	for name, e := range m.engines {
		if err := e.Start(ctx); err != nil {
			for _, s := range started {
				if stopErr := s.Stop(); stopErr != nil {
					m.log.Error("failed to stop engine during startup rollback",
						zap.String("instance", s.Name()), zap.Error(stopErr))
				}
			}

			return errors.Wrapf(errors.ErrCodeUnknown, err, "failed to start engine %s", name)
		}

		started = append(started, e)

		m.wg.Add(1)

		go func(e *Engine) {
			defer m.wg.Done()

			if err := e.Run(ctx); err != nil && !errors.HasCode(err, errors.ErrCodeEmergencyStopped) {
				m.log.Error("engine loop exited with error",
					zap.String("instance", e.Name()), zap.Error(err))
			}
		}(e)
	}

	return nil
}

// StopAll stops every engine and waits for their loops to drain.
func (m *Manager) StopAll() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		if err := e.Stop(); err != nil {
			m.log.Error("engine stop failed",
				zap.String("instance", e.Name()), zap.Error(err))
		}
	}

	m.wg.Wait()
}

// Names returns the registered instance names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}

	return names
}
