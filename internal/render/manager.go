package render

import (
	"sync"

	logx "hookrelay/pkg/logx"
)

// Factory constructs the shared engine on first use.
type Factory func() (Engine, error)

// Manager guards the process-wide render engine: lazily initialized once,
// handed out via Acquire, torn down exactly once via Close. A failed init
// does not poison the manager; the next Acquire retries.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	engine  Engine
	closed  bool
	log     logx.Logger
}

func NewManager(factory Factory, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{factory: factory, log: log}
}

// Acquire returns the shared engine, initializing it on first call.
func (m *Manager) Acquire() (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.engine != nil {
		return m.engine, nil
	}

	eng, err := m.factory()
	if err != nil {
		return nil, err
	}
	m.engine = eng
	m.log.Debug("render engine initialized")
	return eng, nil
}

// Close tears the engine down. Safe to call multiple times and concurrently
// with Acquire; later Acquire calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	return err
}
