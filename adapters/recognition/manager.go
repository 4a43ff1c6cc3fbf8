package recognition

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/repositories"
)

// Manager holds the registered recognition engines and tracks which one is
// active. Swapping the active engine only affects streams opened afterwards;
// streams already running keep the engine they were opened with.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	engines map[string]repositories.Recognizer
	order   []string
	active  string
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		engines: make(map[string]repositories.Recognizer),
	}
}

// Register adds an engine. The first registered engine becomes active.
func (m *Manager) Register(engine repositories.Recognizer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := engine.Name()
	if _, exists := m.engines[name]; exists {
		return fmt.Errorf("recognition engine already registered: %s", name)
	}
	m.engines[name] = engine
	m.order = append(m.order, name)
	if m.active == "" {
		m.active = name
	}
	return nil
}

// Use makes the named engine active for subsequently opened streams.
func (m *Manager) Use(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[name]; !exists {
		return fmt.Errorf("unknown recognition engine: %s", name)
	}
	if m.active != name {
		m.logger.Info("switching recognition engine",
			zap.String("from", m.active),
			zap.String("to", name),
		)
	}
	m.active = name
	return nil
}

// Active returns the currently active engine.
func (m *Manager) Active() repositories.Recognizer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[m.active]
}

func (m *Manager) ActiveName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) Get(name string) (repositories.Recognizer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, ok := m.engines[name]
	return engine, ok
}

// Names lists the registered engines in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Switch activates the first available engine whose name is not excluded,
// sweeping in registration order. It returns the chosen engine's name.
func (m *Manager) Switch(ctx context.Context, exclude ...string) (string, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	m.mu.RLock()
	candidates := make([]repositories.Recognizer, 0, len(m.order))
	for _, name := range m.order {
		if excluded[name] {
			continue
		}
		candidates = append(candidates, m.engines[name])
	}
	m.mu.RUnlock()

	for _, engine := range candidates {
		if !engine.IsAvailable(ctx) {
			continue
		}
		if err := m.Use(engine.Name()); err != nil {
			return "", err
		}
		return engine.Name(), nil
	}
	return "", fmt.Errorf("no available recognition engine outside %v", exclude)
}

// SwitchOffline activates the first available engine that runs without
// network access, in registration order.
func (m *Manager) SwitchOffline(ctx context.Context) (string, error) {
	m.mu.RLock()
	candidates := make([]repositories.Recognizer, 0, len(m.order))
	for _, name := range m.order {
		engine := m.engines[name]
		if engine.Capabilities().Offline {
			candidates = append(candidates, engine)
		}
	}
	m.mu.RUnlock()

	for _, engine := range candidates {
		if !engine.IsAvailable(ctx) {
			continue
		}
		if err := m.Use(engine.Name()); err != nil {
			return "", err
		}
		return engine.Name(), nil
	}
	return "", fmt.Errorf("no offline recognition engine available")
}

// Statuses probes every registered engine. Used by the stats endpoint.
func (m *Manager) Statuses(ctx context.Context) map[string]bool {
	m.mu.RLock()
	engines := make(map[string]repositories.Recognizer, len(m.engines))
	for name, engine := range m.engines {
		engines[name] = engine
	}
	m.mu.RUnlock()

	statuses := make(map[string]bool, len(engines))
	for name, engine := range engines {
		statuses[name] = engine.IsAvailable(ctx)
	}
	return statuses
}

// OpenStream opens a stream on the active engine.
func (m *Manager) OpenStream(ctx context.Context, config repositories.RecognitionConfig) (repositories.RecognitionStream, error) {
	engine := m.Active()
	if engine == nil {
		return nil, fmt.Errorf("no recognition engine registered")
	}
	return engine.OpenStream(ctx, config)
}

// Recognize runs one-shot recognition on the active engine.
func (m *Manager) Recognize(ctx context.Context, pcm []byte, config repositories.RecognitionConfig) ([]repositories.RecognitionResult, error) {
	engine := m.Active()
	if engine == nil {
		return nil, fmt.Errorf("no recognition engine registered")
	}
	return engine.Recognize(ctx, pcm, config)
}
