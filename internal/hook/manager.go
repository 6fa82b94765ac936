package hook

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// KeyModified holds the latest Feedback.Modified value seen during a Trigger
const KeyModified = "_modified"

// Manager dispatches hook events to registered handlers. A nil *Manager is
// valid and allows everything.
type Manager struct {
	handlers map[HookPoint][]Handler
	mu       sync.RWMutex
}

// NewManager creates a new hook manager
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[HookPoint][]Handler),
	}
}

// Register adds a handler at every point it listens to. Handlers with equal
// priority keep registration order.
func (m *Manager) Register(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, point := range handler.Points() {
		hs := append(m.handlers[point], handler)
		slices.SortStableFunc(hs, func(a, b Handler) int {
			return b.Priority() - a.Priority()
		})
		m.handlers[point] = hs
	}
}

// Unregister removes every handler with the given name and reports whether
// one was found.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for point, hs := range m.handlers {
		kept := slices.DeleteFunc(hs, func(h Handler) bool { return h.Name() == name })
		if len(kept) != len(hs) {
			found = true
		}
		m.handlers[point] = kept
	}
	return found
}

// Trigger runs the handlers for data.Point in priority order. The first
// denial stops the chain and is returned; a handler error aborts it.
func (m *Manager) Trigger(ctx context.Context, data *HookData) (*Feedback, error) {
	if m == nil {
		return AllowFeedback(), nil
	}

	m.mu.RLock()
	handlers := slices.Clone(m.handlers[data.Point])
	m.mu.RUnlock()

	for _, handler := range handlers {
		feedback, err := handler.Handle(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", handler.Name(), err)
		}
		if feedback == nil {
			continue
		}
		if !feedback.Allow {
			return feedback, nil
		}
		if feedback.Modified != nil {
			data.Data[KeyModified] = feedback.Modified
		}
	}

	return AllowFeedback(), nil
}

// HasHandlers reports whether any handler listens at point
func (m *Manager) HasHandlers(point HookPoint) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[point]) > 0
}

// ListHandlers returns handler names for a point in execution order
func (m *Manager) ListHandlers(point HookPoint) []string {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.handlers[point]))
	for i, h := range m.handlers[point] {
		names[i] = h.Name()
	}
	return names
}
