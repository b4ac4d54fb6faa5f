package body

import (
	"sort"
	"sync"
)

// HandlerTable maps subjects to handlers. Lookups run concurrently; writes
// are serialized.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerTable creates an empty table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]Handler)}
}

// Set inserts or replaces the handler for subject. It reports whether a
// handler was replaced.
func (t *HandlerTable) Set(subject string, h Handler) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, replaced := t.handlers[subject]
	t.handlers[subject] = h
	return replaced
}

// Get returns the handler for subject.
func (t *HandlerTable) Get(subject string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[subject]
	return h, ok
}

// Delete removes the handler for subject.
func (t *HandlerTable) Delete(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, subject)
}

// Subjects returns the registered subjects, sorted.
func (t *HandlerTable) Subjects() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	subjects := make([]string, 0, len(t.handlers))
	for s := range t.handlers {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	return subjects
}

// Len returns the number of registered subjects.
func (t *HandlerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Clear removes every handler.
func (t *HandlerTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = make(map[string]Handler)
}
