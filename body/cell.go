package body

import "fmt"

// Cell is a component that owns handlers and registers them on a bus.
type Cell interface {
	// ID is a stable identifier. It is not used for routing.
	ID() string

	// Subjects lists the subjects the cell serves.
	Subjects() []string

	// Register subscribes a handler for every subject in Subjects.
	// Calling it again re-establishes the same subscriptions.
	Register(b Bus) error
}

// Route binds one subject to its handler.
type Route struct {
	Subject string
	Handler Handler
}

// SubscribeAll subscribes every route, stopping at the first failure.
func SubscribeAll(b Bus, routes ...Route) error {
	for _, r := range routes {
		if err := b.Subscribe(r.Subject, r.Handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", r.Subject, err)
		}
	}
	return nil
}

// RouteSubjects lists the subjects of routes in order.
func RouteSubjects(routes ...Route) []string {
	subjects := make([]string, len(routes))
	for i, r := range routes {
		subjects[i] = r.Subject
	}
	return subjects
}

// RegisterAll registers cells in order and stops at the first failure.
func RegisterAll(b Bus, cells ...Cell) error {
	for _, c := range cells {
		if err := c.Register(b); err != nil {
			return fmt.Errorf("register cell %s: %w", c.ID(), err)
		}
	}
	return nil
}
