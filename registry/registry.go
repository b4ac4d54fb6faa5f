// Package registry is the cell directory: which cells are running, in which
// application, on which host, and which subjects they serve.
package registry

import (
	"errors"
	"sort"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("cell not found")
	ErrClosed    = errors.New("registry closed")
	ErrInvalidID = errors.New("invalid cell ID")
)

// Status represents a cell's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusServing  Status = "serving"
	StatusStopping Status = "stopping"
)

// CellInfo contains registration information for a cell.
type CellInfo struct {
	// ID uniquely identifies the cell instance.
	ID string `json:"id"`

	// App is the application the cell was loaded for. Empty for ad hoc cells.
	App string `json:"app,omitempty"`

	// Subjects lists the subjects the cell serves.
	Subjects []string `json:"subjects"`

	// Status is the cell's lifecycle state.
	Status Status `json:"status"`

	// Host is the hostname of the process running the cell.
	Host string `json:"host,omitempty"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// LastSeen is when the cell last updated its registration.
	LastSeen time.Time `json:"last_seen"`
}

// Filter specifies criteria for listing cells.
type Filter struct {
	// Status filters by lifecycle state. Empty means all.
	Status Status

	// App filters to cells of one application.
	App string

	// Subject filters to cells serving this subject.
	Subject string
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type EventType

	// Cell holds the cell information. For removals it is the last known
	// state, or only the ID when that is all the backend reports.
	Cell CellInfo
}

// Registry provides cell registration and discovery.
type Registry interface {
	// Register adds or updates a cell.
	Register(info CellInfo) error

	// Deregister removes a cell. Returns ErrNotFound if it isn't registered.
	Deregister(id string) error

	// Get retrieves a cell by ID.
	Get(id string) (*CellInfo, error)

	// List returns the cells matching filter, sorted by ID. nil means all.
	List(filter *Filter) ([]CellInfo, error)

	// FindBySubject returns the cells serving subject, sorted by ID.
	FindBySubject(subject string) ([]CellInfo, error)

	// Watch returns a channel of registry events, closed on Close.
	Watch() (<-chan Event, error)

	// Close shuts down the registry client.
	Close() error
}

// ValidateCellInfo checks if cell info is valid.
func ValidateCellInfo(info CellInfo) error {
	if info.ID == "" {
		return ErrInvalidID
	}
	return nil
}

// ServesSubject checks if a cell serves subject. Matching is exact.
func ServesSubject(info CellInfo, subject string) bool {
	for _, s := range info.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// MatchesFilter checks if a cell matches the filter criteria.
func MatchesFilter(info CellInfo, filter *Filter) bool {
	if filter == nil {
		return true
	}

	if filter.Status != "" && info.Status != filter.Status {
		return false
	}

	if filter.App != "" && info.App != filter.App {
		return false
	}

	if filter.Subject != "" && !ServesSubject(info, filter.Subject) {
		return false
	}

	return true
}

// stamp sets LastSeen to now and fills the default status. Both backends
// store what stamp returns.
func stamp(info CellInfo) CellInfo {
	info.LastSeen = time.Now()
	if info.Status == "" {
		info.Status = StatusServing
	}
	return info
}

func sortByID(cells []CellInfo) {
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
}
