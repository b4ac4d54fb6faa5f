// Package cells maps manifest cell names to the cells built into the body.
package cells

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vinayprograms/cellbus/app"
	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/cells/greeter"
	"github.com/vinayprograms/cellbus/cells/printer"
	"github.com/vinayprograms/cellbus/cells/prompt"
	"github.com/vinayprograms/cellbus/cells/web"
	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/metrics"
)

// ErrUnknownCell is returned for a manifest name with no constructor.
var ErrUnknownCell = errors.New("unknown cell")

// Deps are the process resources cells are built from.
type Deps struct {
	Stdin   io.Reader
	Stdout  io.Writer
	Web     web.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// DefaultDeps uses the process stdio and the default web config.
func DefaultDeps() Deps {
	return Deps{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Web:     web.DefaultConfig(),
		Logger:  logging.Nop(),
		Metrics: metrics.New(),
	}
}

// Constructor builds one cell.
type Constructor func(Deps) body.Cell

// Catalog maps cell names to constructors.
type Catalog map[string]Constructor

// Default returns the catalog of built-in cells.
func Default() Catalog {
	return Catalog{
		greeter.ID: func(Deps) body.Cell {
			return greeter.New()
		},
		prompt.ID: func(d Deps) body.Cell {
			return prompt.New(d.Stdin, d.Stdout)
		},
		printer.ID: func(d Deps) body.Cell {
			return printer.New(d.Stdout)
		},
		web.ID: func(d Deps) body.Cell {
			return web.New(d.Web, web.WithLogger(d.Logger), web.WithMetrics(d.Metrics))
		},
	}
}

// Names returns the known cell names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named cell.
func (c Catalog) Build(name string, d Deps) (body.Cell, error) {
	ctor, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCell, name)
	}
	return ctor(d), nil
}

// BuildApp constructs every cell an application names, its own cells first
// and then its shared cells. A name listed twice is built once.
func (c Catalog) BuildApp(cfg *app.AppConfig, d Deps) ([]body.Cell, error) {
	seen := make(map[string]bool)
	var built []body.Cell
	var unknown []error

	for _, name := range cfg.CellNames() {
		if seen[name] {
			continue
		}
		seen[name] = true

		cell, err := c.Build(name, d)
		if err != nil {
			unknown = append(unknown, err)
			continue
		}
		built = append(built, cell)
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("application %s: %w", cfg.Name, errors.Join(unknown...))
	}
	return built, nil
}
