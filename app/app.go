// Package app discovers and loads application manifests.
//
// An application is a directory under the applications root holding an
// app.yaml that names the cells it runs:
//
//	name: hello_world
//	version: 1.0.0
//	description: Greets whoever is at the keyboard
//	cells:
//	  - name: logic_greet
//	    path: cells/logic_greet
//	shared_cells:
//	  - web_server
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name inside an application directory.
const ManifestFile = "app.yaml"

// Loader errors. Load wraps them with the application or cell name.
var (
	ErrDirectoryNotFound = errors.New("application directory not found")
	ErrConfigNotFound    = errors.New("app.yaml not found")
	ErrInvalidConfig     = errors.New("invalid app.yaml")
	ErrCellNotFound      = errors.New("cell directory not found")
)

// AppConfig is a parsed app.yaml.
type AppConfig struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description"`
	Cells       []CellConfig `yaml:"cells"`
	SharedCells []string     `yaml:"shared_cells,omitempty"`
}

// CellConfig names one application cell and its directory, relative to the
// application directory.
type CellConfig struct {
	Name         string   `yaml:"name"`
	Path         string   `yaml:"path"`
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// DefaultAppConfig returns the manifest used when none is given.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Name:        "unnamed",
		Version:     "0.1.0",
		Description: "CBS Application",
		Cells:       []CellConfig{},
		SharedCells: []string{},
	}
}

// CellNames returns the names of the application's own cells followed by
// its shared cells.
func (c AppConfig) CellNames() []string {
	names := make([]string, 0, len(c.Cells)+len(c.SharedCells))
	for _, cell := range c.Cells {
		names = append(names, cell.Name)
	}
	return append(names, c.SharedCells...)
}

// Loader reads applications from one root directory.
type Loader struct {
	root string
}

// NewLoader creates a loader for the applications under root.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Root returns the applications directory.
func (l *Loader) Root() string {
	return l.root
}

// Path returns the directory of the named application.
func (l *Loader) Path(name string) string {
	return filepath.Join(l.root, name)
}

// Discover returns the sorted names of sub-directories that contain an
// app.yaml. A missing root yields an empty list.
func (l *Loader) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read applications directory: %w", err)
	}

	apps := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.root, entry.Name(), ManifestFile)); err == nil {
			apps = append(apps, entry.Name())
		}
	}
	sort.Strings(apps)
	return apps, nil
}

// Load parses the named application's manifest and checks that every
// cell directory exists.
func (l *Loader) Load(name string) (*AppConfig, error) {
	dir := l.Path(name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
		}
		return nil, fmt.Errorf("read %s manifest: %w", name, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	for _, cell := range cfg.Cells {
		if _, err := os.Stat(filepath.Join(dir, cell.Path)); err != nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrCellNotFound, cell.Name, cell.Path)
		}
	}
	return cfg, nil
}

// Parse decodes a manifest. Missing lists decode as empty.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Cells == nil {
		cfg.Cells = []CellConfig{}
	}
	if cfg.SharedCells == nil {
		cfg.SharedCells = []string{}
	}
	return &cfg, nil
}

// Marshal encodes a manifest as YAML.
func Marshal(cfg AppConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode app.yaml: %w", err)
	}
	return data, nil
}
