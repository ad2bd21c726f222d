package platform

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

// ErrNoPlatforms indicates a definition file without platforms.
var ErrNoPlatforms = errors.New("no platforms found in definition file")

// reloadDebounce coalesces the burst of events editors produce for one save.
const reloadDebounce = 250 * time.Millisecond

// definitionFile is the layout of the platform YAML file. Keys in defaults apply to every
// platform that does not set them.
type definitionFile struct {
	Defaults  map[string]any   `yaml:"defaults"`
	Platforms []map[string]any `yaml:"platforms"`
}

// Parse decodes a platform definition file.
func Parse(data []byte) (map[string]*Definition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Platforms) == 0 {
		return nil, ErrNoPlatforms
	}

	defs := make(map[string]*Definition, len(file.Platforms))
	for i, raw := range file.Platforms {
		merged := maps.Clone(file.Defaults)
		if merged == nil {
			merged = make(map[string]any, len(raw))
		}
		maps.Copy(merged, raw)

		def, err := decodeDefinition(merged)
		if err != nil {
			return nil, fmt.Errorf("platform %d: %w", i, err)
		}
		if err := def.compile(); err != nil {
			return nil, err
		}
		if _, dup := defs[def.Name]; dup {
			return nil, fmt.Errorf("platform %s defined twice", def.Name)
		}
		defs[def.Name] = def
	}
	return defs, nil
}

// LoadFile reads and parses a platform definition file.
func LoadFile(path string) (map[string]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform file: %w", err)
	}
	return Parse(data)
}

func decodeDefinition(raw map[string]any) (*Definition, error) {
	var def Definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &def,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if decodeErr := decoder.Decode(raw); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode platform: %w", decodeErr)
	}
	return &def, nil
}

// Registry serves platform definitions and swaps them atomically on reload.
type Registry struct {
	path string
	log  infralogger.Logger

	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a registry over already parsed definitions.
func NewRegistry(defs map[string]*Definition, log infralogger.Logger) *Registry {
	return &Registry{defs: defs, log: log}
}

// LoadRegistry loads the definition file at path into a registry that can be reloaded.
func LoadRegistry(path string, log infralogger.Logger) (*Registry, error) {
	defs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(defs, log)
	r.path = path
	return r, nil
}

// Get returns the definition for a platform.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}
	return def, nil
}

// Names returns the registered platform names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.defs))
}

// Reload re-reads the definition file. The current definitions stay in place on error.
func (r *Registry) Reload() error {
	if r.path == "" {
		return errors.New("registry has no backing file")
	}
	defs, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever the definition file changes, until ctx is done.
// The parent directory is watched so that editors replacing the file are noticed.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return errors.New("registry has no backing file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if addErr := watcher.Add(filepath.Dir(r.path)); addErr != nil {
		return fmt.Errorf("failed to watch %s: %w", r.path, addErr)
	}

	target := filepath.Clean(r.path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case <-debounce:
			debounce = nil
			if reloadErr := r.Reload(); reloadErr != nil {
				r.log.Error("Failed to reload platform definitions, keeping previous",
					infralogger.String("path", r.path),
					infralogger.Error(reloadErr),
				)
				continue
			}
			r.log.Info("Reloaded platform definitions",
				infralogger.String("path", r.path),
				infralogger.Strings("platforms", r.Names()),
			)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("Platform file watcher error", infralogger.Error(watchErr))
		}
	}
}
