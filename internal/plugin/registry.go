// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plugin loads the custom persistence plugins declared in the
// plugin configuration file. Plugin implementations register a factory by
// name at program start; the configuration selects which of them are
// activated for this application and whether their initialization runs
// synchronously during bring-up or asynchronously afterwards.
package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	internallog "github.com/tombee/persist/internal/log"
)

// ErrUnknownPlugin is returned when the configuration names a plugin with
// no registered factory.
var ErrUnknownPlugin = errors.New("no factory registered for plugin")

// Plugin is a loaded custom persistence plugin.
type Plugin interface {
	// Name returns the plugin's registered name.
	Name() string

	// Init prepares the plugin for use. For plugins configured with
	// asynchronous initialization it runs off the caller's goroutine and
	// reports through the loader's async callback.
	Init() error

	// Deinit releases plugin resources.
	Deinit() error
}

// Factory creates a plugin instance.
type Factory func() (Plugin, error)

// LoadPolicy controls when a configured plugin is initialized.
type LoadPolicy string

const (
	// LoadSync initializes the plugin during bring-up.
	LoadSync LoadPolicy = "sync"
	// LoadAsync defers initialization to the event loop; completion is
	// reported through the async init callback.
	LoadAsync LoadPolicy = "async"
)

// configFile is the on-disk shape of plugins.yaml.
type configFile struct {
	Plugins []entry `yaml:"plugins"`
}

type entry struct {
	Name   string     `yaml:"name"`
	Policy LoadPolicy `yaml:"policy"`
}

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a plugin factory available under name. Plugins call this
// from an init function. Registering the same name twice panics, matching
// the database/sql driver convention.
func Register(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("plugin: Register called twice for %q", name))
	}
	factories[name] = factory
}

// registered returns the factory for name, if any.
func registered(name string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// RegisteredNames returns the sorted names of all registered factories.
func RegisteredNames() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader loads and owns the plugins configured for one session.
type Loader struct {
	configPath string
	logger     *slog.Logger

	mu     sync.Mutex
	loaded []Plugin
}

// NewLoader creates a loader reading plugin declarations from configPath.
func NewLoader(configPath string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		configPath: configPath,
		logger:     internallog.WithComponent(logger, "plugin"),
	}
}

// LoadAll instantiates every configured plugin and runs its initialization
// according to its load policy. asyncInit receives the result of each
// asynchronous initialization; it must be safe to call from another
// goroutine. A missing configuration file loads zero plugins. LoadAll
// returns the number of plugins loaded, or an error if any factory is
// unknown or any synchronous initialization fails; on failure the plugins
// already loaded by the call are deinitialized and none stay retained, so
// a later LoadAll starts from a clean slate.
func (l *Loader) LoadAll(asyncInit func(name string, err error)) (int, error) {
	cfg, err := l.readConfig()
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range cfg.Plugins {
		factory, ok := registered(e.Name)
		if !ok {
			l.unloadLocked()
			return 0, fmt.Errorf("%w: %s", ErrUnknownPlugin, e.Name)
		}

		p, err := factory()
		if err != nil {
			l.unloadLocked()
			return 0, fmt.Errorf("failed to create plugin %s: %w", e.Name, err)
		}

		switch e.Policy {
		case LoadAsync:
			go func(p Plugin) {
				err := p.Init()
				if asyncInit != nil {
					asyncInit(p.Name(), err)
				}
			}(p)
		default:
			if err := p.Init(); err != nil {
				l.unloadLocked()
				return 0, fmt.Errorf("failed to init plugin %s: %w", e.Name, err)
			}
		}

		l.loaded = append(l.loaded, p)
		l.logger.Info("plugin loaded",
			internallog.String("plugin", e.Name),
			internallog.String("policy", string(e.Policy)))
	}

	return len(l.loaded), nil
}

// DeinitAll deinitializes loaded plugins in reverse load order,
// best-effort; the first error is returned after all plugins ran.
func (l *Loader) DeinitAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloadLocked()
}

func (l *Loader) unloadLocked() error {
	var firstErr error
	for i := len(l.loaded) - 1; i >= 0; i-- {
		if err := l.loaded[i].Deinit(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.loaded = nil
	return firstErr
}

// Count returns the number of currently loaded plugins.
func (l *Loader) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loaded)
}

func (l *Loader) readConfig() (*configFile, error) {
	if l.configPath == "" {
		return &configFile{}, nil
	}

	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &configFile{}, nil
		}
		return nil, fmt.Errorf("failed to read plugin config %s: %w", l.configPath, err)
	}

	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse plugin config %s: %w", l.configPath, err)
	}
	return &cfg, nil
}
