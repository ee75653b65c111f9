package sources

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrUnknownPlatform is returned when no enabled source serves a platform
var ErrUnknownPlatform = errors.New("no source registered for platform")

// Registry maps platforms to their enabled sources
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Source
	ordered []string
}

// NewRegistry registers every enabled source and skips the rest
func NewRegistry(srcs ...Source) *Registry {
	r := &Registry{byName: make(map[string]Source)}
	for _, src := range srcs {
		if err := r.Register(src); err != nil {
			logrus.Warnf("Not registering source: %v", err)
		}
	}
	return r
}

// Register adds a source. Disabled sources and duplicate names are rejected.
func (r *Registry) Register(src Source) error {
	if !src.IsEnabled() {
		return fmt.Errorf("%s source disabled", src.GetName())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[src.GetName()]; exists {
		return fmt.Errorf("source %s already registered", src.GetName())
	}
	r.byName[src.GetName()] = src
	r.ordered = append(r.ordered, src.GetName())
	sort.Strings(r.ordered)
	logrus.Infof("Registered %s source for platform %s", src.GetName(), src.Platform())
	return nil
}

// Get returns a source by name
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.byName[name]
	return src, ok
}

// ForPlatform returns the sources serving a platform. The "all" wildcard yields every source.
func (r *Registry) ForPlatform(p models.Platform) ([]Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Source
	for _, name := range r.ordered {
		src := r.byName[name]
		if p == models.PlatformAll || src.Platform() == p {
			out = append(out, src)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	return out, nil
}

// Sources returns every registered source in name order
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.byName[name])
	}
	return out
}

// Close releases sources that hold resources
func (r *Registry) Close() error {
	var errs []error
	for _, src := range r.Sources() {
		if c, ok := src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.GetName(), err))
			}
		}
	}
	return errors.Join(errs...)
}
