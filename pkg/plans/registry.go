package plans

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/luguanhuang/nano-banana/pkg/observability"
)

// Registry holds the current catalog and swaps it atomically on reload
type Registry struct {
	current atomic.Pointer[Catalog]
	path    string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRegistry returns a registry serving catalog
func NewRegistry(catalog *Catalog, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Registry{logger: logger, metrics: metrics}
	r.current.Store(catalog)
	return r
}

// NewRegistryFromFile loads path, falling back to the defaults when path is
// empty
func NewRegistryFromFile(path string, freeLimit int, logger *observability.Logger, metrics *observability.Metrics) (*Registry, error) {
	catalog := DefaultCatalog(freeLimit)
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	r := NewRegistry(catalog, logger, metrics)
	r.path = path
	return r, nil
}

// Catalog returns the catalog currently in effect
func (r *Registry) Catalog() *Catalog {
	return r.current.Load()
}

// Plan looks up a plan in the current catalog
func (r *Registry) Plan(id string) (Plan, bool) {
	return r.Catalog().Plan(id)
}

// Limit returns the limit for a plan from the current catalog
func (r *Registry) Limit(id string) int {
	return r.Catalog().Limit(id)
}

// FreeLimit returns the free plan limit from the current catalog
func (r *Registry) FreeLimit() int {
	return r.Catalog().FreeLimit()
}

// PlanForPrice looks up a price id in the current catalog
func (r *Registry) PlanForPrice(priceID string) (Plan, bool) {
	return r.Catalog().PlanForPrice(priceID)
}

// Reload re-reads the plans file. A broken file keeps the previous catalog.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	catalog, err := LoadFile(r.path)
	r.metrics.ObservePlanReload(err)
	if err != nil {
		return err
	}
	r.current.Store(catalog)
	return nil
}

// Watch reloads the catalog whenever the plans file changes, until ctx is
// done. The parent directory is watched so editors and ConfigMap symlink
// swaps that replace the file are seen.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(r.logger, "plan watcher")

		target := filepath.Clean(r.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !r.relevant(event, target) {
					continue
				}
				if err := r.Reload(); err != nil {
					r.logger.WithError(err).Warn("Plan catalog reload failed, keeping previous catalog")
					continue
				}
				r.logger.WithField("path", r.path).Info("Plan catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.WithError(err).Warn("Plan watcher error")
			}
		}
	}()

	return nil
}

func (r *Registry) relevant(event fsnotify.Event, target string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	// ConfigMap updates swap the ..data symlink rather than the file.
	return name == target || filepath.Base(name) == "..data"
}
