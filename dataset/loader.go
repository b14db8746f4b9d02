package dataset

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Loader resolves dataset paths against a base directory and caches the
// parsed files by absolute path. It is safe for concurrent use.
type Loader struct {
	baseDir string

	mu    sync.RWMutex
	cache map[string]*DataSet
}

// NewLoader creates a loader resolving relative paths against baseDir.
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir, cache: make(map[string]*DataSet)}
}

// BaseDir returns the directory relative paths are resolved against.
func (l *Loader) BaseDir() string { return l.baseDir }

// Resolve returns the absolute path of a dataset reference.
func (l *Loader) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) && l.baseDir != "" {
		path = filepath.Join(l.baseDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving dataset path %s: %w", path, err)
	}
	return abs, nil
}

// Load returns the dataset at path, parsing it on first use. Callers must not
// modify the returned dataset.
func (l *Loader) Load(path string) (*DataSet, error) {
	abs, err := l.Resolve(path)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	ds, ok := l.cache[abs]
	l.mu.RUnlock()
	if ok {
		return ds, nil
	}

	ds, err = Load(abs)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.cache[abs] = ds
	l.mu.Unlock()
	return ds, nil
}

// LoadAll loads every path and merges the results in order.
func (l *Loader) LoadAll(paths ...string) (*DataSet, error) {
	sets := make([]*DataSet, 0, len(paths))
	for _, p := range paths {
		ds, err := l.Load(p)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ds)
	}
	return Merge(sets...), nil
}

// Invalidate drops the cached dataset at path.
func (l *Loader) Invalidate(path string) {
	abs, err := l.Resolve(path)
	if err != nil {
		return
	}
	l.mu.Lock()
	delete(l.cache, abs)
	l.mu.Unlock()
}

// Cached reports whether path is in the cache.
func (l *Loader) Cached(path string) bool {
	abs, err := l.Resolve(path)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.cache[abs]
	return ok
}
