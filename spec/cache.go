package spec

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/yawl-run/yawl/yerrors"
)

// Cache is the process-wide specification cache §9 names as the only
// process-wide mutable state an engine is allowed: specifications are
// loaded once (from a directory of YAML documents) and never mutated
// in place, so concurrent Resolve calls never race.
type Cache struct {
	mu    sync.RWMutex
	specs map[string]*Specification
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{specs: make(map[string]*Specification)}
}

// Put registers an already-loaded specification, keyed by its own SpecID.
func (c *Cache) Put(s *Specification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[s.SpecID()] = s
}

// Resolve implements runner.SpecResolver.
func (c *Cache) Resolve(specID string) (*Specification, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[specID]
	if !ok {
		return nil, yerrors.New(yerrors.KindInvalidSpecification, specID, "unknown specification id")
	}
	return s, nil
}

// LoadDir loads every *.yaml/*.yml file in dir into the cache. It is not
// recursive: one directory holds one flat set of specification documents.
func (c *Cache) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return yerrors.Wrap(yerrors.KindInvalidSpecification, "", err, "read specification directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return yerrors.Wrap(yerrors.KindInvalidSpecification, "", err, "read specification file "+path)
		}
		s, err := Load(raw)
		if err != nil {
			return err
		}
		c.Put(s)
	}
	return nil
}
