package varmint

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/varmint/varmint/internal/regcode"
)

// CompilationCache keeps translated module code across runtimes, so
// instantiating the same module in a fresh runtime skips translation. The
// key covers the module's full encoding and the fuel cost model version,
// which keeps cached fuel annotations deterministic.
//
// A CompilationCache is safe for concurrent use by multiple runtimes.
type CompilationCache struct {
	entries *lru.Cache[uint64, *regcode.ModuleCode]
}

// NewCompilationCache returns a cache bounded to the given number of
// modules, evicting least recently used entries.
func NewCompilationCache(maxModules int) (*CompilationCache, error) {
	entries, err := lru.New[uint64, *regcode.ModuleCode](maxModules)
	if err != nil {
		return nil, err
	}
	return &CompilationCache{entries: entries}, nil
}

// Get returns the code translated from the module with the given key.
func (c *CompilationCache) Get(key uint64) (*regcode.ModuleCode, bool) {
	return c.entries.Get(key)
}

// Add stores translated code under the given key.
func (c *CompilationCache) Add(key uint64, code *regcode.ModuleCode) {
	c.entries.Add(key, code)
}

// Len returns the number of cached modules.
func (c *CompilationCache) Len() int {
	return c.entries.Len()
}
