package varmint

import (
	"go.uber.org/zap"

	"github.com/varmint/varmint/wasm"
)

// RuntimeConfig controls runtime behavior, with the defaults provided by
// NewRuntimeConfig. Every With method returns a modified copy, so a config
// can be shared and specialized safely.
type RuntimeConfig struct {
	logger            *zap.Logger
	cache             *CompilationCache
	fuelEnabled       bool
	fuelBudget        uint64
	maxCallStackDepth int
	maxStackHeight    int
	memoryMaxPages    uint32
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &RuntimeConfig{
	maxCallStackDepth: 2048,
	maxStackHeight:    1 << 20,
	memoryMaxPages:    wasm.MemoryMaxPages,
}

// NewRuntimeConfig returns the default configuration: no fuel metering, no
// shared compilation cache and no logging.
func NewRuntimeConfig() *RuntimeConfig {
	return defaultConfig.clone()
}

// clone ensures all fields are copied even if zero.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	return &RuntimeConfig{
		logger:            c.logger,
		cache:             c.cache,
		fuelEnabled:       c.fuelEnabled,
		fuelBudget:        c.fuelBudget,
		maxCallStackDepth: c.maxCallStackDepth,
		maxStackHeight:    c.maxStackHeight,
		memoryMaxPages:    c.memoryMaxPages,
	}
}

// WithLogger sets the logger the runtime emits debug diagnostics to.
// Defaults to discarding.
func (c *RuntimeConfig) WithLogger(logger *zap.Logger) *RuntimeConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithCompilationCache shares translated module code with other runtimes
// using the same cache.
func (c *RuntimeConfig) WithCompilationCache(cache *CompilationCache) *RuntimeConfig {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// WithFuelMetering enables deterministic fuel accounting with the given
// initial budget. Execution traps with a fuel exhaustion error when the
// budget reaches zero; Runtime.SetFuel refills it.
func (c *RuntimeConfig) WithFuelMetering(budget uint64) *RuntimeConfig {
	ret := c.clone()
	ret.fuelEnabled = true
	ret.fuelBudget = budget
	return ret
}

// WithMaxCallStackDepth bounds the number of nested function calls,
// including host frames. Exceeding it traps with a callstack overflow error.
func (c *RuntimeConfig) WithMaxCallStackDepth(depth int) *RuntimeConfig {
	ret := c.clone()
	ret.maxCallStackDepth = depth
	return ret
}

// WithMaxStackHeight bounds the total number of value slots live across all
// frames of one invocation. Exceeding it traps with a stack overflow error.
func (c *RuntimeConfig) WithMaxStackHeight(height int) *RuntimeConfig {
	ret := c.clone()
	ret.maxStackHeight = height
	return ret
}

// WithMemoryMaxPages reduces the maximum number of pages any memory can grow
// to from 65536 pages (4GiB) to a lower value.
//
// A module declaring a smaller maximum keeps its own; "memory.grow" past the
// effective maximum returns -1 to the guest as usual.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
func (c *RuntimeConfig) WithMemoryMaxPages(memoryMaxPages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}
