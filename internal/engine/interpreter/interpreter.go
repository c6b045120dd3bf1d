// Package interpreter executes register bytecode produced by the regcode
// translator. It is the only engine of this runtime: every function call
// interprets the translated instructions over a shared value stack.
package interpreter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/varmint/varmint/internal/regcode"
	"github.com/varmint/varmint/internal/store"
	"github.com/varmint/varmint/wasm"
)

// Cache stores translated module code across engines, keyed by ModuleKey.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key uint64) (*regcode.ModuleCode, bool)
	Add(key uint64, code *regcode.ModuleCode)
}

// ModuleKey derives the cache key of a module from its deterministic
// encoding and the fuel cost model version, so a cost table change never
// reuses stale code.
func ModuleKey(m *wasm.Module) uint64 {
	return xxhash.Sum64(m.AppendEncoding(nil)) ^ uint64(regcode.CostModelVersion)
}

// engine implements store.Engine.
type engine struct {
	logger         *zap.Logger
	cache          Cache
	maxCallDepth   int
	maxStackHeight int

	mux sync.RWMutex
	// codes holds translated code per module pointer for the life of the
	// engine.
	codes map[*wasm.Module]*regcode.ModuleCode
}

// NewEngine returns an interpreting engine. cache may be nil, in which case
// every module is translated on first instantiation.
func NewEngine(logger *zap.Logger, maxCallDepth, maxStackHeight int, cache Cache) store.Engine {
	return &engine{
		logger:         logger,
		cache:          cache,
		maxCallDepth:   maxCallDepth,
		maxStackHeight: maxStackHeight,
		codes:          map[*wasm.Module]*regcode.ModuleCode{},
	}
}

// CompileModule implements store.Engine CompileModule.
func (e *engine) CompileModule(m *wasm.Module) error {
	e.mux.RLock()
	_, done := e.codes[m]
	e.mux.RUnlock()
	if done {
		return nil
	}

	var key uint64
	if e.cache != nil {
		key = ModuleKey(m)
		if mc, ok := e.cache.Get(key); ok {
			e.logger.Debug("module code cache hit", zap.Uint64("key", key))
			e.setCode(m, mc)
			return nil
		}
	}

	mc, err := regcode.CompileModule(m)
	if err != nil {
		return err
	}
	e.logger.Debug("translated module",
		zap.Int("functions", len(mc.Functions)),
		zap.Uint32("cost_model_version", mc.CostModelVersion))
	if e.cache != nil {
		e.cache.Add(key, mc)
	}
	e.setCode(m, mc)
	return nil
}

func (e *engine) setCode(m *wasm.Module, mc *regcode.ModuleCode) {
	e.mux.Lock()
	e.codes[m] = mc
	e.mux.Unlock()
}

// function pairs a function instance with its translated body and the engine
// of its defining module. body is nil for host functions.
type function struct {
	source *store.FunctionInstance
	body   *regcode.Code
	me     *moduleEngine
}

// moduleEngine implements store.ModuleEngine.
type moduleEngine struct {
	name     string
	parent   *engine
	instance *store.ModuleInstance
	// functions covers the instance's whole function index namespace, so a
	// translated OpCall resolves its callee with one index.
	functions []*function
}

// NewModuleEngine implements store.Engine NewModuleEngine.
func (e *engine) NewModuleEngine(name string, m *wasm.Module, instance *store.ModuleInstance) (store.ModuleEngine, error) {
	me := &moduleEngine{name: name, parent: e, instance: instance}

	var mc *regcode.ModuleCode
	var importedFuncs uint32
	if m != nil {
		e.mux.RLock()
		mc = e.codes[m]
		e.mux.RUnlock()
		if mc == nil {
			return nil, fmt.Errorf("module %q is not compiled in this engine", name)
		}
		importedFuncs = m.ImportFuncCount()
	}

	me.functions = make([]*function, len(instance.Functions))
	for i, fi := range instance.Functions {
		if fi.Module != instance {
			imported, err := functionOf(fi)
			if err != nil {
				return nil, err
			}
			me.functions[i] = imported
			continue
		}
		fn := &function{source: fi, me: me}
		if !fi.IsHost() {
			fn.body = mc.Functions[uint32(i)-importedFuncs]
		}
		me.functions[i] = fn
	}
	return me, nil
}

// functionOf resolves a function instance to its engine-side function
// through its defining module.
func functionOf(fi *store.FunctionInstance) (*function, error) {
	me, ok := fi.Module.Engine.(*moduleEngine)
	if !ok {
		return nil, fmt.Errorf("function %s was not compiled by this engine", fi.Name())
	}
	return me.functions[fi.Idx], nil
}

// Name implements store.ModuleEngine Name.
func (me *moduleEngine) Name() string {
	return me.name
}

// callEngine is the state of one invocation from the embedder: the shared
// value stack all frames address windows of, the frame list for depth
// accounting and backtraces, and the local fuel counter.
type callEngine struct {
	e  *engine
	st *store.Store
	// stack holds every frame's registers. Frame windows overlap so call
	// arguments become callee parameters in place.
	stack  []uint64
	frames []*callFrame

	// metering mirrors the store's fuel switch for the invocation.
	metering bool
	// fuel is the store's budget copied local. It is written back to the
	// store on completion and around host calls, so reentrant invocations
	// observe consumption.
	fuel uint64
}

type callFrame struct {
	f *function
}

// Call implements store.ModuleEngine Call.
func (me *moduleEngine) Call(ctx context.Context, f *store.FunctionInstance, params ...uint64) (results []uint64, err error) {
	if exp := len(f.Type.Params); len(params) != exp {
		return nil, fmt.Errorf("expected %d params, but passed %d", exp, len(params))
	}
	fn, err := functionOf(f)
	if err != nil {
		return nil, err
	}

	ce := &callEngine{e: me.parent, st: me.instance.Store}
	if ce.st.FuelEnabled() {
		ce.metering = true
		ce.fuel = ce.st.Fuel()
	}
	defer func() {
		if ce.metering {
			ce.st.SetFuel(ce.fuel)
		}
	}()
	defer func() {
		if v := recover(); v != nil {
			err = ce.recoverTrap(me, v)
		}
	}()

	ce.stack = append(ce.stack, params...)
	// A no-arg function still needs room for its results at the base.
	ce.ensureStack(len(f.Type.Results))
	if fn.body == nil {
		ce.callHost(ctx, fn, 0, me.instance)
	} else {
		ce.callNative(ctx, fn, 0)
	}

	results = make([]uint64, len(f.Type.Results))
	copy(results, ce.stack)
	return
}

// recoverTrap converts a panic raised during execution into the error Call
// returns, appending a backtrace of the frames that were live.
func (ce *callEngine) recoverTrap(me *moduleEngine, v interface{}) error {
	traces := make([]string, 0, len(ce.frames))
	for i := 0; i < len(ce.frames); i++ {
		frame := ce.frames[len(ce.frames)-1-i]
		traces = append(traces, fmt.Sprintf("\t%d: %s", i, frame.f.source.Name()))
	}
	ce.frames = ce.frames[:0]

	var cause error
	if err, ok := v.(error); ok {
		cause = err
	} else {
		cause = fmt.Errorf("%v", v)
	}
	ce.e.logger.Debug("invocation trapped",
		zap.String("module", me.name), zap.Error(cause))

	err := fmt.Errorf("wasm runtime error: %w", cause)
	if len(traces) > 0 {
		err = fmt.Errorf("%w\nwasm backtrace:\n%s", err, strings.Join(traces, "\n"))
	}
	return err
}

// charge consumes n fuel, trapping when the budget runs out. The budget is
// left at exactly zero so the embedder observes full exhaustion.
func (ce *callEngine) charge(n uint64) {
	if ce.fuel < n {
		ce.fuel = 0
		panic(store.ErrRuntimeFuelExhausted)
	}
	ce.fuel -= n
}

// pushFrame accounts call depth for native and host frames alike.
func (ce *callEngine) pushFrame(fn *function) {
	if len(ce.frames) >= ce.e.maxCallDepth {
		panic(store.ErrRuntimeCallStackOverflow)
	}
	ce.frames = append(ce.frames, &callFrame{f: fn})
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

// ensureStack extends the stack to cover top values. Newly exposed space is
// zero only on first growth; frames must not read slots they have not
// written, which the translator guarantees.
func (ce *callEngine) ensureStack(top int) {
	if top > len(ce.stack) {
		ce.stack = append(ce.stack, make([]uint64, top-len(ce.stack))...)
	}
}

// invoke dispatches a call instruction to its callee with the callee frame
// based at argBase, where the caller materialized the arguments. Calls are
// cancellation points.
func (ce *callEngine) invoke(ctx context.Context, callee *function, argBase int, caller *store.ModuleInstance) {
	if err := ctx.Err(); err != nil {
		panic(err)
	}
	if ce.metering {
		ce.charge(regcode.CostCallPerArg * uint64(len(callee.source.Type.Params)))
	}
	if callee.body == nil {
		ce.callHost(ctx, callee, argBase, caller)
	} else {
		ce.callNative(ctx, callee, argBase)
	}
}

// callHost invokes a host function with parameters copied from the stack at
// argBase, writing results back there. Fuel is synced to the store around
// the call so the host can observe and refill it, and so reentrant guest
// calls meter against the same budget.
func (ce *callEngine) callHost(ctx context.Context, fn *function, argBase int, caller *store.ModuleInstance) {
	if ce.metering {
		ce.charge(regcode.CostHostCall)
	}
	ce.pushFrame(fn)

	src := fn.source
	params := make([]uint64, len(src.Type.Params))
	copy(params, ce.stack[argBase:])

	if ce.metering {
		ce.st.SetFuel(ce.fuel)
	}
	results, err := src.GoFunc(ctx, caller, params)
	if ce.metering {
		ce.fuel = ce.st.Fuel()
	}
	if err != nil {
		panic(err)
	}
	if len(results) != len(src.Type.Results) {
		panic(fmt.Errorf("host function %s returned %d results, expected %d",
			src.Name(), len(results), len(src.Type.Results)))
	}
	copy(ce.stack[argBase:], results)
	ce.popFrame()
}

// callNative interprets one translated function with its frame based at
// base. The caller has already placed the parameters at the bottom of the
// window; declared locals are zeroed here.
func (ce *callEngine) callNative(ctx context.Context, fn *function, base int) {
	code := fn.body
	top := base + int(code.Slots)
	if top > ce.e.maxStackHeight {
		panic(store.ErrRuntimeStackOverflow)
	}
	ce.pushFrame(fn)
	ce.ensureStack(top)
	for i := int(code.Params); i < int(code.LocalRegs); i++ {
		ce.stack[base+i] = 0
	}

	instance := fn.me.instance
	instrs := code.Instrs
	for pc := 0; ; {
		instr := &instrs[pc]
		if ce.metering {
			ce.charge(uint64(instr.Cost))
		}
		switch instr.Op {
		case regcode.OpUnreachable:
			panic(store.ErrRuntimeUnreachable)
		case regcode.OpBr:
			target := int(instr.Imm)
			if target <= pc {
				// Back edges are the cancellation points of loops.
				if err := ctx.Err(); err != nil {
					panic(err)
				}
			}
			pc = target
			continue
		case regcode.OpBrIf:
			if ce.stack[base+int(instr.Src1)] != 0 {
				target := int(instr.Imm)
				if target <= pc {
					if err := ctx.Err(); err != nil {
						panic(err)
					}
				}
				pc = target
				continue
			}
		case regcode.OpBrIfZero:
			if ce.stack[base+int(instr.Src1)] == 0 {
				target := int(instr.Imm)
				if target <= pc {
					if err := ctx.Err(); err != nil {
						panic(err)
					}
				}
				pc = target
				continue
			}
		case regcode.OpBrTable:
			idx := uint32(ce.stack[base+int(instr.Src1)])
			targets := instr.Targets
			var target int
			if int(idx) < len(targets)-1 {
				target = int(targets[idx])
			} else {
				target = int(targets[len(targets)-1])
			}
			if target <= pc {
				if err := ctx.Err(); err != nil {
					panic(err)
				}
			}
			pc = target
			continue
		case regcode.OpCall:
			callee := fn.me.functions[instr.Imm]
			ce.invoke(ctx, callee, base+int(instr.Src1), instance)
		case regcode.OpCallIndirect:
			table := instance.Table
			idx := uint32(ce.stack[base+int(instr.Src2)])
			ref, ok := table.Get(idx)
			if !ok || ref == nil {
				panic(store.ErrRuntimeInvalidTableAccess)
			}
			if ref.TypeID != instance.TypeIDs[instr.Imm] {
				panic(store.ErrRuntimeIndirectCallTypeMismatch)
			}
			callee, err := functionOf(ref.Function)
			if err != nil {
				panic(err)
			}
			ce.invoke(ctx, callee, base+int(instr.Src1), instance)
		case regcode.OpReturn:
			src := base + int(instr.Src1)
			for i := 0; i < int(code.Results); i++ {
				ce.stack[base+i] = ce.stack[src+i]
			}
			ce.popFrame()
			return
		case regcode.OpCopy:
			ce.stack[base+int(instr.Dst)] = ce.stack[base+int(instr.Src1)]
		case regcode.OpConst:
			ce.stack[base+int(instr.Dst)] = instr.Imm
		case regcode.OpSelect:
			if ce.stack[base+int(instr.Imm)] != 0 {
				ce.stack[base+int(instr.Dst)] = ce.stack[base+int(instr.Src1)]
			} else {
				ce.stack[base+int(instr.Dst)] = ce.stack[base+int(instr.Src2)]
			}
		case regcode.OpGlobalGet:
			ce.stack[base+int(instr.Dst)] = instance.Globals[instr.Imm].Val
		case regcode.OpGlobalSet:
			instance.Globals[instr.Imm].Val = ce.stack[base+int(instr.Src1)]
		case regcode.OpLoad, regcode.OpLoad8, regcode.OpLoad16, regcode.OpLoad32:
			ce.execLoad(instr, base, instance.Memory)
		case regcode.OpStore, regcode.OpStore8, regcode.OpStore16, regcode.OpStore32:
			ce.execStore(instr, base, instance.Memory)
		case regcode.OpMemorySize:
			ce.stack[base+int(instr.Dst)] = uint64(instance.Memory.PageSize())
		case regcode.OpMemoryGrow:
			delta := uint32(ce.stack[base+int(instr.Src1)])
			ce.stack[base+int(instr.Dst)] = uint64(instance.Memory.Grow(delta))
		default:
			ce.execNumeric(instr, base)
		}
		pc++
	}
}
