package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/errors"
)

// DefaultMaxPayloadBytes bounds a single request or response buffer.
const DefaultMaxPayloadBytes = 16 << 20

// WazeroEngine compiles provider binaries on a shared wazero runtime.
type WazeroEngine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	cfg     Config
}

// Config holds configuration for engine creation
type Config struct {
	// CacheDir persists compiled machine code between runs. Empty disables it.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// MaxPayloadBytes bounds request and response buffers crossing the
	// boundary. 0 means DefaultMaxPayloadBytes.
	MaxPayloadBytes uint32

	// WASI links a sandboxed wasi_snapshot_preview1 (no filesystem, no
	// environment, no arguments) for guests built against it.
	WASI bool
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	e := &WazeroEngine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	if e.cfg.MaxPayloadBytes == 0 {
		e.cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}

	// Closing on context done is what makes the per-call hard timeout
	// interrupt a guest stuck in a loop.
	runtimeCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCustomSections(true)
	if e.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	if e.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "open compilation cache")
		}
		e.cache = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := instantiateHostModule(ctx, e.runtime); err != nil {
		_ = e.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate "+extensionhost.HostModule+" host module")
	}
	if e.cfg.WASI {
		if _, err := instantiateWASI(ctx, e.runtime); err != nil {
			_ = e.Close(ctx)
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate WASI")
		}
	}
	return e, nil
}

// Close releases the runtime and every module compiled on it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	var err error
	if e.runtime != nil {
		err = multierr.Append(err, e.runtime.Close(ctx))
	}
	if e.cache != nil {
		err = multierr.Append(err, e.cache.Close(ctx))
	}
	return err
}

// Load compiles a provider binary. It satisfies the registry's compiler
// contract.
func (e *WazeroEngine) Load(ctx context.Context, source string, binary []byte) (extensionhost.Module, error) {
	m, err := e.Compile(ctx, source, binary)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Compile compiles binary and checks it against the provider ABI.
// Missing or mistyped exports and unknown imports are KindIncompatible.
func (e *WazeroEngine) Compile(ctx context.Context, source string, binary []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupt).
			Source(source).
			Detail("compile failed").
			Cause(err).
			Build()
	}
	if err := e.checkABI(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.New(errors.PhaseLoad, errors.KindIncompatible).
			Source(source).
			Detail("%s", err).
			Build()
	}

	debugf("compiled %s", source)
	return &WazeroModule{
		engine:   e,
		compiled: compiled,
		source:   source,
	}, nil
}

var (
	opParams    = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	opResults   = []api.ValueType{api.ValueTypeI64}
	allocParams = []api.ValueType{api.ValueTypeI32}
)

func (e *WazeroEngine) checkABI(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[extensionhost.ExportMemory]; !ok {
		return fmt.Errorf("missing %q memory export", extensionhost.ExportMemory)
	}

	exports := compiled.ExportedFunctions()
	if err := checkSignature(exports, extensionhost.ExportAlloc, allocParams, allocParams); err != nil {
		return err
	}
	for _, op := range extensionhost.Operations {
		if err := checkSignature(exports, op, opParams, opResults); err != nil {
			return err
		}
	}
	if def, ok := exports[extensionhost.ExportDealloc]; ok {
		if !sameTypes(def.ParamTypes(), opParams) || len(def.ResultTypes()) != 0 {
			return fmt.Errorf("export %q must be (i32, i32) -> ()", extensionhost.ExportDealloc)
		}
	}

	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		switch {
		case mod == extensionhost.HostModule && (name == extensionhost.ImportFetch || name == extensionhost.ImportLog):
		case mod == wasiModuleName && e.cfg.WASI:
		default:
			return fmt.Errorf("unsupported import %s.%s", mod, name)
		}
	}
	return nil
}

func checkSignature(exports map[string]api.FunctionDefinition, name string, params, results []api.ValueType) error {
	def, ok := exports[name]
	if !ok {
		return fmt.Errorf("missing %q function export", name)
	}
	if !sameTypes(def.ParamTypes(), params) || !sameTypes(def.ResultTypes(), results) {
		return fmt.Errorf("export %q has signature %v -> %v", name, typeNames(def.ParamTypes()), typeNames(def.ResultTypes()))
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	return bytes.Equal(a, b)
}

func typeNames(types []api.ValueType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return names
}

// WazeroModule is a compiled provider binary
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	source   string
	closeMu  sync.Mutex
	closed   bool
}

// Source returns the artifact path the module was compiled from.
func (m *WazeroModule) Source() string {
	return m.source
}

// Instantiate creates an isolated instance bound to host.
func (m *WazeroModule) Instantiate(ctx context.Context, host extensionhost.HostCalls) (extensionhost.Guest, error) {
	return m.NewInstance(ctx, host)
}

// NewInstance is Instantiate returning the concrete instance type.
func (m *WazeroModule) NewInstance(ctx context.Context, host extensionhost.HostCalls) (*WazeroInstance, error) {
	m.closeMu.Lock()
	closed := m.closed
	m.closeMu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhasePool, "module "+m.source)
	}

	modConfig := wazero.NewModuleConfig().
		WithName("").         // anonymous for parallel instantiation
		WithStartFunctions(). // providers are libraries; never run _start
		WithStdout(newLineWriter(m.source, "stdout")).
		WithStderr(newLineWriter(m.source, "stderr")).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	// A start section may already call host imports.
	ctx = withHostCalls(ctx, host)
	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation(m.source, err)
	}

	inst := &WazeroInstance{
		module:   m,
		instance: instance,
		host:     host,
		memory:   &WazeroMemory{mem: instance.Memory()},
		funcs:    make(map[string]api.Function, len(extensionhost.Operations)),
		stack:    make([]uint64, 2),
		maxBytes: m.engine.cfg.MaxPayloadBytes,
	}
	for _, op := range extensionhost.Operations {
		inst.funcs[op] = instance.ExportedFunction(op)
	}
	inst.alloc = &wazeroAllocator{
		allocFn: instance.ExportedFunction(extensionhost.ExportAlloc),
		freeFn:  instance.ExportedFunction(extensionhost.ExportDealloc),
		stack:   make([]uint64, 2),
	}
	return inst, nil
}

// Close releases the compiled module. Instances already created keep running
// until closed.
func (m *WazeroModule) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.compiled.Close(ctx)
}

// WazeroInstance is one isolated provider instance. It is NOT safe for
// concurrent use.
type WazeroInstance struct {
	module   *WazeroModule
	instance api.Module
	host     extensionhost.HostCalls
	memory   *WazeroMemory
	alloc    *wazeroAllocator
	funcs    map[string]api.Function
	stack    []uint64
	maxBytes uint32
	broken   bool
}

// Memory returns the instance's linear memory.
func (i *WazeroInstance) Memory() extensionhost.Memory {
	return i.memory
}

// Broken reports whether the instance trapped or timed out and must not be
// reused.
func (i *WazeroInstance) Broken() bool {
	return i.broken || i.instance == nil || i.instance.IsClosed()
}

// Invoke copies payload into guest memory, calls export and returns a copy of
// the response buffer. Both buffers are released through dealloc when the
// guest exports it.
func (i *WazeroInstance) Invoke(ctx context.Context, export string, payload []byte) ([]byte, error) {
	if i.Broken() {
		return nil, errors.Trapped(export, errors.Closed(errors.PhaseCall, "instance"))
	}
	fn := i.funcs[export]
	if fn == nil {
		return nil, errors.Malformed(errors.PhaseCall, export, "no such operation export", nil)
	}
	if uint64(len(payload)) > uint64(i.maxBytes) {
		return nil, errors.New(errors.PhaseEncode, errors.KindMalformed).
			Op(export).
			Value(len(payload)).
			Detail("request of %d bytes exceeds limit %d", len(payload), i.maxBytes).
			Build()
	}

	ctx = withHostCalls(ctx, i.host)
	size := uint32(len(payload))

	ptr, err := i.alloc.Alloc(ctx, size)
	if err != nil {
		return nil, i.classify(ctx, export, err)
	}
	if err := i.memory.Write(ptr, payload); err != nil {
		i.broken = true
		return nil, errors.Malformed(errors.PhaseEncode, export, "alloc returned unusable buffer", err)
	}

	i.stack[0] = uint64(ptr)
	i.stack[1] = uint64(size)
	if err := fn.CallWithStack(ctx, i.stack); err != nil {
		return nil, i.classify(ctx, export, err)
	}
	packed := i.stack[0]
	rptr, rlen := uint32(packed>>32), uint32(packed)
	i.alloc.Free(ctx, ptr, size)

	if rlen > i.maxBytes {
		i.broken = true
		return nil, errors.New(errors.PhaseDecode, errors.KindMalformed).
			Op(export).
			Value(rlen).
			Detail("response of %d bytes exceeds limit %d", rlen, i.maxBytes).
			Build()
	}
	data, err := i.memory.Read(rptr, rlen)
	if err != nil {
		i.broken = true
		return nil, errors.Malformed(errors.PhaseDecode, export, "response buffer outside guest memory", err)
	}
	out := bytes.Clone(data)
	if out == nil {
		out = []byte{}
	}
	i.alloc.Free(ctx, rptr, rlen)
	return out, nil
}

// classify maps a failed guest call to a bridge error and marks the instance
// broken.
func (i *WazeroInstance) classify(ctx context.Context, op string, err error) error {
	i.broken = true

	var hostErr *errors.Error
	if errors.As(err, &hostErr) {
		return hostErr
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return errors.Timeout(op, err)
		case sys.ExitCodeContextCanceled:
			return errors.Canceled(errors.PhaseCall, op, err)
		}
		return errors.Trapped(op, err)
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Timeout(op, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return errors.Canceled(errors.PhaseCall, op, err)
	}
	return errors.Trapped(op, err)
}

// Close closes the instance. It is safe to call more than once.
func (i *WazeroInstance) Close(ctx context.Context) error {
	if i.instance == nil {
		return nil
	}
	err := i.instance.Close(ctx)
	// Clear references to help GC
	i.instance = nil
	i.funcs = nil
	i.memory = nil
	i.alloc = nil
	i.stack = nil
	return err
}

type wazeroAllocator struct {
	allocFn api.Function
	freeFn  api.Function
	stack   []uint64
}

func (a *wazeroAllocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	a.stack[0] = uint64(size)
	if err := a.allocFn.CallWithStack(ctx, a.stack[:1]); err != nil {
		return 0, err
	}
	return uint32(a.stack[0]), nil
}

func (a *wazeroAllocator) Free(ctx context.Context, ptr, size uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}
	a.stack[0] = uint64(ptr)
	a.stack[1] = uint64(size)
	if err := a.freeFn.CallWithStack(ctx, a.stack[:2]); err != nil {
		Logger().Warn("Free: dealloc failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// WazeroMemory wraps wazero memory to implement extensionhost.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time checks
var (
	_ extensionhost.Memory    = (*WazeroMemory)(nil)
	_ extensionhost.Allocator = (*wazeroAllocator)(nil)
	_ extensionhost.Module    = (*WazeroModule)(nil)
	_ extensionhost.Guest     = (*WazeroInstance)(nil)
)
