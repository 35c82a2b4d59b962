// Package providertest supplies reference providers for tests: an in-process
// guest that speaks the same encoded boundary as a WebAssembly provider, and
// generated WebAssembly guests with fixed behaviors.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/errors"
)

// Provider is the catalog behavior served by a reference guest.
type Provider interface {
	Search(ctx context.Context, params bridge.SearchParams) ([]bridge.CatalogEntry, error)
	Latest(ctx context.Context) ([]bridge.CatalogEntry, error)
	Detail(ctx context.Context, path string) (bridge.CatalogEntry, error)
	Chapter(ctx context.Context, path string) (bridge.Chapter, error)
}

type hostKey struct{}

// Host returns the import table of the calling instance.
func Host(ctx context.Context) extensionhost.HostCalls {
	h, _ := ctx.Value(hostKey{}).(extensionhost.HostCalls)
	return h
}

type instanceKey struct{}

// InstanceID returns the id of the calling instance, starting at 1.
func InstanceID(ctx context.Context) int64 {
	id, _ := ctx.Value(instanceKey{}).(int64)
	return id
}

// Module is an in-process extensionhost.Module serving a Provider. It counts
// instances and detects overlapping calls on a single instance.
type Module struct {
	provider Provider

	// InstantiateErr, when set, fails every Instantiate.
	InstantiateErr error

	nextID    atomic.Int64
	live      atomic.Int64
	calls     atomic.Int64
	overlaps  atomic.Int64
	closed    atomic.Bool
	mu        sync.Mutex
	instances map[int64]*Guest
}

// NewModule returns a module serving p.
func NewModule(p Provider) *Module {
	return &Module{provider: p, instances: make(map[int64]*Guest)}
}

// Instantiate creates a new isolated guest.
func (m *Module) Instantiate(_ context.Context, host extensionhost.HostCalls) (extensionhost.Guest, error) {
	if m.InstantiateErr != nil {
		return nil, m.InstantiateErr
	}
	if m.closed.Load() {
		return nil, errors.Closed(errors.PhasePool, "module")
	}
	g := &Guest{module: m, host: host, id: m.nextID.Add(1)}
	m.live.Add(1)
	m.mu.Lock()
	m.instances[g.id] = g
	m.mu.Unlock()
	return g, nil
}

// Close marks the module closed.
func (m *Module) Close(context.Context) error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool { return m.closed.Load() }

// Created returns the number of instances ever created.
func (m *Module) Created() int64 { return m.nextID.Load() }

// Live returns the number of instances not yet closed.
func (m *Module) Live() int64 { return m.live.Load() }

// Calls returns the number of invocations started.
func (m *Module) Calls() int64 { return m.calls.Load() }

// Overlaps returns how many invocations started while another was running
// on the same instance. A correct host keeps this at zero.
func (m *Module) Overlaps() int64 { return m.overlaps.Load() }

// Instances returns the ids of all instances ever created, sorted.
func (m *Module) Instances() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Guest is one reference instance.
type Guest struct {
	module   *Module
	host     extensionhost.HostCalls
	id       int64
	inFlight atomic.Int32
	closed   atomic.Bool
}

// ID returns the instance id.
func (g *Guest) ID() int64 { return g.id }

// Closed reports whether the instance was closed.
func (g *Guest) Closed() bool { return g.closed.Load() }

// Close closes the instance. It is safe to call more than once.
func (g *Guest) Close(context.Context) error {
	if !g.closed.Swap(true) {
		g.module.live.Add(-1)
	}
	return nil
}

// Invoke decodes the request, runs the provider and encodes its Result
// envelope. A panic becomes errors.KindTrapped and an expired deadline
// errors.KindTimeout, as in the sandbox.
func (g *Guest) Invoke(ctx context.Context, export string, payload []byte) (resp []byte, err error) {
	if g.closed.Load() {
		return nil, errors.Trapped(export, errors.Closed(errors.PhaseCall, "instance"))
	}
	g.module.calls.Add(1)
	if g.inFlight.Add(1) > 1 {
		g.module.overlaps.Add(1)
	}
	defer g.inFlight.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, errors.Trapped(export, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx = context.WithValue(ctx, hostKey{}, g.host)
	ctx = context.WithValue(ctx, instanceKey{}, g.id)

	result, perr := g.dispatch(ctx, export, payload)
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return nil, errors.Timeout(export, cerr)
		}
		return nil, errors.Canceled(errors.PhaseCall, export, cerr)
	}
	if perr != nil {
		if errors.KindOf(perr) != "" {
			return nil, perr
		}
		return bridge.Failed(perr.Error()), nil
	}
	return bridge.OK(result)
}

func (g *Guest) dispatch(ctx context.Context, export string, payload []byte) (any, error) {
	p := g.module.provider
	switch export {
	case extensionhost.ExportSearch:
		var params bridge.SearchParams
		if err := bridge.Unmarshal(payload, &params); err != nil {
			return nil, errors.Malformed(errors.PhaseDecode, export, "request", err)
		}
		return p.Search(ctx, params)
	case extensionhost.ExportLatest:
		return p.Latest(ctx)
	case extensionhost.ExportDetail, extensionhost.ExportChapter:
		var req bridge.PathRequest
		if err := bridge.Unmarshal(payload, &req); err != nil {
			return nil, errors.Malformed(errors.PhaseDecode, export, "request", err)
		}
		if export == extensionhost.ExportDetail {
			return p.Detail(ctx, req.Path)
		}
		return p.Chapter(ctx, req.Path)
	}
	return nil, errors.Malformed(errors.PhaseCall, export, "no such operation export", nil)
}

// Catalog is a Provider over fixed data.
type Catalog struct {
	Chapters map[string]bridge.Chapter
	Entries  []bridge.CatalogEntry
}

// Search returns entries whose title contains the keyword, ignoring case.
func (c *Catalog) Search(_ context.Context, params bridge.SearchParams) ([]bridge.CatalogEntry, error) {
	kw := strings.ToLower(params.Keyword)
	out := []bridge.CatalogEntry{}
	for _, e := range c.Entries {
		if strings.Contains(strings.ToLower(e.Title), kw) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Latest returns every entry.
func (c *Catalog) Latest(context.Context) ([]bridge.CatalogEntry, error) {
	return append([]bridge.CatalogEntry{}, c.Entries...), nil
}

// Detail returns the entry whose SourceURL is path.
func (c *Catalog) Detail(_ context.Context, path string) (bridge.CatalogEntry, error) {
	for _, e := range c.Entries {
		if e.SourceURL == path {
			return e, nil
		}
	}
	return bridge.CatalogEntry{}, fmt.Errorf("manga %s not found", path)
}

// Chapter returns the chapter stored under path.
func (c *Catalog) Chapter(_ context.Context, path string) (bridge.Chapter, error) {
	ch, ok := c.Chapters[path]
	if !ok {
		return bridge.Chapter{}, fmt.Errorf("chapter %s not found", path)
	}
	return ch, nil
}

// Funcs is a Provider built from functions; nil functions fall back to
// Fallback, or report an error when that is nil too.
type Funcs struct {
	Fallback    Provider
	SearchFunc  func(ctx context.Context, params bridge.SearchParams) ([]bridge.CatalogEntry, error)
	LatestFunc  func(ctx context.Context) ([]bridge.CatalogEntry, error)
	DetailFunc  func(ctx context.Context, path string) (bridge.CatalogEntry, error)
	ChapterFunc func(ctx context.Context, path string) (bridge.Chapter, error)
}

var errUnimplemented = fmt.Errorf("operation not implemented")

func (f *Funcs) Search(ctx context.Context, params bridge.SearchParams) ([]bridge.CatalogEntry, error) {
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, params)
	}
	if f.Fallback != nil {
		return f.Fallback.Search(ctx, params)
	}
	return nil, errUnimplemented
}

func (f *Funcs) Latest(ctx context.Context) ([]bridge.CatalogEntry, error) {
	if f.LatestFunc != nil {
		return f.LatestFunc(ctx)
	}
	if f.Fallback != nil {
		return f.Fallback.Latest(ctx)
	}
	return nil, errUnimplemented
}

func (f *Funcs) Detail(ctx context.Context, path string) (bridge.CatalogEntry, error) {
	if f.DetailFunc != nil {
		return f.DetailFunc(ctx, path)
	}
	if f.Fallback != nil {
		return f.Fallback.Detail(ctx, path)
	}
	return bridge.CatalogEntry{}, errUnimplemented
}

func (f *Funcs) Chapter(ctx context.Context, path string) (bridge.Chapter, error) {
	if f.ChapterFunc != nil {
		return f.ChapterFunc(ctx, path)
	}
	if f.Fallback != nil {
		return f.Fallback.Chapter(ctx, path)
	}
	return bridge.Chapter{}, errUnimplemented
}

// Compiler maps artifact paths to prepared modules, standing in for the
// engine in registry tests.
type Compiler struct {
	Modules map[string]extensionhost.Module
	Errors  map[string]error
	mu      sync.Mutex
	loads   map[string]int
}

// Load returns the module registered for source.
func (c *Compiler) Load(_ context.Context, source string, _ []byte) (extensionhost.Module, error) {
	c.mu.Lock()
	if c.loads == nil {
		c.loads = make(map[string]int)
	}
	c.loads[source]++
	c.mu.Unlock()

	if err, ok := c.Errors[source]; ok {
		return nil, err
	}
	m, ok := c.Modules[source]
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupt).Source(source).Detail("no module").Build()
	}
	return m, nil
}

// Loads returns how many times source was compiled.
func (c *Compiler) Loads(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads[source]
}

var (
	_ extensionhost.Module = (*Module)(nil)
	_ extensionhost.Guest  = (*Guest)(nil)
	_ Provider             = (*Catalog)(nil)
	_ Provider             = (*Funcs)(nil)
)
