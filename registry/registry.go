// Package registry holds the set of known providers.
//
// Readers see an immutable Snapshot published through an atomic pointer and
// never block. Writers (Load, Refresh, Add, Remove, Close) are serialised by
// a mutex, build a new snapshot and swap it in; replaced providers are
// closed after the swap, and their busy instances when they are returned.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/compat"
	"github.com/wippyai/extension-host/errors"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/pool"
	"github.com/wippyai/extension-host/store"
)

// InterfaceVersion is the provider interface this host implements.
var InterfaceVersion = compat.MustParse("0.1.0")

// DefaultPoolSize is the number of instances per provider.
const DefaultPoolSize = 4

// Compiler turns a binary into a module. engine.WazeroEngine implements it.
type Compiler interface {
	Load(ctx context.Context, source string, binary []byte) (extensionhost.Module, error)
}

// HostBinder returns the import table for a provider. bridge.Host
// implements it.
type HostBinder interface {
	For(meta manifest.Metadata) extensionhost.HostCalls
}

// Options configures a Registry.
type Options struct {
	Compiler Compiler
	Host     HostBinder
	Logger   *zap.Logger

	// PoolSize returns the pool size for a provider; nil means DefaultPoolSize.
	PoolSize func(meta manifest.Metadata) int

	// Interface is the interface line served; zero means InterfaceVersion.
	Interface compat.Range

	// Eager instantiates every pool slot at load time.
	Eager bool
}

// Report describes the outcome of a load.
type Report struct {
	Enabled  []int64
	Disabled []int64
	Errors   []error
}

// Registry is the set of providers.
type Registry struct {
	opts    Options
	log     *zap.Logger
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
	closed  bool
}

// New returns an empty registry.
func New(opts Options) *Registry {
	if opts.Interface == (compat.Range{}) {
		opts.Interface = compat.RangeOf(InterfaceVersion)
	}
	if opts.PoolSize == nil {
		opts.PoolSize = func(manifest.Metadata) int { return DefaultPoolSize }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{opts: opts, log: log.Named("registry")}
	r.current.Store(newSnapshot(map[int64]*Provider{}))
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup returns the provider with id from the current snapshot.
func (r *Registry) Lookup(id int64) (*Provider, bool) {
	return r.current.Load().Lookup(id)
}

// List returns providers of the current snapshot ordered by id.
func (r *Registry) List(includeDisabled bool) []*Provider {
	return r.current.Load().List(includeDisabled)
}

// Load performs the startup scan of s. It fails only if the store itself is
// unavailable; per-provider problems are in the report.
func (r *Registry) Load(ctx context.Context, s store.Store) (*Report, error) {
	return r.Refresh(ctx, s)
}

// Refresh rebuilds the registry from s and swaps it in. Providers whose
// binary is unchanged keep their module and pool.
func (r *Registry) Refresh(ctx context.Context, s store.Store) (*Report, error) {
	listing, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Closed(errors.PhaseRegistry, "registry")
	}

	prev := r.current.Load()
	rep := &Report{}
	for _, err := range listing.Errors {
		r.log.Warn("skipping store entry", zap.Error(err))
		rep.Errors = append(rep.Errors, err)
	}

	next := make(map[int64]*Provider, len(listing.Entries))
	kept := make(map[*Provider]bool)
	for _, e := range listing.Entries {
		if other, dup := next[e.Metadata.ID]; dup {
			err := errors.New(errors.PhaseRegistry, errors.KindDuplicate).
				Provider(e.Metadata.ID).
				Source(e.Path).
				Detail("id already provided by %s", other.Source).
				Build()
			r.log.Warn("skipping duplicate provider", zap.Error(err))
			rep.Errors = append(rep.Errors, err)
			continue
		}

		if old, ok := prev.Lookup(e.Metadata.ID); ok && reusable(old, e) {
			next[old.ID()] = old
			kept[old] = true
			continue
		}

		p, err := r.build(ctx, e)
		if err != nil {
			r.log.Warn("provider failed to load", zap.String("source", e.Path), zap.Error(err))
			rep.Errors = append(rep.Errors, err)
			continue
		}
		next[p.ID()] = p
	}

	snap := newSnapshot(next)
	r.current.Store(snap)
	for _, p := range snap.List(true) {
		if p.Enabled() {
			rep.Enabled = append(rep.Enabled, p.ID())
		} else {
			rep.Disabled = append(rep.Disabled, p.ID())
		}
	}

	for _, old := range prev.List(true) {
		if !kept[old] {
			if err := closeProvider(ctx, old); err != nil {
				r.log.Warn("close replaced provider", zap.Int64("provider_id", old.ID()), zap.Error(err))
			}
		}
	}

	r.log.Info("registry loaded",
		zap.Int("enabled", len(rep.Enabled)),
		zap.Int("disabled", len(rep.Disabled)),
		zap.Int("errors", len(rep.Errors)))
	return rep, nil
}

func reusable(old *Provider, e store.Entry) bool {
	return old.Source == e.Path && old.SHA256 != "" && old.SHA256 == e.SHA256 && old.Metadata == e.Metadata
}

// Add registers one provider. An id already present is KindDuplicate.
func (r *Registry) Add(ctx context.Context, e store.Entry) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Closed(errors.PhaseRegistry, "registry")
	}

	cur := r.current.Load()
	if other, ok := cur.Lookup(e.Metadata.ID); ok {
		return nil, errors.New(errors.PhaseRegistry, errors.KindDuplicate).
			Provider(e.Metadata.ID).
			Source(e.Path).
			Detail("id already provided by %s", other.Source).
			Build()
	}

	p, err := r.build(ctx, e)
	if err != nil {
		return nil, err
	}
	next := cur.clone()
	next[p.ID()] = p
	r.current.Store(newSnapshot(next))
	return p, nil
}

// Remove unregisters a provider and closes it. In-flight calls finish on
// the instances they hold.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Closed(errors.PhaseRegistry, "registry")
	}

	cur := r.current.Load()
	p, ok := cur.Lookup(id)
	if !ok {
		return errors.NotFound(errors.PhaseRegistry, "provider", fmt.Sprint(id))
	}
	next := cur.clone()
	delete(next, id)
	r.current.Store(newSnapshot(next))
	return closeProvider(ctx, p)
}

// Close closes every provider and leaves the registry empty.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	prev := r.current.Swap(newSnapshot(map[int64]*Provider{}))
	var err error
	for _, p := range prev.List(true) {
		err = multierr.Append(err, closeProvider(ctx, p))
	}
	return err
}

// build validates, checks and compiles one entry. An incompatible provider
// is returned disabled, not as an error.
func (r *Registry) build(ctx context.Context, e store.Entry) (*Provider, error) {
	meta := e.Metadata
	if err := meta.Validate(); err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Provider(meta.ID).
			Source(e.Path).
			Detail("invalid metadata").
			Cause(err).
			Build()
	}

	p := &Provider{Metadata: meta, Source: e.Path, SHA256: e.SHA256}

	if res := compat.Check(meta.LibVersion, r.opts.Interface); !res.Compatible {
		p.Status = StatusDisabled
		p.Reason = res.Reason
		r.log.Warn("provider disabled",
			zap.Int64("provider_id", meta.ID),
			zap.String("provider", meta.Name),
			zap.String("reason", res.Reason))
		return p, nil
	}

	if r.opts.Compiler == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "registry has no compiler")
	}
	mod, err := r.opts.Compiler.Load(ctx, e.Path, e.Binary)
	if err != nil {
		if errors.KindOf(err) == errors.KindIncompatible {
			p.Status = StatusDisabled
			p.Reason = err.Error()
			r.log.Warn("provider disabled",
				zap.Int64("provider_id", meta.ID),
				zap.String("provider", meta.Name),
				zap.Error(err))
			return p, nil
		}
		return nil, err
	}

	var host extensionhost.HostCalls
	if r.opts.Host != nil {
		host = r.opts.Host.For(meta)
	}
	name := fmt.Sprintf("%d:%s", meta.ID, meta.Name)
	p.Module = mod
	p.Pool = pool.New(name, r.opts.PoolSize(meta), func(ctx context.Context) (extensionhost.Guest, error) {
		return mod.Instantiate(ctx, host)
	}, pool.Options{Logger: r.log})

	if r.opts.Eager {
		if err := p.Pool.Warm(ctx); err != nil {
			_ = closeProvider(ctx, p)
			return nil, err
		}
	}

	r.log.Info("provider loaded",
		zap.Int64("provider_id", meta.ID),
		zap.String("provider", meta.Name),
		zap.String("version", meta.Version),
		zap.String("source", e.Path))
	return p, nil
}

func closeProvider(ctx context.Context, p *Provider) error {
	var err error
	if p.Pool != nil {
		err = multierr.Append(err, p.Pool.Close(ctx))
	}
	if p.Module != nil {
		err = multierr.Append(err, p.Module.Close(ctx))
	}
	return err
}
