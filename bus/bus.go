// Package bus is the public entry point for provider operations.
//
// A call resolves the provider in the registry, takes an instance from its
// pool, runs the bridge call on a context detached from the caller and bounded
// by the hard call timeout, and returns the instance when the invocation is
// over. A caller that gives up stops waiting at once; the invocation keeps its
// instance until it finishes or the timeout fires, and an instance that timed
// out, trapped or answered with garbage is discarded.
package bus

import (
	"context"
	"time"

	"go.uber.org/zap"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/errors"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/pool"
	"github.com/wippyai/extension-host/registry"
)

// DefaultCallTimeout bounds one provider operation.
const DefaultCallTimeout = 60 * time.Second

// Options configures a Bus.
type Options struct {
	Logger *zap.Logger

	// CallTimeout is the hard limit for one operation, including the wait
	// for an instance. Zero means DefaultCallTimeout.
	CallTimeout time.Duration
}

// Bus dispatches typed operations to provider instances.
type Bus struct {
	reg     *registry.Registry
	log     *zap.Logger
	timeout time.Duration
}

// New returns a bus over reg.
func New(reg *registry.Registry, opts Options) *Bus {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Bus{reg: reg, log: log.Named("bus"), timeout: timeout}
}

type listOptions struct {
	includeDisabled bool
}

// ListOption adjusts List.
type ListOption func(*listOptions)

// IncludeDisabled makes List report incompatible providers too.
func IncludeDisabled() ListOption {
	return func(o *listOptions) { o.includeDisabled = true }
}

// List returns the metadata of loaded providers ordered by id. Disabled
// providers are left out unless IncludeDisabled is given.
func (b *Bus) List(_ context.Context, opts ...ListOption) []manifest.Metadata {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}
	providers := b.reg.List(o.includeDisabled)
	out := make([]manifest.Metadata, len(providers))
	for i, p := range providers {
		out[i] = p.Metadata
	}
	return out
}

// ProviderStatus is one diagnostics row.
type ProviderStatus struct {
	Pool     *pool.Stats       `json:"pool,omitempty"`
	Source   string            `json:"source"`
	Status   string            `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Metadata manifest.Metadata `json:"metadata"`
}

// Providers reports every provider, enabled or not, with pool statistics.
func (b *Bus) Providers(_ context.Context) []ProviderStatus {
	providers := b.reg.List(true)
	out := make([]ProviderStatus, len(providers))
	for i, p := range providers {
		row := ProviderStatus{
			Metadata: p.Metadata,
			Source:   p.Source,
			Status:   p.Status.String(),
			Reason:   p.Reason,
		}
		if p.Pool != nil {
			st := p.Pool.Stats()
			row.Pool = &st
		}
		out[i] = row
	}
	return out
}

// Search runs a catalog search on provider id.
func (b *Bus) Search(ctx context.Context, id int64, params bridge.SearchParams) ([]bridge.CatalogEntry, error) {
	return invoke(ctx, b, id, extensionhost.ExportSearch, func(ctx context.Context, g extensionhost.Guest) ([]bridge.CatalogEntry, error) {
		return bridge.Search(ctx, g, params)
	})
}

// Latest returns the latest updates of provider id.
func (b *Bus) Latest(ctx context.Context, id int64) ([]bridge.CatalogEntry, error) {
	return invoke(ctx, b, id, extensionhost.ExportLatest, bridge.Latest)
}

// Detail returns full information for the manga at path.
func (b *Bus) Detail(ctx context.Context, id int64, path string) (bridge.CatalogEntry, error) {
	return invoke(ctx, b, id, extensionhost.ExportDetail, func(ctx context.Context, g extensionhost.Guest) (bridge.CatalogEntry, error) {
		return bridge.Detail(ctx, g, path)
	})
}

// Chapter returns the pages of the chapter at path.
func (b *Bus) Chapter(ctx context.Context, id int64, path string) (bridge.Chapter, error) {
	return invoke(ctx, b, id, extensionhost.ExportChapter, func(ctx context.Context, g extensionhost.Guest) (bridge.Chapter, error) {
		return bridge.ChapterPages(ctx, g, path)
	})
}

type outcome[T any] struct {
	val T
	err error
}

func invoke[T any](ctx context.Context, b *Bus, id int64, op string, fn func(context.Context, extensionhost.Guest) (T, error)) (T, error) {
	var zero T

	p, ok := b.reg.Lookup(id)
	if !ok {
		return zero, errors.UnknownProvider(id, "no such provider")
	}
	if !p.Enabled() {
		return zero, errors.UnknownProvider(id, "provider is disabled: "+p.Reason)
	}

	start := time.Now()
	deadline := start.Add(b.timeout)

	acquireCtx, cancelAcquire := context.WithDeadline(ctx, deadline)
	h, err := p.Pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return zero, errors.Canceled(errors.PhaseBus, op, ctx.Err())
		case errors.HasKind(err, errors.KindCanceled):
			return zero, errors.ProviderFailure(id, op, errors.Timeout(op, context.DeadlineExceeded))
		case errors.HasKind(err, errors.KindClosed):
			return zero, errors.UnknownProvider(id, "provider was unloaded")
		}
		return zero, errors.ProviderFailure(id, op, err)
	}

	// The invocation must not see the caller's cancellation, only the hard
	// deadline. It owns the handle from here on.
	callCtx, cancelCall := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	done := make(chan outcome[T], 1)
	go func() {
		defer cancelCall()
		val, err := fn(callCtx, h.Guest())
		if bridge.Discard(err) || callCtx.Err() != nil {
			h.Discard()
		} else {
			h.Release()
		}
		done <- outcome[T]{val: val, err: err}
	}()

	log := b.log.With(zap.Int64("provider_id", id), zap.String("op", op))
	select {
	case res := <-done:
		return finish(log, id, op, start, res)
	case <-callCtx.Done():
		select {
		case res := <-done:
			return finish(log, id, op, start, res)
		default:
		}
		log.Warn("call timed out", zap.Duration("timeout", b.timeout))
		return zero, errors.ProviderFailure(id, op, errors.Timeout(op, callCtx.Err()))
	case <-ctx.Done():
		log.Debug("caller gave up", zap.Error(ctx.Err()))
		return zero, errors.Canceled(errors.PhaseBus, op, ctx.Err())
	}
}

func finish[T any](log *zap.Logger, id int64, op string, start time.Time, res outcome[T]) (T, error) {
	var zero T
	if res.err != nil {
		log.Debug("call failed", zap.Duration("elapsed", time.Since(start)), zap.Error(res.err))
		return zero, errors.ProviderFailure(id, op, res.err)
	}
	log.Debug("call done", zap.Duration("elapsed", time.Since(start)))
	return res.val, nil
}
