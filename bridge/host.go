package bridge

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/errors"
	"github.com/wippyai/extension-host/manifest"
)

// Defaults for HostConfig.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxBodyBytes = 8 << 20
	DefaultUserAgent    = "extension-host/1"
)

// Guest log levels.
const (
	LevelError int32 = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// HostConfig bounds what guests may do through the host imports.
type HostConfig struct {
	// Fetcher performs requests; nil means an HTTPFetcher.
	Fetcher Fetcher

	// Logger receives guest log calls; nil means the package logger.
	Logger *zap.Logger

	UserAgent      string
	AllowedSchemes []string

	// Timeout bounds a single fetch, on top of the call deadline.
	Timeout time.Duration

	// RatePerSecond limits fetches per provider; 0 disables limiting.
	RatePerSecond float64
	Burst         int

	MaxBodyBytes int64
}

// Host implements the host imports for every provider. Each provider gets
// its own bound import table from For.
type Host struct {
	cfg      HostConfig
	fetcher  Fetcher
	log      *zap.Logger
	limiters map[int64]*rate.Limiter
	mu       sync.Mutex
}

// NewHost returns a Host with defaults applied.
func NewHost(cfg HostConfig) *Host {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if len(cfg.AllowedSchemes) == 0 {
		cfg.AllowedSchemes = []string{"https", "http"}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	h := &Host{
		cfg:      cfg,
		fetcher:  cfg.Fetcher,
		log:      cfg.Logger,
		limiters: make(map[int64]*rate.Limiter),
	}
	if h.fetcher == nil {
		h.fetcher = NewHTTPFetcher(cfg.Timeout, cfg.UserAgent)
	}
	if h.log == nil {
		h.log = Logger()
	}
	return h
}

// For returns the import table for one provider.
func (h *Host) For(meta manifest.Metadata) extensionhost.HostCalls {
	return &providerCalls{
		host:    h,
		limiter: h.limiter(meta.ID),
		log: h.log.With(
			zap.Int64("provider_id", meta.ID),
			zap.String("provider", meta.Name),
		),
	}
}

// limiter returns the provider's limiter. Instances of one provider share it.
func (h *Host) limiter(id int64) *rate.Limiter {
	if h.cfg.RatePerSecond <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), h.cfg.Burst)
		h.limiters[id] = l
	}
	return l
}

type providerCalls struct {
	host    *Host
	limiter *rate.Limiter
	log     *zap.Logger
}

// Fetch never fails the guest call: every problem is reported in the
// response envelope.
func (p *providerCalls) Fetch(ctx context.Context, req []byte) []byte {
	resp := p.fetch(ctx, req)
	data, err := Marshal(resp)
	if err != nil {
		p.log.Error("encode fetch response", zap.Error(err))
		return nil
	}
	return data
}

func (p *providerCalls) fetch(ctx context.Context, raw []byte) FetchResponse {
	var req FetchRequest
	if err := Unmarshal(raw, &req); err != nil {
		return FetchResponse{Error: errors.Malformed(errors.PhaseHost, extensionhost.ImportFetch, "undecodable fetch request", err).Error()}
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return p.fail(req.URL, err)
	}
	if !slices.Contains(p.host.cfg.AllowedSchemes, strings.ToLower(u.Scheme)) {
		return FetchResponse{Error: errors.New(errors.PhaseHost, errors.KindTransport).
			Source(req.URL).
			Detail("scheme %q not allowed", u.Scheme).
			Build().Error()}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return p.fail(req.URL, err)
		}
	}

	fctx, cancel := context.WithTimeout(ctx, p.host.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.host.fetcher.Fetch(fctx, req, p.host.cfg.MaxBodyBytes)
	if err != nil {
		return p.fail(req.URL, err)
	}
	p.log.Debug("guest fetch",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.Status),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("elapsed", time.Since(start)))
	return resp
}

func (p *providerCalls) fail(target string, cause error) FetchResponse {
	err := errors.Transport(target, cause)
	p.log.Warn("guest fetch failed", zap.String("url", target), zap.Error(cause))
	return FetchResponse{Error: err.Error()}
}

func (p *providerCalls) Log(_ context.Context, level int32, msg string) {
	switch {
	case level <= LevelError:
		p.log.Error(msg)
	case level == LevelWarn:
		p.log.Warn(msg)
	case level == LevelInfo:
		p.log.Info(msg)
	default:
		p.log.Debug(msg)
	}
}
