package registry

import (
	"sort"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/pool"
)

// Status is whether a provider can serve calls.
type Status int

// Provider statuses.
const (
	// StatusEnabled - Provider is compiled and has an instance pool.
	StatusEnabled Status = iota

	// StatusDisabled - Provider was rejected, typically for an incompatible
	// interface version. Reason says why.
	StatusDisabled
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Provider is one registered provider. Disabled providers hold no module
// or pool. Providers are immutable once published in a snapshot.
type Provider struct {
	Module   extensionhost.Module
	Pool     *pool.Pool
	Source   string
	SHA256   string
	Reason   string
	Metadata manifest.Metadata
	Status   Status
}

// ID returns the provider id.
func (p *Provider) ID() int64 { return p.Metadata.ID }

// Enabled reports whether the provider can serve calls.
func (p *Provider) Enabled() bool { return p.Status == StatusEnabled }

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	byID  map[int64]*Provider
	order []int64
}

func newSnapshot(providers map[int64]*Provider) *Snapshot {
	order := make([]int64, 0, len(providers))
	for id := range providers {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return &Snapshot{byID: providers, order: order}
}

// Lookup returns the provider with id, enabled or not.
func (s *Snapshot) Lookup(id int64) (*Provider, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// List returns providers ordered by id. Disabled providers are included
// only when includeDisabled is set.
func (s *Snapshot) List(includeDisabled bool) []*Provider {
	out := make([]*Provider, 0, len(s.order))
	for _, id := range s.order {
		p := s.byID[id]
		if p.Enabled() || includeDisabled {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of providers, enabled or not.
func (s *Snapshot) Len() int { return len(s.order) }

func (s *Snapshot) clone() map[int64]*Provider {
	m := make(map[int64]*Provider, len(s.byID)+1)
	for id, p := range s.byID {
		m[id] = p
	}
	return m
}
