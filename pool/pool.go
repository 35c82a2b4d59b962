// Package pool bounds and reuses the instances of one provider.
//
// A pool is an arena of slots. Idle slots hold a ready instance and sit on a
// free-list; empty slots are filled lazily by the factory. A weighted
// semaphore caps concurrent holders at the pool size and serves blocked
// callers in arrival order.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/errors"
)

// Factory creates a fresh instance.
type Factory func(ctx context.Context) (extensionhost.Guest, error)

// Options configures a pool.
type Options struct {
	Logger *zap.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name      string
	Size      int
	Idle      int
	Busy      int
	Created   uint64
	Discarded uint64
}

type slot struct {
	guest extensionhost.Guest
	busy  bool
}

// Pool hands out instances with exclusive access.
type Pool struct {
	factory   Factory
	sem       *semaphore.Weighted
	log       *zap.Logger
	name      string
	slots     []slot
	idle      []int // slots holding an idle instance
	empty     []int // slots with no instance
	size      int
	created   atomic.Uint64
	discarded atomic.Uint64
	mu        sync.Mutex
	closed    bool
}

// New returns a pool of at most size instances. size below 1 is treated as 1.
func New(name string, size int, factory Factory, opts Options) *Pool {
	if size < 1 {
		size = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		name:    name,
		size:    size,
		factory: factory,
		sem:     semaphore.NewWeighted(int64(size)),
		log:     log.With(zap.String("pool", name)),
		slots:   make([]slot, size),
		empty:   make([]int, 0, size),
		idle:    make([]int, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		p.empty = append(p.empty, i)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the maximum number of instances.
func (p *Pool) Size() int { return p.size }

// Acquire returns a handle to an instance nobody else holds, creating one if
// no idle instance exists. It blocks while all instances are busy, until one
// is returned or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.isClosed() {
		return nil, errors.Closed(errors.PhasePool, "pool "+p.name)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Canceled(errors.PhasePool, "acquire", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, errors.Closed(errors.PhasePool, "pool "+p.name)
	}
	if n := len(p.idle); n > 0 {
		idx := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.slots[idx].busy = true
		g := p.slots[idx].guest
		p.mu.Unlock()
		return &Handle{pool: p, idx: idx, guest: g}, nil
	}
	// The semaphore guarantees a free slot exists.
	n := len(p.empty)
	idx := p.empty[n-1]
	p.empty = p.empty[:n-1]
	p.slots[idx].busy = true
	p.mu.Unlock()

	g, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.slots[idx].busy = false
		p.empty = append(p.empty, idx)
		p.mu.Unlock()
		p.sem.Release(1)
		if errors.KindOf(err) == "" {
			err = errors.Instantiation(p.name, err)
		}
		return nil, err
	}
	p.created.Add(1)
	p.log.Debug("instance created", zap.Int("slot", idx))

	p.mu.Lock()
	p.slots[idx].guest = g
	p.mu.Unlock()
	return &Handle{pool: p, idx: idx, guest: g}, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) put(ctx context.Context, idx int, discard bool) {
	p.mu.Lock()
	s := &p.slots[idx]
	s.busy = false
	var doomed extensionhost.Guest
	if discard || p.closed {
		doomed = s.guest
		s.guest = nil
		p.empty = append(p.empty, idx)
	} else {
		p.idle = append(p.idle, idx)
	}
	p.mu.Unlock()
	p.sem.Release(1)

	if doomed == nil {
		return
	}
	if discard {
		p.discarded.Add(1)
		p.log.Debug("instance discarded", zap.Int("slot", idx))
	}
	if err := doomed.Close(ctx); err != nil {
		p.log.Warn("close instance", zap.Int("slot", idx), zap.Error(err))
	}
}

// Warm fills every empty slot so the first callers do not pay instantiation.
func (p *Pool) Warm(ctx context.Context) error {
	handles := make([]*Handle, 0, p.size)
	var err error
	for i := 0; i < p.size; i++ {
		h, aerr := p.Acquire(ctx)
		if aerr != nil {
			err = aerr
			break
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		h.Release()
	}
	return err
}

// Close closes idle instances now and busy ones when they are returned.
// Acquire fails with errors.KindClosed afterwards. Close is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var guests []extensionhost.Guest
	for _, idx := range p.idle {
		guests = append(guests, p.slots[idx].guest)
		p.slots[idx].guest = nil
		p.empty = append(p.empty, idx)
	}
	p.idle = p.idle[:0]
	p.mu.Unlock()

	var err error
	for _, g := range guests {
		err = multierr.Append(err, g.Close(ctx))
	}
	return err
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy := 0
	for _, s := range p.slots {
		if s.busy {
			busy++
		}
	}
	return Stats{
		Name:      p.name,
		Size:      p.size,
		Idle:      len(p.idle),
		Busy:      busy,
		Created:   p.created.Load(),
		Discarded: p.discarded.Load(),
	}
}

// Handle grants exclusive use of one instance until Release or Discard.
type Handle struct {
	pool  *Pool
	guest extensionhost.Guest
	idx   int
	done  atomic.Bool
}

// Guest returns the held instance.
func (h *Handle) Guest() extensionhost.Guest { return h.guest }

// Index returns the arena slot of the held instance.
func (h *Handle) Index() int { return h.idx }

// Release returns the instance for reuse. Only the first Release or Discard
// of a handle has an effect.
func (h *Handle) Release() {
	if h.done.Swap(true) {
		return
	}
	h.pool.put(context.Background(), h.idx, false)
}

// Discard closes the instance instead of reusing it; its slot is refilled by
// a later Acquire.
func (h *Handle) Discard() {
	if h.done.Swap(true) {
		return
	}
	h.pool.put(context.Background(), h.idx, true)
}
