package loadtest

import (
	"context"
	"sync"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
)

// DefaultMaxVUs caps a pool when no limit is configured.
const DefaultMaxVUs = 1000

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Scenario is run by every VU.
	Scenario Scenario

	// Env is shared by every VU.
	Env *Env

	// Registry receives the VUs' samples and the vus gauge.
	Registry *metrics.Registry

	// MaxVUs caps the target. Zero means DefaultMaxVUs.
	MaxVUs int

	Observer observe.Observer
}

// Pool is a bounded set of VUs, each running the scenario in a loop until
// it is retired.
//
// # Thread Safety
//
// SetTarget, ActiveCount, StopAll and Wait may be called concurrently. The
// active list is only touched under the pool mutex; VUs never take it.
type Pool struct {
	cfg PoolConfig

	// iterCtx is handed to every iteration. It is detached from run
	// cancellation so in-flight requests and think time run to completion.
	iterCtx context.Context

	mu      sync.Mutex
	active  []*VU
	nextID  int
	stopped bool
	capped  bool

	wg sync.WaitGroup

	direct metrics.Direct
}

// NewPool creates an empty pool. Values carried by ctx are visible to
// iterations; its cancellation is not.
func NewPool(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.MaxVUs <= 0 {
		cfg.MaxVUs = DefaultMaxVUs
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Nop
	}
	if cfg.Env == nil {
		cfg.Env = &Env{}
	}
	if cfg.Env.Observer == nil {
		cfg.Env.Observer = cfg.Observer
	}
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}

	p := &Pool{
		cfg:     cfg,
		iterCtx: context.WithoutCancel(ctx),
		direct:  metrics.Direct{Registry: cfg.Registry},
	}
	if b := cfg.Env.Builtins; b != nil {
		p.direct.Add(b.VUsMax, float64(cfg.MaxVUs), nil)
	}
	return p
}

// MaxVUs returns the pool's cap.
func (p *Pool) MaxVUs() int {
	return p.cfg.MaxVUs
}

// SetTarget adjusts the number of active VUs to n, spawning new VUs or
// retiring the most recently spawned ones. A target above MaxVUs is capped;
// a vus_capped event is emitted once each time capping starts. It returns
// the achieved target.
//
// Retired VUs finish their current iteration before exiting; they no
// longer count as active. After StopAll, SetTarget does nothing.
func (p *Pool) SetTarget(n int) int {
	if n < 0 {
		n = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0
	}

	if n > p.cfg.MaxVUs {
		if !p.capped {
			p.capped = true
			p.cfg.Observer.Observe(observe.NewEvent(observe.EventVUsCapped, "target capped at max VUs").
				With("requested", n).
				With("max", p.cfg.MaxVUs))
		}
		n = p.cfg.MaxVUs
	} else {
		p.capped = false
	}

	current := len(p.active)
	switch {
	case n > current:
		for i := current; i < n; i++ {
			p.spawnLocked()
		}
	case n < current:
		for _, vu := range p.active[n:] {
			vu.RequestStop()
		}
		// Drop references so retired VUs can be collected.
		clear(p.active[n:])
		p.active = p.active[:n]
	}

	p.recordVUsLocked()
	return n
}

func (p *Pool) spawnLocked() {
	p.nextID++
	vu := NewVU(p.nextID, p.cfg.Env, metrics.NewBuffer(p.cfg.Registry))
	p.active = append(p.active, vu)

	p.wg.Add(1)
	go p.run(vu)
}

// run is the worker loop: check the stop flag, run one iteration, repeat.
func (p *Pool) run(vu *VU) {
	defer p.wg.Done()
	defer vu.markStopped()

	for !vu.Stopping() {
		_ = vu.RunIteration(p.iterCtx, p.cfg.Scenario)
	}
}

func (p *Pool) recordVUsLocked() {
	if b := p.cfg.Env.Builtins; b != nil {
		p.direct.Add(b.VUs, float64(len(p.active)), nil)
	}
}

// ActiveCount returns the number of VUs that are not retiring.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// StopAll retires every VU and prevents new ones from being spawned.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	for _, vu := range p.active {
		vu.RequestStop()
	}
	clear(p.active)
	p.active = p.active[:0]
	p.recordVUsLocked()
}

// Wait blocks until every VU goroutine, retiring ones included, has exited
// or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
