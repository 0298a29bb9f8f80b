package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	lua "github.com/yuin/gopher-lua"
)

// ErrPoolClosed is returned by Lease after Shutdown began.
var ErrPoolClosed = errors.New("interpreter pool is closed")

// DefaultPoolSize bounds concurrent script execution when the host does not
// configure one.
const DefaultPoolSize = 8

// Runner is one reusable interpreter slot. Language runtimes initialize
// lazily on first use and survive across requests; per-request globals are
// tracked and cleared on release.
type Runner struct {
	id       uuid.UUID
	modules  *ModuleRegistry
	logger   *logrus.Logger
	snapshot map[string]any

	lua        *lua.LState
	js         *goja.Runtime
	luaGlobals map[string]bool
	jsGlobals  map[string]bool
	broken     bool
}

func newRunner(pool *Pool) *Runner {
	runner := &Runner{
		id:         uuid.New(),
		modules:    pool.modules,
		logger:     pool.logger,
		luaGlobals: map[string]bool{},
		jsGlobals:  map[string]bool{},
	}
	pool.logger.WithField("runner", runner.ID()).Debug("created interpreter runner")
	return runner
}

// ID returns the runner identity used in logs.
func (r *Runner) ID() string {
	return r.id.String()
}

// Snapshot returns the shared-state snapshot taken when the runner was
// leased.
func (r *Runner) Snapshot() map[string]any {
	return r.snapshot
}

// Broken reports whether the runner must be destroyed instead of reused.
func (r *Runner) Broken() bool {
	return r.broken
}

func (r *Runner) markBroken() {
	r.broken = true
}

// luaState returns the runner's Lua interpreter, creating it on first use
// with every registered module preloaded.
func (r *Runner) luaState() (*lua.LState, error) {
	if r.lua == nil {
		state := lua.NewState()
		r.modules.preloadLua(state)
		r.lua = state
	}
	return r.lua, nil
}

// jsRuntime returns the runner's JavaScript runtime, creating it on first
// use. Method names surface uncapitalized so scripts call ks.setStatus.
func (r *Runner) jsRuntime() (*goja.Runtime, error) {
	if r.js == nil {
		vm := goja.New()
		vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
		r.modules.enableJavaScript(vm)
		r.js = vm
	}
	return r.js, nil
}

func (r *Runner) trackLuaGlobals(names ...string) {
	for _, name := range names {
		r.luaGlobals[name] = true
	}
}

func (r *Runner) trackJSGlobals(names ...string) {
	for _, name := range names {
		r.jsGlobals[name] = true
	}
}

// reset clears everything a request injected so the next lease starts clean.
func (r *Runner) reset() {
	r.snapshot = nil
	if r.lua != nil {
		for name := range r.luaGlobals {
			r.lua.SetGlobal(name, lua.LNil)
		}
	}
	clear(r.luaGlobals)
	if r.js != nil {
		r.js.ClearInterrupt()
		global := r.js.GlobalObject()
		for name := range r.jsGlobals {
			_ = global.Delete(name)
		}
	}
	clear(r.jsGlobals)
}

// destroy releases interpreter resources. The runner must not be used after.
func (r *Runner) destroy() {
	if r.lua != nil {
		r.lua.Close()
		r.lua = nil
	}
	r.js = nil
	r.snapshot = nil
	r.logger.WithField("runner", r.ID()).Debug("destroyed interpreter runner")
}

// Pool is the bounded set of runners scripts execute on. Lease blocks until
// a slot frees or the context ends; Release returns the runner for reuse and
// is safe to call more than once.
type Pool struct {
	max     int64
	sem     *semaphore.Weighted
	state   *SharedState
	modules *ModuleRegistry
	logger  *logrus.Logger

	mu     sync.Mutex
	idle   []*Runner
	leased map[*Runner]bool
	closed bool
}

// NewPool creates a pool of at most max runners. A non-positive max falls
// back to DefaultPoolSize.
func NewPool(max int, state *SharedState, modules *ModuleRegistry, logger *logrus.Logger) *Pool {
	if max <= 0 {
		max = DefaultPoolSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if state == nil {
		state = NewSharedState()
	}
	if modules == nil {
		modules = NewModuleRegistry(logger)
	}
	return &Pool{
		max:     int64(max),
		sem:     semaphore.NewWeighted(int64(max)),
		state:   state,
		modules: modules,
		logger:  logger,
		leased:  map[*Runner]bool{},
	}
}

// State returns the shared store leases snapshot from.
func (p *Pool) State() *SharedState {
	return p.state
}

// Modules returns the registry runners initialize from.
func (p *Pool) Modules() *ModuleRegistry {
	return p.modules
}

// Lease blocks for a free slot, reuses the most recently released runner and
// seeds it with a fresh shared-state snapshot.
func (p *Pool) Lease(ctx context.Context) (*Runner, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	var runner *Runner
	if n := len(p.idle); n > 0 {
		runner = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		runner = newRunner(p)
	}
	p.leased[runner] = true
	p.mu.Unlock()

	runner.snapshot = p.state.Snapshot()
	return runner, nil
}

// Release returns a leased runner. Broken runners are destroyed instead of
// reused. Releasing a runner twice is a no-op.
func (p *Pool) Release(runner *Runner) {
	if runner == nil {
		return
	}

	p.mu.Lock()
	if !p.leased[runner] {
		p.mu.Unlock()
		return
	}
	delete(p.leased, runner)
	closed := p.closed
	p.mu.Unlock()

	if runner.broken || closed {
		runner.destroy()
		p.sem.Release(1)
		return
	}

	runner.reset()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		runner.destroy()
	} else {
		p.idle = append(p.idle, runner)
		p.mu.Unlock()
	}
	p.sem.Release(1)
}

// Idle returns the number of runners waiting for a lease.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Leased returns the number of runners currently out.
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// Shutdown stops leasing, destroys idle runners and waits for outstanding
// leases to come back, or for the context to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, runner := range idle {
		runner.destroy()
	}

	if err := p.sem.Acquire(ctx, p.max); err != nil {
		return err
	}
	p.sem.Release(p.max)
	return nil
}
