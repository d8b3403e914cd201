// Package core assembles the runtime: bus → router → per-session workers →
// gate → agent loopback, plus the system session's nociception, reflex and
// tick fan-out duties, the idle-session GC, and ordered shutdown.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/somabus/soma/pkg/adapter"
	"github.com/somabus/soma/pkg/agent"
	"github.com/somabus/soma/pkg/bus"
	"github.com/somabus/soma/pkg/gate"
	"github.com/somabus/soma/pkg/memory"
	"github.com/somabus/soma/pkg/nociception"
	"github.com/somabus/soma/pkg/reflex"
	"github.com/somabus/soma/pkg/router"
	"github.com/somabus/soma/pkg/schema"
	"github.com/somabus/soma/pkg/session"
)

// Built-in defaults.
const (
	DefaultBusSize         = 1000
	DefaultIdleTTL         = 600 * time.Second
	DefaultGCInterval      = 30 * time.Second
	DefaultShutdownTimeout = 1500 * time.Millisecond
)

// Options configures a Core. Zero values select the built-in defaults.
type Options struct {
	BusSize    int
	Router     router.Config
	RecentSize int

	// GateConfig seeds the config provider; Provider, when set, wins and
	// GateConfig is ignored (used when the caller owns file watching).
	GateConfig *gate.Config
	Provider   *gate.Provider

	Orchestrator agent.Orchestrator
	Memory       memory.Service
	Egress       *adapter.EgressHub

	Nociception *nociception.Config
	Reflex      *reflex.Config

	IdleTTL    time.Duration
	GCInterval time.Duration

	// TickInterval enables the system tick driver when positive.
	TickInterval       time.Duration
	EnableSystemFanout bool

	ShutdownTimeout time.Duration
}

// Core wires the runtime together and owns its lifecycle.
type Core struct {
	opts Options

	bus          *bus.Bus
	router       *router.Router
	store        *session.Store
	gate         *gate.Gate
	gateMetrics  *gate.Metrics
	provider     *gate.Provider
	orchestrator agent.Orchestrator
	memory       *memory.FailOpen
	egress       *adapter.EgressHub
	monitor      *nociception.Monitor
	reflex       *reflex.Controller
	metrics      *Metrics
	systemKey    string

	overload atomic.Bool
	tickSeq  atomic.Int64

	workerCtx     context.Context
	cancelWorkers context.CancelFunc
	loopCtx       context.Context
	cancelLoops   context.CancelFunc

	workers    sync.WaitGroup
	routerDone chan struct{}
	loops      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a core from the options. Nothing runs until Start.
func New(opts Options) *Core {
	if opts.BusSize <= 0 {
		opts.BusSize = DefaultBusSize
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = DefaultGCInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Router.SystemSessionKey == "" {
		opts.Router = router.DefaultConfig()
	}

	c := &Core{
		opts:       opts,
		bus:        bus.New(opts.BusSize),
		store:      session.NewStore(opts.RecentSize),
		metrics:    newMetrics(),
		systemKey:  opts.Router.SystemSessionKey,
		routerDone: make(chan struct{}),
	}

	c.provider = opts.Provider
	if c.provider == nil {
		cfg := opts.GateConfig
		if cfg == nil {
			cfg = gate.DefaultConfig()
		}
		c.provider = gate.NewProvider(cfg)
	}
	c.gate = gate.New()
	c.gateMetrics = gate.NewMetrics()

	c.orchestrator = opts.Orchestrator
	if c.orchestrator == nil {
		c.orchestrator = agent.New(agent.Options{})
	}

	inner := opts.Memory
	if inner == nil {
		inner = memory.NewInMemory(0)
	}
	c.memory = memory.NewFailOpen(inner)

	c.egress = opts.Egress
	if c.egress == nil {
		c.egress = adapter.NewEgressHub()
	}

	ncfg := nociception.DefaultConfig()
	if opts.Nociception != nil {
		ncfg = *opts.Nociception
	}
	c.monitor = nociception.NewMonitor(ncfg)

	rcfg := reflex.DefaultConfig()
	if opts.Reflex != nil {
		rcfg = *opts.Reflex
	}
	c.reflex = reflex.NewController(c.provider, rcfg, c.systemKey)

	c.router = router.New(c.bus, opts.Router, c.spawnWorker)

	c.workerCtx, c.cancelWorkers = context.WithCancel(context.Background())
	c.loopCtx, c.cancelLoops = context.WithCancel(context.Background())
	c.metrics.reflect(c)
	return c
}

// Start launches the dispatch loop, the GC sweep and (when configured) the
// system tick driver. It does not block.
func (c *Core) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	slog.Info("Core starting",
		"bus_size", c.opts.BusSize,
		"system_session", c.systemKey,
		"tick_interval", c.opts.TickInterval,
		"fanout", c.opts.EnableSystemFanout)

	go func() {
		c.router.Run(c.loopCtx)
		close(c.routerDone)
	}()

	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		c.gcLoop(c.loopCtx)
	}()

	if c.opts.TickInterval > 0 {
		c.loops.Add(1)
		go func() {
			defer c.loops.Done()
			c.tickLoop(c.loopCtx)
		}()
	}
}

// Shutdown stops intake, drains what was already accepted, and joins the
// workers within the configured timeout. Safe to call more than once.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	slog.Info("Core shutting down")
	c.bus.Close()

	if started {
		// The dispatch loop exits on its own once the closed bus drains.
		select {
		case <-c.routerDone:
		case <-time.After(c.opts.ShutdownTimeout):
			slog.Warn("Dispatch loop drain timed out")
		}
	}
	c.cancelLoops()

	// Closing the inboxes lets each worker finish its backlog and return.
	for _, sk := range c.router.ListActiveSessions() {
		c.router.RemoveSession(sk)
	}

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.ShutdownTimeout):
		slog.Warn("Worker join timed out", "timeout", c.opts.ShutdownTimeout)
	}
	c.cancelWorkers()
	c.loops.Wait()

	if err := c.memory.Close(); err != nil {
		slog.Warn("Memory close failed", "error", err)
	}
	slog.Info("Core stopped")
}

// PublishNowait publishes an observation onto the input bus. Core
// satisfies the adapter Publisher contract.
func (c *Core) PublishNowait(obs *schema.Observation) bus.PublishResult {
	return c.bus.PublishNowait(obs)
}

// AdapterDisabled satisfies the adapter CooldownChecker contract.
func (c *Core) AdapterDisabled(sourceID string, now time.Time) bool {
	return c.monitor.AdapterDisabled(sourceID, now)
}

// SetOverload flips the health signal inspected by the gate's hard bypass.
func (c *Core) SetOverload(v bool) { c.overload.Store(v) }

// Overloaded reports the current health signal.
func (c *Core) Overloaded() bool { return c.overload.Load() }

// Accessors for the HTTP API and tests.

func (c *Core) Bus() *bus.Bus                 { return c.bus }
func (c *Core) Router() *router.Router        { return c.router }
func (c *Core) Store() *session.Store         { return c.store }
func (c *Core) Gate() *gate.Gate              { return c.gate }
func (c *Core) GateMetrics() *gate.Metrics    { return c.gateMetrics }
func (c *Core) Provider() *gate.Provider      { return c.provider }
func (c *Core) Monitor() *nociception.Monitor { return c.monitor }
func (c *Core) Memory() *memory.FailOpen      { return c.memory }
func (c *Core) Egress() *adapter.EgressHub    { return c.egress }
func (c *Core) Metrics() *Metrics             { return c.metrics }
func (c *Core) SystemSessionKey() string      { return c.systemKey }

// publish pushes a worker-produced observation back onto the bus and hands
// it to the egress hub.
func (c *Core) publish(obs *schema.Observation) {
	res := c.bus.PublishNowait(obs)
	if res.Dropped {
		slog.Warn("Loopback publish dropped",
			"obs_id", obs.ObsID, "obs_type", obs.ObsType, "reason", res.Reason)
	}
	c.egress.Dispatch(obs)
}

// spawnWorker is the router's NewSessionFunc: one goroutine per session.
func (c *Core) spawnWorker(sessionKey string, inbox *router.Inbox) {
	w := &worker{
		core:       c,
		sessionKey: sessionKey,
		inbox:      inbox,
		state:      c.store.Get(sessionKey),
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		w.run(c.workerCtx)
	}()
}

// fanOutTick copies a system tick to every active non-system session.
// Suppressed entirely while nociception holds the fan-out valve closed;
// full inboxes drop the copy and are reported once, aggregated.
func (c *Core) fanOutTick(tick *schema.Observation, now time.Time) {
	if !c.opts.EnableSystemFanout {
		return
	}
	if c.monitor.FanoutSuppressed(now) {
		c.metrics.FanoutSkipped.Inc()
		return
	}

	var data map[string]any
	if p, ok := tick.Schedule(); ok {
		data = p.Data
	}

	dropped := 0
	for _, sk := range c.router.ListActiveSessions() {
		if sk == c.systemKey {
			continue
		}
		cp := schema.New(schema.ObsSystem, "core:fanout", schema.SourceInternal,
			&schema.SystemPayload{Kind: "tick", Data: data})
		cp.SessionKey = sk
		cp.Actor = schema.Actor{ActorID: "core", ActorType: schema.ActorSystem}
		if !c.router.Dispatch(cp) {
			dropped++
		}
	}
	if dropped > 0 {
		c.metrics.FanoutDropped.Add(float64(dropped))
		c.publish(schema.NewAlert("core:fanout", c.systemKey, "fanout_inbox_full",
			schema.SeverityLow,
			fmt.Sprintf("fan-out dropped %d tick copies on full inboxes", dropped),
			map[string]any{"dropped": dropped}))
	}
}

// tickLoop publishes SCHEDULE observations to the system session.
func (c *Core) tickLoop(ctx context.Context) {
	t := time.NewTicker(c.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-t.C:
			n := c.tickSeq.Add(1)
			obs := schema.NewSchedule("core:system_tick", c.systemKey, "system_tick",
				map[string]any{"tick": n, "ts_iso": ts.UTC().Format(time.RFC3339)})
			c.bus.PublishNowait(obs)
		}
	}
}

// gcLoop sweeps idle sessions. The system session is never collected.
func (c *Core) gcLoop(ctx context.Context) {
	t := time.NewTicker(c.opts.GCInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.sweep(now)
		}
	}
}

func (c *Core) sweep(now time.Time) int {
	collected := 0
	for _, sk := range c.store.Keys() {
		if sk == c.systemKey {
			continue
		}
		st, ok := c.store.Peek(sk)
		if !ok {
			continue
		}
		idle := st.IdleFor(now)
		if idle < c.opts.IdleTTL {
			continue
		}
		c.router.RemoveSession(sk)
		c.store.Remove(sk)
		c.metrics.SessionsGC.Inc()
		collected++
		slog.Info("Idle session collected", "session_key", sk, "idle", idle)
	}
	return collected
}
