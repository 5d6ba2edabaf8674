// Package extension implements the kernel's manifest-driven extension
// loader: discovery, dependency-ordered lifecycle, and capability
// detection by Go interface assertion.
package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sorrel-ai/hearth/internal/kernelerrors"
)

// entry bundles one discovered extension's manifest, built Instance,
// and the Context it was handed.
type entry struct {
	manifest *Manifest
	instance Instance
	ctx      *Context
}

// Loader discovers extensions under a root directory, wires their
// dependency graph, and drives them through the lifecycle
// initialize_all -> detect_and_wire -> start_all -> health_monitor.
// There is no build_orchestrator phase: the Loader builds no
// orchestrator agent. This generalizes the teacher's daemon.Daemon
// (fixed component list, compile-time registered) to a dynamically
// discovered set keyed by manifest id.
type Loader struct {
	root string
	host Host

	mu            sync.RWMutex
	entries       map[string]*entry
	initOrder     []string
	healthDone    chan struct{}
	healthTicker  *time.Ticker
	cron          *cron.Cron
}

// NewLoader creates a Loader that will discover manifests under root
// (the sandbox's extensions/ directory).
func NewLoader(root string, host Host) *Loader {
	return &Loader{
		root:    root,
		host:    host,
		entries: make(map[string]*entry),
	}
}

// SetHost attaches the Host extensions reach their kernel facilities
// through. Needed because Host itself needs a loader reference
// (InstanceOf) before discovery has produced any Instance to look up.
func (l *Loader) SetHost(host Host) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.host = host
}

// Discover walks root, loads every manifest.yaml, validates depends_on
// references, and resolves a dependency-respecting init order. It does
// not yet build any Instance.
func (l *Loader) Discover() error {
	manifests, err := DiscoverManifests(l.root)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*entry, len(manifests))
	for _, m := range manifests {
		l.entries[m.ID] = &entry{manifest: m}
	}

	if err := l.validateDependencies(); err != nil {
		return err
	}

	order, err := l.resolveInitOrder()
	if err != nil {
		return err
	}
	l.initOrder = order

	slog.Info("extension loader discovered manifests", "count", len(manifests), "order", order)
	return nil
}

func (l *Loader) validateDependencies() error {
	for id, e := range l.entries {
		for _, dep := range e.manifest.DependsOn {
			if _, ok := l.entries[dep]; !ok {
				return kernelerrors.UnknownDependency(fmt.Sprintf("extension %s depends on %s which was not discovered", id, dep))
			}
		}
	}
	return nil
}

// resolveInitOrder is the teacher's daemon.resolveInitOrder DFS-based
// topological sort, generalized from a fixed component slice to the
// loader's discovered entries map.
func (l *Loader) resolveInitOrder() ([]string, error) {
	visited := make(map[string]bool)
	tempVisited := make(map[string]bool)
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		if tempVisited[id] {
			return kernelerrors.DependencyCycle(fmt.Sprintf("circular dependency detected involving %s", id))
		}
		if visited[id] {
			return nil
		}

		e, ok := l.entries[id]
		if !ok {
			return kernelerrors.UnknownDependency(fmt.Sprintf("extension %s not found", id))
		}

		tempVisited[id] = true
		for _, dep := range e.manifest.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		tempVisited[id] = false
		visited[id] = true
		order = append(order, id)
		return nil
	}

	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// InitializeAll builds each extension's Instance (via its registered
// Factory, or a declarative no-op for manifest-only agent blocks) and
// calls Setup, in dependency order. A SetupProvider's FirstRun runs
// before Setup on every InitializeAll; the loader keeps no record of
// earlier runs.
func (l *Loader) InitializeAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.initOrder {
		e := l.entries[id]

		inst, err := l.build(e.manifest)
		if err != nil {
			return kernelerrors.LifecycleError(fmt.Sprintf("build extension %s: %v", id, err))
		}
		e.instance = inst
		e.ctx = NewContext(id, e.manifest.DependsOn, l.host)

		if sp, ok := inst.(SetupProvider); ok {
			if err := sp.FirstRun(ctx, e.ctx); err != nil {
				return kernelerrors.LifecycleError(fmt.Sprintf("extension %s first-run: %v", id, err))
			}
		}

		if err := inst.Setup(ctx, e.ctx); err != nil {
			return kernelerrors.LifecycleError(fmt.Sprintf("extension %s setup: %v", id, err))
		}

		slog.Info("extension initialized", "id", id)
	}

	return nil
}

// build resolves the Instance for a manifest: a registered Factory
// (Go entrypoint extensions) or a purely declarative agent wrapper for
// manifests that only set agent.model/agent.system_prompt.
func (l *Loader) build(m *Manifest) (Instance, error) {
	if f, ok := lookup(m.ID); ok {
		return f(), nil
	}
	if m.Agent != nil && m.Agent.Model != "" {
		return newDeclarativeAgent(m.Agent), nil
	}
	return nil, fmt.Errorf("no factory registered for entrypoint %q and no declarative agent block", m.Entrypoint)
}

// DetectAndWire walks every initialized extension and classifies it by
// capability interface assertion, returning the grouped result to the
// caller (the daemon's KernelComponent.Start, which registers the
// channels with the message router).
type Capabilities struct {
	Channels          map[string]ChannelProvider
	StreamingChannels map[string]StreamingChannelProvider
	Tools             map[string]ToolProvider
	Agents            map[string]AgentProvider
	Services          map[string]ServiceProvider
	Schedulers        map[string]SchedulerProvider
	Contexts          map[string]ContextProvider
}

func (l *Loader) DetectAndWire() *Capabilities {
	l.mu.RLock()
	defer l.mu.RUnlock()

	caps := &Capabilities{
		Channels:          map[string]ChannelProvider{},
		StreamingChannels: map[string]StreamingChannelProvider{},
		Tools:             map[string]ToolProvider{},
		Agents:            map[string]AgentProvider{},
		Services:          map[string]ServiceProvider{},
		Schedulers:        map[string]SchedulerProvider{},
		Contexts:          map[string]ContextProvider{},
	}

	for id, e := range l.entries {
		if e.instance == nil {
			continue
		}
		if sc, ok := e.instance.(StreamingChannelProvider); ok {
			caps.StreamingChannels[id] = sc
			caps.Channels[id] = sc
		} else if c, ok := e.instance.(ChannelProvider); ok {
			caps.Channels[id] = c
		}
		if t, ok := e.instance.(ToolProvider); ok {
			caps.Tools[id] = t
		}
		if a, ok := e.instance.(AgentProvider); ok {
			caps.Agents[id] = a
		}
		if s, ok := e.instance.(ServiceProvider); ok {
			caps.Services[id] = s
		}
		if sch, ok := e.instance.(SchedulerProvider); ok {
			caps.Schedulers[id] = sch
		}
		if cp, ok := e.instance.(ContextProvider); ok {
			caps.Contexts[id] = cp
		}
	}

	slog.Info("extension loader detected capabilities",
		"channels", len(caps.Channels), "tools", len(caps.Tools),
		"agents", len(caps.Agents), "services", len(caps.Services),
		"schedulers", len(caps.Schedulers), "contexts", len(caps.Contexts))

	return caps
}

// StartAll runs Lifecycle.Start (when implemented) and launches
// ServiceProvider.Run in its own goroutine, in dependency order.
func (l *Loader) StartAll(ctx context.Context) error {
	l.mu.RLock()
	order := append([]string(nil), l.initOrder...)
	l.mu.RUnlock()

	for _, id := range order {
		l.mu.RLock()
		e := l.entries[id]
		l.mu.RUnlock()
		if e == nil || e.instance == nil {
			continue
		}

		if lc, ok := e.instance.(Lifecycle); ok {
			if err := lc.Start(ctx); err != nil {
				return kernelerrors.LifecycleError(fmt.Sprintf("extension %s start: %v", id, err))
			}
		}
		if svc, ok := e.instance.(ServiceProvider); ok {
			go func(id string, svc ServiceProvider) {
				if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("extension service exited with error", "id", id, "error", err)
				}
			}(id, svc)
		}
	}

	if err := l.startSchedules(ctx, order); err != nil {
		return err
	}

	l.healthDone = make(chan struct{})
	go l.healthMonitor(ctx)

	return nil
}

// startSchedules registers one robfig/cron entry per schedule block: a
// SchedulerProvider's Schedules() (which replace its manifest
// schedules[*] blocks), or the manifest's blocks otherwise. When an
// entry fires, a SchedulerProvider gets OnSchedule(name) and nothing is
// emitted; any other extension's block emits its topic on the bus.
func (l *Loader) startSchedules(ctx context.Context, order []string) error {
	c := cron.New()
	hasSchedules := false

	for _, id := range order {
		l.mu.RLock()
		e := l.entries[id]
		l.mu.RUnlock()
		if e == nil {
			continue
		}

		schedules := e.manifest.Schedules
		if sp, ok := e.instance.(SchedulerProvider); ok {
			schedules = sp.Schedules()
		}

		for _, sched := range schedules {
			sched := sched
			sp, hasProvider := e.instance.(SchedulerProvider)
			if _, err := c.AddFunc(sched.Cron, func() {
				if hasProvider {
					if err := sp.OnSchedule(ctx, sched.Name); err != nil {
						slog.Error("extension schedule handler failed", "id", id, "schedule", sched.Name, "error", err)
					}
					return
				}
				if sched.Topic != "" {
					if _, err := l.host.Emit(ctx, sched.Topic, map[string]string{"schedule": sched.Name, "extension": id}); err != nil {
						slog.Error("extension schedule emit failed", "id", id, "schedule", sched.Name, "error", err)
					}
				}
			}); err != nil {
				return kernelerrors.ManifestInvalid(fmt.Sprintf("schedule %s/%s: %v", id, sched.Name, err))
			}
			hasSchedules = true
		}
	}

	if hasSchedules {
		c.Start()
	}
	l.mu.Lock()
	l.cron = c
	l.mu.Unlock()
	return nil
}

// healthMonitor mirrors the teacher's startHealthMonitor/checkComponentHealth
// ticker loop, generalized to query HealthChecker-capable extensions.
func (l *Loader) healthMonitor(ctx context.Context) {
	l.healthTicker = time.NewTicker(30 * time.Second)
	defer l.healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.healthDone:
			return
		case <-l.healthTicker.C:
			l.checkHealth(ctx)
		}
	}
}

func (l *Loader) checkHealth(ctx context.Context) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	unhealthy := 0
	for id, e := range l.entries {
		hc, ok := e.instance.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.Health(ctx); err != nil {
			unhealthy++
			slog.Warn("extension unhealthy", "id", id, "error", err)
		}
	}
	if unhealthy > 0 {
		slog.Warn("extension loader has unhealthy extensions", "count", unhealthy)
	}
}

// StopAll stops extensions in reverse dependency order, the teacher's
// shutdownComponents idiom generalized, and unsubscribes every event
// subscription each extension's Context registered.
func (l *Loader) StopAll(ctx context.Context) {
	if l.healthDone != nil {
		close(l.healthDone)
	}

	l.mu.Lock()
	if l.cron != nil {
		l.cron.Stop()
	}
	l.mu.Unlock()

	l.mu.RLock()
	order := append([]string(nil), l.initOrder...)
	l.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		l.mu.RLock()
		e := l.entries[id]
		l.mu.RUnlock()
		if e == nil || e.instance == nil {
			continue
		}

		if lc, ok := e.instance.(Lifecycle); ok {
			if err := lc.Stop(ctx); err != nil {
				slog.Error("extension stop failed", "id", id, "error", err)
			}
		}
		if e.ctx != nil {
			e.ctx.UnsubscribeAll()
		}
		slog.Info("extension stopped", "id", id)
	}
}

// Instance returns the built Instance for id, if discovered and
// initialized. Used by Host.InstanceOf implementations.
func (l *Loader) Instance(id string) (Instance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok || e.instance == nil {
		return nil, false
	}
	return e.instance, true
}

// Manifest returns the discovered manifest for id, if any.
func (l *Loader) Manifest(id string) (*Manifest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, false
	}
	return e.manifest, true
}
