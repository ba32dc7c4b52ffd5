package kernel

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/plugkit/kernel/config"
	"github.com/plugkit/kernel/internal/logging"
	"github.com/plugkit/kernel/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Kernel is the process handle. It owns the process scope, the extension
// registry and the loaded plugins. Create one with Initialize and release
// it with Shutdown.
type Kernel struct {
	cfg      *config.Config
	env      *environment
	process  *Scope
	registry *Registry

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	data userData

	mu      sync.Mutex
	scopes  map[string]*Scope
	plugins []*loadedPlugin

	shutdown atomic.Bool
}

// Initialize creates a kernel with its process scope and extension
// registry.
//
// Example:
//
//	k, err := kernel.Initialize(kernel.WithConfigFile("kernel.yaml"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer k.Shutdown()
func Initialize(opts ...Option) (*Kernel, error) {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	cfg, err := o.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid kernel configuration: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.New(cfg.Logging)
	}

	k := &Kernel{
		cfg:    cfg,
		scopes: make(map[string]*Scope),
		env: &environment{
			logger:   logger.With(zap.String("kernel", cfg.Name)),
			maxDepth: cfg.Container.MaxResolutionDepth,
		},
	}

	if cfg.Metrics.Enabled {
		k.registerer = o.registerer
		if k.registerer == nil {
			reg := prometheus.NewRegistry()
			k.registerer = reg
			k.gatherer = reg
		} else if g, ok := k.registerer.(prometheus.Gatherer); ok {
			k.gatherer = g
		}

		collector := metrics.NewCollector(cfg.Metrics.Namespace)
		if err := collector.Register(k.registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		k.env.metrics = collector
	}

	k.process, err = newScope(k, nil, cfg.Name, ProcessLevel)
	if err != nil {
		k.abandon()
		return nil, err
	}
	k.scopes[k.process.id] = k.process

	k.registry, err = NewRegistry(k.process.container, cfg.Extensions.ConflictPolicy)
	if err != nil {
		k.abandon()
		return nil, err
	}

	logging.Component(k.env.logger, "kernel").Info("kernel initialized",
		zap.Stringer("conflictPolicy", cfg.Extensions.ConflictPolicy),
		zap.Int("maxResolutionDepth", cfg.Container.MaxResolutionDepth),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)

	return k, nil
}

// Shutdown closes the process scope, disposing every scope, instance and
// extension. It is safe to call more than once.
func (k *Kernel) Shutdown() error {
	if !k.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	err := k.process.Close()

	k.env.metrics.Unregister(k.registerer)
	logging.Component(k.env.logger, "kernel").Info("kernel shut down")
	_ = k.env.logger.Sync()

	return err
}

// abandon releases what a failed Initialize already acquired.
func (k *Kernel) abandon() {
	if k.process != nil {
		_ = k.process.Close()
	}
	k.env.metrics.Unregister(k.registerer)
}

func (k *Kernel) extensionRegistry() *Registry { return k.registry }

func (k *Kernel) resolution() *resolution { return k.process.resolution() }

func (k *Kernel) bindingContainer() *Container { return k.process.container }

func (k *Kernel) userData() *userData { return &k.data }

// Process returns the process scope.
func (k *Kernel) Process() *Scope { return k.process }

// Registry returns the extension registry.
func (k *Kernel) Registry() *Registry { return k.registry }

// Config returns a copy of the effective configuration.
func (k *Kernel) Config() config.Config { return *k.cfg }

// Logger returns the kernel logger.
func (k *Kernel) Logger() *zap.Logger { return k.env.logger }

// Gatherer returns the metrics gatherer, or nil when metrics are disabled
// or the registerer cannot gather.
func (k *Kernel) Gatherer() prometheus.Gatherer { return k.gatherer }

// CreateScope creates a child of parent one level below it. Services of
// loaded plugins declared for the new level are bound into it and eager
// ones preloaded, then scope listeners are notified.
func (k *Kernel) CreateScope(parent *Scope, name string) (*Scope, error) {
	if parent == nil {
		parent = k.process
	}
	if parent.kernel != k {
		return nil, fmt.Errorf("scope %s belongs to another kernel", parent.name)
	}
	if parent.level >= ModuleLevel {
		return nil, ScopeLevelError{Parent: parent.name, Level: parent.level}
	}
	if parent.IsDisposed() {
		return nil, AlreadyDisposedError{Name: parent.name, State: parent.State()}
	}

	k.mu.Lock()
	s, err := newScope(k, parent, name, parent.level+1)
	if err != nil {
		k.mu.Unlock()
		return nil, err
	}
	k.scopes[s.id] = s

	var eager []keyRef
	for _, p := range k.plugins {
		keys, err := p.bindInto(s)
		if err != nil {
			k.mu.Unlock()
			_ = s.Close()
			return nil, PluginError{Plugin: p.plugin.ID, Operation: "load", Cause: err}
		}
		eager = append(eager, keys...)
	}
	k.mu.Unlock()

	if err := s.container.preload(eager); err != nil {
		_ = s.Close()
		return nil, err
	}

	for _, l := range k.scopeListeners() {
		k.safeNotify("opened", s, func() { l.ScopeOpened(s) })
	}

	return s, nil
}

// DisposeScope closes s. It is equivalent to s.Close.
func (k *Kernel) DisposeScope(s *Scope) error {
	return s.Close()
}

// Scopes returns every live scope.
func (k *Kernel) Scopes() []*Scope {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*Scope, 0, len(k.scopes))
	for _, s := range k.scopes {
		out = append(out, s)
	}
	return out
}

func (k *Kernel) forgetScope(s *Scope) {
	k.mu.Lock()
	delete(k.scopes, s.id)
	k.mu.Unlock()
}

func (k *Kernel) scopeListeners() []ScopeListener {
	if k.registry == nil || k.registry.node.IsDisposed() {
		return nil
	}
	return Extensions(k, ScopeListenerPoint)
}

func (k *Kernel) safeNotify(event string, s *Scope, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			k.env.logger.Error("scope listener panicked",
				zap.String("event", event),
				zap.String("scope", s.name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn()
}

// Snapshot describes the kernel for diagnostics.
type Snapshot struct {
	Name    string        `json:"name"`
	Plugins []string      `json:"plugins"`
	Scope   ScopeSnapshot `json:"scope"`
	Points  []PointInfo   `json:"points"`
}

// ScopeSnapshot describes one scope and its descendants.
type ScopeSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Level    Level           `json:"level"`
	State    string          `json:"state"`
	Bindings []BindingInfo   `json:"bindings"`
	Children []ScopeSnapshot `json:"children,omitempty"`
}

// Snapshot captures the scope tree, loaded plugins and extension points.
// Nothing is constructed.
func (k *Kernel) Snapshot() Snapshot {
	return Snapshot{
		Name:    k.cfg.Name,
		Plugins: k.Plugins(),
		Scope:   snapshotScope(k.process),
		Points:  k.registry.Points(),
	}
}

func snapshotScope(s *Scope) ScopeSnapshot {
	snap := ScopeSnapshot{
		ID:       s.id,
		Name:     s.name,
		Level:    s.level,
		State:    s.State().String(),
		Bindings: s.container.Bindings(),
	}
	for _, c := range s.Children() {
		snap.Children = append(snap.Children, snapshotScope(c))
	}
	return snap
}
