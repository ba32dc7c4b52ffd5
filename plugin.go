package kernel

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Plugin groups the services and extensions one unit of functionality
// contributes. Build one with NewPlugin and load it with Kernel.LoadPlugin.
type Plugin struct {
	ID         string
	Services   []ServiceDeclaration
	Extensions []ExtensionDeclaration
}

// ServiceDeclaration binds a key in every scope of one level.
type ServiceDeclaration struct {
	Level       Level
	Key         string
	Cardinality Cardinality

	key  keyRef
	bind func(b Binder) error
}

// ExtensionDeclaration contributes one extension to a point of the process
// registry.
type ExtensionDeclaration struct {
	Point string
	ID    string

	add func(h ExtensionHost, source string) error
}

// Service declares a binding for every scope at level, present and future.
func Service[T any](level Level, key Key[T], producer Producer[T], cardinality Cardinality, opts ...BindOption) ServiceDeclaration {
	return ServiceDeclaration{
		Level:       level,
		Key:         key.String(),
		Cardinality: cardinality,
		key:         key.ref(),
		bind: func(b Binder) error {
			return Bind(b, key, producer, cardinality, opts...)
		},
	}
}

// Contribution declares an extension. Its Source is set to the plugin ID
// when the plugin loads.
func Contribution[T any](point Key[T], ext Extension[T]) ExtensionDeclaration {
	return ExtensionDeclaration{
		Point: point.String(),
		ID:    ext.ID,
		add: func(h ExtensionHost, source string) error {
			e := ext
			e.Source = source
			return AddExtension(h, point, e)
		},
	}
}

// ModuleOption represents a declaration within a plugin.
type ModuleOption func(*Plugin) error

// NewPlugin creates a plugin from modules and declarations.
//
// Example:
//
//	var VCSModule = kernel.NewModule("vcs",
//	    kernel.Provide(kernel.WorkspaceLevel, VCSManagerKey, NewVCSManager, kernel.Singleton),
//	    kernel.Contribute(ActionsPoint, kernel.Extension[Action]{ID: "commit", Producer: NewCommitAction}),
//	)
//
//	plugin, err := kernel.NewPlugin("vcs", VCSModule)
func NewPlugin(id string, modules ...ModuleOption) (*Plugin, error) {
	if id == "" {
		return nil, ErrPluginIDEmpty
	}

	p := &Plugin{ID: id}
	for _, m := range modules {
		if m == nil {
			continue
		}
		if err := m(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NewModule groups declarations under a name used in errors.
func NewModule(name string, builders ...ModuleOption) ModuleOption {
	return func(p *Plugin) error {
		for _, builder := range builders {
			if builder == nil {
				continue
			}

			if err := builder(p); err != nil {
				return ModuleError{Module: name, Cause: err}
			}
		}

		return nil
	}
}

// Provide creates a ModuleOption declaring a service.
func Provide[T any](level Level, key Key[T], producer Producer[T], cardinality Cardinality, opts ...BindOption) ModuleOption {
	return func(p *Plugin) error {
		if key.IsZero() {
			return ErrKeyZero
		}
		if producer == nil {
			return ErrProducerNil
		}
		if !level.IsValid() {
			return fmt.Errorf("invalid scope level %d for %s", int(level), key)
		}
		if !cardinality.IsValid() {
			return CardinalityError{Value: cardinality}
		}
		p.Services = append(p.Services, Service(level, key, producer, cardinality, opts...))
		return nil
	}
}

// Contribute creates a ModuleOption declaring an extension.
func Contribute[T any](point Key[T], ext Extension[T]) ModuleOption {
	return func(p *Plugin) error {
		if point.IsZero() {
			return ErrKeyZero
		}
		if ext.ID == "" {
			return ErrExtensionIDEmpty
		}
		if ext.Producer == nil {
			return ErrProducerNil
		}
		p.Extensions = append(p.Extensions, Contribution(point, ext))
		return nil
	}
}

type boundKey struct {
	c   *Container
	key keyRef
}

type loadedPlugin struct {
	plugin *Plugin
	bound  []boundKey
}

// bindInto binds the plugin services declared for the level of s and
// returns their keys. On failure the bindings made in s are removed.
// Callers hold the kernel lock.
func (lp *loadedPlugin) bindInto(s *Scope) ([]keyRef, error) {
	lp.bound = slices.DeleteFunc(lp.bound, func(b boundKey) bool { return b.c.IsDisposed() })

	var keys []keyRef
	for _, decl := range lp.plugin.Services {
		if decl.Level != s.level || decl.bind == nil {
			continue
		}
		if err := decl.bind(s); err != nil {
			for _, k := range keys {
				_ = s.container.remove(k)
			}
			lp.bound = lp.bound[:len(lp.bound)-len(keys)]
			return nil, err
		}
		keys = append(keys, decl.key)
		lp.bound = append(lp.bound, boundKey{c: s.container, key: decl.key})
	}
	return keys, nil
}

// unbind removes every binding the plugin made and returns the teardown
// failures.
func (lp *loadedPlugin) unbind() []error {
	var errs []error
	for i := len(lp.bound) - 1; i >= 0; i-- {
		b := lp.bound[i]
		if err := b.c.remove(b.key); err != nil && !IsUnresolved(err) {
			errs = append(errs, err)
		}
	}
	lp.bound = nil
	return errs
}

// LoadPlugin binds the plugin services into every live scope of the
// matching level, adds its extensions with the plugin ID as source and
// preloads its NotLazySingleton services. Scopes created later receive the
// services too. If any step fails the plugin is rolled back.
func (k *Kernel) LoadPlugin(p *Plugin) error {
	if p == nil || p.ID == "" {
		return PluginError{Operation: "load", Cause: ErrPluginIDEmpty}
	}
	if k.shutdown.Load() {
		return PluginError{Plugin: p.ID, Operation: "load", Cause: k.process.container.disposedError()}
	}

	k.mu.Lock()
	for _, lp := range k.plugins {
		if lp.plugin.ID == p.ID {
			k.mu.Unlock()
			return PluginError{Plugin: p.ID, Operation: "load", Cause: ErrPluginLoaded}
		}
	}

	scopes := make([]*Scope, 0, len(k.scopes))
	for _, s := range k.scopes {
		if !s.IsDisposed() {
			scopes = append(scopes, s)
		}
	}
	slices.SortFunc(scopes, func(a, b *Scope) int { return int(a.level) - int(b.level) })

	lp := &loadedPlugin{plugin: p}
	type eagerKeys struct {
		s    *Scope
		keys []keyRef
	}
	var eager []eagerKeys

	fail := func(err error) error {
		k.mu.Unlock()
		RemoveExtensionsBySource(k, p.ID)
		lp.unbind()
		k.env.logger.Warn("plugin load failed", zap.String("plugin", p.ID), zap.Error(err))
		return PluginError{Plugin: p.ID, Operation: "load", Cause: err}
	}

	for _, s := range scopes {
		keys, err := lp.bindInto(s)
		if err != nil {
			return fail(err)
		}
		if len(keys) > 0 {
			eager = append(eager, eagerKeys{s: s, keys: keys})
		}
	}

	for _, decl := range p.Extensions {
		if decl.add == nil {
			continue
		}
		if err := decl.add(k, p.ID); err != nil {
			return fail(err)
		}
	}

	k.plugins = append(k.plugins, lp)
	k.mu.Unlock()

	for _, e := range eager {
		if err := e.s.container.preload(e.keys); err != nil {
			_ = k.UnloadPlugin(p.ID)
			k.env.logger.Warn("plugin preload failed", zap.String("plugin", p.ID), zap.Error(err))
			return PluginError{Plugin: p.ID, Operation: "load", Cause: err}
		}
	}

	k.env.logger.Info("plugin loaded",
		zap.String("plugin", p.ID),
		zap.Int("services", len(p.Services)),
		zap.Int("extensions", len(p.Extensions)),
	)
	return nil
}

// UnloadPlugin removes the plugin's extensions from every point and its
// bindings from every scope. Constructed disposable instances are disposed.
func (k *Kernel) UnloadPlugin(id string) error {
	k.mu.Lock()
	idx := slices.IndexFunc(k.plugins, func(lp *loadedPlugin) bool { return lp.plugin.ID == id })
	if idx < 0 {
		k.mu.Unlock()
		return PluginError{Plugin: id, Operation: "unload", Cause: ErrPluginNotLoaded}
	}
	lp := k.plugins[idx]
	k.plugins = slices.Delete(k.plugins, idx, idx+1)
	k.mu.Unlock()

	removed := RemoveExtensionsBySource(k, id)
	errs := lp.unbind()

	k.env.logger.Info("plugin unloaded",
		zap.String("plugin", id),
		zap.Int("extensionsRemoved", removed),
	)

	if len(errs) > 0 {
		return PluginError{Plugin: id, Operation: "unload", Cause: DisposalError{Name: "plugin " + id, Errors: errs}}
	}
	return nil
}

// Plugins returns the IDs of loaded plugins in load order.
func (k *Kernel) Plugins() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := make([]string, len(k.plugins))
	for i, lp := range k.plugins {
		ids[i] = lp.plugin.ID
	}
	return ids
}
