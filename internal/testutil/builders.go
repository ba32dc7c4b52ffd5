package testutil

import (
	"testing"

	"github.com/plugkit/kernel"
	"github.com/stretchr/testify/require"
)

// PluginBuilder provides a fluent interface for building test plugins
type PluginBuilder struct {
	t       *testing.T
	id      string
	modules []kernel.ModuleOption
}

// NewPluginBuilder creates a new PluginBuilder
func NewPluginBuilder(t *testing.T, id string) *PluginBuilder {
	return &PluginBuilder{t: t, id: id}
}

// With adds declarations to the plugin
func (b *PluginBuilder) With(modules ...kernel.ModuleOption) *PluginBuilder {
	b.modules = append(b.modules, modules...)
	return b
}

// WithExtension contributes a Named extension
func (b *PluginBuilder) WithExtension(point kernel.Key[Named], id string, order kernel.Order) *PluginBuilder {
	return b.With(kernel.Contribute(point, NamedExtension(id, order)))
}

// Build returns the plugin
func (b *PluginBuilder) Build() *kernel.Plugin {
	b.t.Helper()
	p, err := kernel.NewPlugin(b.id, b.modules...)
	require.NoError(b.t, err)
	return p
}

// Load builds the plugin and loads it into k
func (b *PluginBuilder) Load(k *kernel.Kernel) *kernel.Plugin {
	b.t.Helper()
	p := b.Build()
	require.NoError(b.t, k.LoadPlugin(p))
	return p
}
