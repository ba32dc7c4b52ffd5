package testutil

import (
	"testing"

	"github.com/plugkit/kernel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

// Fixture is a kernel with observed logs and a private metrics registry.
type Fixture struct {
	Kernel   *kernel.Kernel
	Logs     *observer.ObservedLogs
	Registry *prometheus.Registry
}

// NewKernel initializes a kernel for a test and shuts it down on cleanup.
func NewKernel(t *testing.T, opts ...kernel.Option) *Fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()

	all := append([]kernel.Option{
		kernel.WithLogger(zap.New(core)),
		kernel.WithRegisterer(reg),
		kernel.WithName(t.Name()),
	}, opts...)

	k, err := kernel.Initialize(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown() })

	return &Fixture{Kernel: k, Logs: logs, Registry: reg}
}

// Workspace creates a workspace scope under the process scope.
func (f *Fixture) Workspace(t *testing.T, name string) *kernel.Scope {
	t.Helper()
	s, err := f.Kernel.CreateScope(f.Kernel.Process(), name)
	require.NoError(t, err)
	return s
}

// Module creates a module scope under ws.
func (f *Fixture) Module(t *testing.T, ws *kernel.Scope, name string) *kernel.Scope {
	t.Helper()
	s, err := ws.CreateChild(name)
	require.NoError(t, err)
	return s
}

// LogMessages returns the messages logged at or above level.
func (f *Fixture) LogMessages(level zapcore.Level) []string {
	var msgs []string
	for _, e := range f.Logs.All() {
		if e.Level >= level {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}
