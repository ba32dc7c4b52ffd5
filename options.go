package kernel

import (
	"github.com/plugkit/kernel/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures Initialize.
type Option func(*options)

type options struct {
	config     *config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	// overrides applied on top of config
	name        *string
	policy      *config.ConflictPolicy
	maxDepth    *int
	noMetrics   bool
	configError error
}

// WithConfig replaces the default configuration. Use config.NewLoader to
// build one from files and the environment.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		c := *cfg
		o.config = &c
	}
}

// WithConfigFile loads configuration from a YAML file, .env files and
// KERNEL_* environment variables.
func WithConfigFile(path string, envFiles ...string) Option {
	return func(o *options) {
		cfg, err := config.NewLoader().WithConfigFile(path).WithEnvFiles(envFiles...).Load()
		if err != nil {
			o.configError = err
			return
		}
		o.config = cfg
	}
}

// WithLogger sets the logger, overriding the logging configuration.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer sets where metrics are registered. If it is also a
// prometheus.Gatherer, Kernel.Gatherer returns it. By default a private
// registry is used.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithoutMetrics disables metrics regardless of configuration.
func WithoutMetrics() Option {
	return func(o *options) {
		o.noMetrics = true
	}
}

// WithConflictPolicy sets how contradicting extension order constraints
// are handled.
func WithConflictPolicy(p config.ConflictPolicy) Option {
	return func(o *options) {
		o.policy = &p
	}
}

// WithMaxResolutionDepth bounds nested producer calls. Zero disables the
// check.
func WithMaxResolutionDepth(depth int) Option {
	return func(o *options) {
		o.maxDepth = &depth
	}
}

// WithName sets the name of the process scope.
func WithName(name string) Option {
	return func(o *options) {
		o.name = &name
	}
}

func (o *options) resolve() (*config.Config, error) {
	if o.configError != nil {
		return nil, o.configError
	}

	cfg := o.config
	if cfg == nil {
		cfg = config.Default()
	}
	if o.name != nil {
		cfg.Name = *o.name
	}
	if o.policy != nil {
		cfg.Extensions.ConflictPolicy = *o.policy
	}
	if o.maxDepth != nil {
		cfg.Container.MaxResolutionDepth = *o.maxDepth
	}
	if o.noMetrics {
		cfg.Metrics.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
