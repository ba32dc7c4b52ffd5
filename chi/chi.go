// Package chi provides kernel integration for the Chi router.
//
// This package provides middleware for creating a child scope per request,
// type-safe handler wrappers resolving controllers from that scope, and a
// diagnostics router exposing the scope tree, extension points and metrics.
//
// Example usage:
//
//	k, _ := kernel.Initialize()
//	ws, _ := k.CreateScope(nil, "server")
//
//	r := chi.NewRouter()
//	r.Use(kernelchi.ScopeMiddleware(ws))
//
//	r.Get("/users/{id}", kernelchi.Handle(UserControllerKey, UserController.GetByID))
//	r.Mount("/debug/kernel", kernelchi.NewDiagnosticsRouter(k))
package chi

import (
	"net/http"

	"github.com/plugkit/kernel"
	"go.uber.org/zap"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// Logger receives close failures. Defaults to the kernel logger.
	Logger *zap.Logger

	// ScopeName names the scope of a request. Defaults to the method and
	// path.
	ScopeName func(*http.Request) string

	// ErrorHandler is called when scope creation fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// CloseErrorHandler is called when scope closing fails.
	// If nil, errors are logged.
	CloseErrorHandler func(error)

	// Middlewares are functions that run after scope creation.
	// They can be used to bind request values, set user data, etc.
	Middlewares []func(*kernel.Scope, *http.Request) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithLogger sets the logger used by the default handlers.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithScopeName sets how request scopes are named.
func WithScopeName(fn func(*http.Request) string) Option {
	return func(c *Config) {
		c.ScopeName = fn
	}
}

// WithErrorHandler sets the error handler for scope creation failures.
func WithErrorHandler(h func(http.ResponseWriter, *http.Request, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithCloseErrorHandler sets the error handler for scope close failures.
func WithCloseErrorHandler(h func(error)) Option {
	return func(c *Config) {
		c.CloseErrorHandler = h
	}
}

// WithMiddleware adds a middleware function that runs after scope creation.
// Multiple middlewares are executed in the order they are added.
func WithMiddleware(mw func(*kernel.Scope, *http.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig(parent *kernel.Scope) *Config {
	return &Config{
		Logger: parent.Kernel().Logger(),
		ScopeName: func(r *http.Request) string {
			return r.Method + " " + r.URL.Path
		},
	}
}

func (c *Config) complete() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	logger := c.Logger.Named("chi")

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("failed to create request scope", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
	if c.CloseErrorHandler == nil {
		c.CloseErrorHandler = func(err error) {
			logger.Error("failed to close request scope", zap.Error(err))
		}
	}
}

// ScopeMiddleware creates a Chi middleware that creates a child of parent
// for each request. The scope is attached to the request context and can
// be retrieved using kernel.FromContext.
//
// The scope is closed when the request completes, disposing everything
// resolved in it. parent must be the process scope or a workspace scope.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(kernelchi.ScopeMiddleware(k.Process()))
func ScopeMiddleware(parent *kernel.Scope, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig(parent)
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.complete()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, err := parent.CreateChild(cfg.ScopeName(r))
			if err != nil {
				cfg.ErrorHandler(w, r, err)
				return
			}

			defer func() {
				if err := scope.Close(); err != nil {
					cfg.CloseErrorHandler(err)
				}
			}()

			// Attach scope to request context
			r = r.WithContext(kernel.WithScope(r.Context(), scope))

			// Run middlewares
			for _, mw := range cfg.Middlewares {
				if err := mw(scope, r); err != nil {
					cfg.ErrorHandler(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// Logger receives failures of the default handlers.
	Logger *zap.Logger

	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(http.ResponseWriter, *http.Request, any)

	// ScopeErrorHandler is called when scope retrieval fails.
	ScopeErrorHandler func(http.ResponseWriter, *http.Request, error)

	// ResolutionErrorHandler is called when controller resolution fails.
	ResolutionErrorHandler func(http.ResponseWriter, *http.Request, error)
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithHandlerLogger sets the logger of the default handlers.
func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(c *HandlerConfig) {
		c.Logger = l
	}
}

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics.
func WithPanicHandler(h func(http.ResponseWriter, *http.Request, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithScopeErrorHandler sets the error handler for scope retrieval failures.
func WithScopeErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ScopeErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func (c *HandlerConfig) complete() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	logger := c.Logger.Named("chi")

	if c.PanicHandler == nil {
		c.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
			logger.Error("panic in handler", zap.String("path", r.URL.Path), zap.Any("panic", v))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
	if c.ScopeErrorHandler == nil {
		c.ScopeErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("failed to get scope from context", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
	if c.ResolutionErrorHandler == nil {
		c.ResolutionErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("failed to resolve controller", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}

// Handle wraps a controller method for type-safe resolution from the
// request scope. The controller bound to key is resolved from the scope
// attached to the request context.
//
// Example:
//
//	var UserControllerKey = kernel.NewKey[*UserController]("users")
//
//	r.Get("/users/{id}", kernelchi.Handle(UserControllerKey, (*UserController).GetByID))
func Handle[T any](key kernel.Key[T], method func(T, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	cfg := &HandlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.complete()

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(w, r, v)
				}
			}()
		}

		scope, err := kernel.FromContext(r.Context())
		if err != nil {
			cfg.ScopeErrorHandler(w, r, err)
			return
		}

		controller, err := kernel.Get(scope, key)
		if err != nil {
			cfg.ResolutionErrorHandler(w, r, err)
			return
		}

		method(controller, w, r)
	}
}
