package chi

import (
	"encoding/json"
	"net/http"

	gochi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/plugkit/kernel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewDiagnosticsRouter returns a read-only router describing k:
//
//	GET /scopes                  scope tree and bindings (kernel.Snapshot)
//	GET /plugins                 loaded plugin IDs
//	GET /extensions              every extension point and its order
//	GET /extensions/{point}      resolved order of one point as text
//	GET /extensions/{point}/dot  ordering graph in Graphviz DOT
//	GET /metrics                 Prometheus metrics, if enabled
//
// Nothing is constructed by these endpoints.
func NewDiagnosticsRouter(k *kernel.Kernel) gochi.Router {
	logger := k.Logger().Named("diagnostics")

	r := gochi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/scopes", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, k.Snapshot())
	})

	r.Get("/plugins", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, k.Plugins())
	})

	r.Get("/extensions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, k.Registry().Points())
	})

	r.Get("/extensions/{point}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		found, err := k.Registry().WriteText(gochi.URLParam(r, "point"), w)
		writeResult(w, r, logger, found, err)
	})

	r.Get("/extensions/{point}/dot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		found, err := k.Registry().WriteDOT(gochi.URLParam(r, "point"), w)
		writeResult(w, r, logger, found, err)
	})

	if g := k.Gatherer(); g != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("failed to encode diagnostics", zap.Error(err))
	}
}

func writeResult(w http.ResponseWriter, r *http.Request, logger *zap.Logger, found bool, err error) {
	switch {
	case !found:
		http.Error(w, "extension point not found", http.StatusNotFound)
	case err != nil:
		logger.Error("failed to render extension point",
			zap.String("point", gochi.URLParam(r, "point")),
			zap.Error(err),
		)
	}
}
