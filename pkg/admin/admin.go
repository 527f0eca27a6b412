package admin

import (
	"context"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type handler struct {
	promHandler http.Handler
	enablePprof bool
	ready       *bool
}

// NewServer returns an admin http server listening on a given address. It
// serves prometheus metrics, readiness and liveness probes, and optionally
// pprof endpoints. ready is read on every probe; callers flip it once their
// dependencies are initialized.
func NewServer(addr string, enablePprof bool, ready *bool) *http.Server {
	h := &handler{
		promHandler: promhttp.Handler(),
		enablePprof: enablePprof,
		ready:       ready,
	}

	return &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 15 * time.Second,
		Handler:           h,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		h.servePing(w)
	case "/ready":
		h.serveReady(w)
	default:
		if h.enablePprof && strings.HasPrefix(req.URL.Path, "/debug/pprof/") {
			switch req.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, req)
			case "/debug/pprof/profile":
				pprof.Profile(w, req)
			case "/debug/pprof/trace":
				pprof.Trace(w, req)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, req)
			default:
				pprof.Index(w, req)
			}
			return
		}
		http.NotFound(w, req)
	}
}

func (h *handler) servePing(w http.ResponseWriter) {
	w.Write([]byte("pong\n"))
}

func (h *handler) serveReady(w http.ResponseWriter) {
	if h.ready != nil && *h.ready {
		w.Write([]byte("ok\n"))
		return
	}
	http.Error(w, "unready", http.StatusServiceUnavailable)
}

// StartServer starts an admin server and blocks. Most callers run it in a
// goroutine next to their main listener.
func StartServer(addr string, enablePprof bool, ready *bool) {
	log.Infof("starting admin server on %s", addr)
	server := NewServer(addr, enablePprof, ready)
	log.Fatal(server.ListenAndServe())
}

// Shutdown gracefully stops a server returned by NewServer.
func Shutdown(ctx context.Context, server *http.Server) {
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("admin server shutdown: %s", err)
	}
}
