package web

import (
	"encoding/json"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/vinayprograms/cellbus/transport"
)

// Handler returns the HTTP routes:
//
//	/health   liveness JSON
//	/metrics  Prometheus scrape endpoint
//	/ws       envelope gateway onto the bus
//	/         static files, unknown paths fall back to index.html
func (c *Cell) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", c.metrics.HTTPMiddleware("/health", http.HandlerFunc(c.serveHealth)))
	mux.Handle("/metrics", c.metrics.HTTPMiddleware("/metrics", c.metrics.Handler()))
	// The upgrade needs the raw writer, so /ws is counted by connection gauge only.
	mux.HandleFunc("/ws", c.serveWS)
	mux.Handle("/", c.metrics.HTTPMiddleware("/", c.staticHandler()))

	if c.cfg.CORS {
		return cors(mux)
	}
	return mux
}

func (c *Cell) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.health())
}

func (c *Cell) serveWS(w http.ResponseWriter, r *http.Request) {
	b := c.attachedBus()
	if b == nil {
		http.Error(w, "bus not attached", http.StatusServiceUnavailable)
		return
	}

	// Counted before the upgrade so Shutdown cannot miss the session.
	c.conns.Add(1)
	defer c.conns.Done()

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	c.metrics.GatewayConnections.Inc()
	defer c.metrics.GatewayConnections.Dec()

	c.logger.Info("gateway client connected", map[string]interface{}{"remote": r.RemoteAddr})

	gw := transport.NewGateway(b,
		transport.WithLogger(c.logger),
		transport.WithRateLimit(c.cfg.GatewayRate, c.cfg.GatewayBurst))
	t := transport.NewWebSocketTransport(conn, transport.DefaultWebSocketConfig())
	if err := gw.Serve(c.ctx, t); err != nil {
		c.logger.Warn("gateway session ended with error", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
	}

	c.logger.Info("gateway client disconnected", map[string]interface{}{"remote": r.RemoteAddr})
}

// staticHandler serves StaticDir. Paths naming no file get index.html so
// client-side routes survive a reload.
func (c *Cell) staticHandler() http.Handler {
	root := http.Dir(c.cfg.StaticDir)
	files := http.FileServer(root)
	index := filepath.Join(c.cfg.StaticDir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, err := root.Open(path.Clean("/" + r.URL.Path))
		if err != nil {
			if _, statErr := os.Stat(index); statErr != nil {
				http.NotFound(w, r)
				return
			}
			http.ServeFile(w, r, index)
			return
		}
		f.Close()
		files.ServeHTTP(w, r)
	})
}

// cors allows any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
