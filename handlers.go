package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gometrics "github.com/rcrowley/go-metrics"
)

func (r *relay) handler() http.Handler {
	handler := mux.NewRouter()

	// Route websocket requests. Header values are token lists compared
	// without case, e.g. "Connection: keep-alive, Upgrade" from Firefox.
	handler.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(req)
	}).Handler(newWsHandler(r))

	// Route plain HTTP requests
	handler.Methods("GET").Path("/health").Handler(healthHandler{r: r})
	handler.Methods("GET").Path("/ping").Handler(pingHandler{r: r})
	handler.Methods("GET").Path("/metrics").Handler(metricsHandler{reg: m.reg})

	// Extension pages poll /health and /ping from their own origin.
	return handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(handler)
}

type wsHandler struct {
	r        *relay
	upgrader *websocket.Upgrader
}

// newWsHandler checks Origin headers against r.origin when it is set and
// accepts any origin otherwise.
func newWsHandler(r *relay) wsHandler {
	upgrader := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if r.origin == "" {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	} else {
		upgrader.CheckOrigin = func(req *http.Request) bool {
			return req.Header.Get("Origin") == r.origin
		}
	}
	return wsHandler{r: r, upgrader: upgrader}
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if wsh.r.manager.isDraining() {
		http.Error(w, "Error: shutting down.", http.StatusServiceUnavailable)
		return
	}
	ws, err := wsh.upgrader.Upgrade(w, req, nil)
	if err != nil {
		wsh.r.log.Debug().Err(err).Str("remote", req.RemoteAddr).Msg("upgrade failed")
		return
	}
	c, err := wsh.r.manager.accept(websocketInteractor{ws: ws, readLimit: wsh.r.maxMessageSize})
	if err != nil {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		ws.Close()
		return
	}
	wsh.r.manager.run(c)
}

type healthHandler struct {
	r *relay
}

type healthReport struct {
	Status     string  `json:"status"`
	Extensions int     `json:"extensions"`
	Bots       int     `json:"bots"`
	Uptime     float64 `json:"uptime"`
}

func (hh healthHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	extensions, bots := hh.r.registry.counts()
	writeJSON(w, healthReport{
		Status:     "ok",
		Extensions: extensions,
		Bots:       bots,
		Uptime:     hh.r.uptime().Seconds(),
	})
}

type pingHandler struct {
	r *relay
}

func (ph pingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]int64{"pong": ph.r.clock.Now().UnixMilli()})
}

type metricsHandler struct {
	reg gometrics.Registry
}

func (mh metricsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	gometrics.WriteJSONOnce(mh.reg, w)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
