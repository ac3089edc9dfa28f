// Package memerelay relays messages between browser extensions and bots
// over websockets.
//
//     memerelay -addr=:3001
//
// Everything is as ephemeral as can be. A message is forwarded to the
// connections of the other side that are connected right now and then
// forgotten.
//
// Connect with a websocket to any path and declare a side with the first
// message:
//     {"type":"extension_connect"}
//     {"type":"bot_connect"}
//
// Extensions send {"type":"meme_request", ...}; every bot receives the
// frame exactly as sent. Bots send {"type":"meme_status", ...}; every
// extension receives it exactly as sent. Other types are ignored and
// nothing is ever sent back to the sender.
//
// Plain HTTP:
//     GET /health   status, extension and bot counts, uptime in seconds
//     GET /ping     keep-alive, current time in unix milliseconds
//     GET /metrics  counters as JSON
package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// relay wires the registry, router and connection manager together and
// serves them over HTTP.
type relay struct {
	registry *registry
	router   *router
	manager  *manager
	ticker   *mTicker

	origin         string
	maxMessageSize int64
	clock          clockwork.Clock
	started        time.Time
	log            zerolog.Logger
}

func newRelay(cfg *config, log zerolog.Logger, clock clockwork.Clock) *relay {
	reg := newRegistry(cfg.roleChange)
	rt := newRouter(reg, log)
	ticker := newMTicker(cfg.pingPeriod)
	mgr := newManager(reg, rt, ticker, connConfig{
		sendQueue: cfg.sendQueue,
		rateLimit: rate.Limit(cfg.rateLimit),
		rateBurst: cfg.rateBurst,
	}, log)
	return &relay{
		registry:       reg,
		router:         rt,
		manager:        mgr,
		ticker:         ticker,
		origin:         cfg.origin,
		maxMessageSize: cfg.maxMessageSize,
		clock:          clock,
		started:        clock.Now(),
		log:            log,
	}
}

func (r *relay) uptime() time.Duration {
	return r.clock.Since(r.started)
}

// shutdown is the drain hook run before the HTTP server stops.
func (r *relay) shutdown(ctx context.Context) error {
	defer r.ticker.stop()
	return r.manager.shutdown(ctx)
}
