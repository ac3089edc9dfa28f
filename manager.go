package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var errDraining = errors.New("relay is draining")

type connConfig struct {
	sendQueue int
	rateLimit rate.Limit // zero disables limiting
	rateBurst int
}

// manager owns every accepted connection from upgrade to teardown. It feeds
// inbound frames to the router and guarantees each connection leaves the
// registry exactly once.
type manager struct {
	registry *registry
	router   *router
	ticker   *mTicker
	cfg      connConfig
	log      zerolog.Logger

	mu       sync.Mutex // Protects live and draining
	live     connections
	draining bool
	wg       sync.WaitGroup
}

func newManager(reg *registry, rt *router, ticker *mTicker, cfg connConfig, log zerolog.Logger) *manager {
	return &manager{
		registry: reg,
		router:   rt,
		ticker:   ticker,
		cfg:      cfg,
		log:      log,
		live:     make(connections),
	}
}

// accept wraps w in a connection and tracks it. It fails once draining
// has started.
func (mg *manager) accept(w websocketManager) (*connection, error) {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	if mg.draining {
		return nil, errDraining
	}
	c := newConnection(w, mg.cfg.sendQueue, mg.log)
	if mg.cfg.rateLimit > 0 {
		c.limiter = rate.NewLimiter(mg.cfg.rateLimit, mg.cfg.rateBurst)
	}
	mg.live[c] = nil
	mg.wg.Add(1)
	return c, nil
}

// run serves c until its socket fails or it is closed, then tears it down.
// It returns after the writer has finished.
func (mg *manager) run(c *connection) {
	defer mg.wg.Done()
	incr("websockets", 1)
	defer decr("websockets", 1)
	c.log.Info().Msg("connection opened")

	var ticks <-chan time.Time
	if mg.ticker != nil {
		sub := mg.ticker.subscribe()
		defer mg.ticker.unsubscribe(sub)
		ticks = sub.tick
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writer(ticks)
	}()

	defer func() {
		mg.teardown(c)
		<-writerDone
		c.log.Info().Stringer("role", mg.registry.roleOf(c)).Msg("connection closed")
	}()
	c.reader(mg.router.route)
}

// teardown closes c and removes it from the registry. Only the first call
// does anything.
func (mg *manager) teardown(c *connection) {
	c.teardown.Do(func() {
		defer mg.registry.unregister(c)
		c.close(websocket.CloseNormalClosure)

		mg.mu.Lock()
		delete(mg.live, c)
		mg.mu.Unlock()
	})
}

func (mg *manager) isDraining() bool {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.draining
}

// shutdown stops accepting connections, asks every live one to go away and
// waits for them to finish until ctx is done.
func (mg *manager) shutdown(ctx context.Context) error {
	mg.mu.Lock()
	mg.draining = true
	conns := make([]*connection, 0, len(mg.live))
	for c := range mg.live {
		conns = append(conns, c)
	}
	mg.mu.Unlock()

	mg.log.Info().Int("connections", len(conns)).Msg("draining")
	for _, c := range conns {
		c.close(websocket.CloseGoingAway)
	}

	done := make(chan struct{})
	go func() {
		mg.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}
}
