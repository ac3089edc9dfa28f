package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/httpdown"
	"github.com/jonboulle/clockwork"
	gometrics "github.com/rcrowley/go-metrics"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], ".env", os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := newLogger(cfg.logLevel, cfg.logFormat, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	m = newMetrics(log.With().Str("component", "metrics").Logger(), gometrics.DefaultRegistry, cfg.metricsTick)
	startMetrics()
	defer finalMetrics()

	// Prepare the stoppable HTTP server
	r := newRelay(cfg, log, clockwork.NewRealClock())
	server := &http.Server{
		Addr:    cfg.addr,
		Handler: r.handler(),
	}
	hd := &httpdown.HTTP{
		StopTimeout: cfg.stopTimeout,
		KillTimeout: cfg.killTimeout,
	}

	// Start the server
	s, err := hd.ListenAndServe(server)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.addr).Msg("listen failed")
		return
	}
	log.Info().Str("addr", cfg.addr).Msg("websocket relay listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("signal received, shutting down gracefully")
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.stopTimeout)
		defer cancel()
		if err := r.shutdown(drainCtx); err != nil {
			log.Warn().Err(err).Msg("drain incomplete")
		}
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("http stop")
		}
	}()

	if err := s.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
}
