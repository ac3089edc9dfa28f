package main

import (
	"io"
	"os"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

type metrics struct {
	log  io.Writer
	reg  gometrics.Registry
	tick time.Duration
	quit chan struct{}
}

// m is replaced in main once the logger exists.
var m = newMetrics(os.Stderr, gometrics.DefaultRegistry, time.Minute)

func newMetrics(log io.Writer, reg gometrics.Registry, tick time.Duration) *metrics {
	return &metrics{
		log:  log,
		reg:  reg,
		tick: tick,
		quit: make(chan struct{}),
	}
}

func startMetrics() {
	m.start()
}

func finalMetrics() {
	close(m.quit)
	m.writeOnce()
}

func incr(name string, i int64) {
	m.incr(name, i)
}

func decr(name string, i int64) {
	m.decr(name, i)
}

func mark(name string, i int64) {
	gometrics.GetOrRegisterMeter(name, m.reg).Mark(i)
}

func gauge(name string, v int64) {
	gometrics.GetOrRegisterGauge(name, m.reg).Update(v)
}

// start dumps the registry every tick until finalMetrics. A zero tick only
// dumps on exit.
func (m *metrics) start() {
	if m.tick <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(m.tick)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.writeOnce()
			case <-m.quit:
				return
			}
		}
	}()
}

func (m *metrics) writeOnce() {
	gometrics.WriteJSONOnce(m.reg, m.log)
}

func (m *metrics) incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m *metrics) decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

func (m *metrics) count(name string) int64 {
	return gometrics.GetOrRegisterCounter(name, m.reg).Count()
}
