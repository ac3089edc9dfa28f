package main

import (
	"sync"
	"time"
)

// mTicker shares one time.Ticker between every connection writer so a
// relay with thousands of sockets runs a single heartbeat timer.
type mTicker struct {
	mux         sync.Mutex // Protects subscribers and stopped
	subscribers subscribers
	stopped     bool

	ticker *time.Ticker
	stopCh chan struct{}
}

type subscribers map[*subscriber]interface {
}

type subscriber struct {
	tick chan time.Time
}

// newMTicker creates and starts a ticker firing every interval.
func newMTicker(interval time.Duration) *mTicker {
	t := &mTicker{
		subscribers: make(subscribers),
		ticker:      time.NewTicker(interval),
		stopCh:      make(chan struct{}),
	}
	go t.run()
	return t
}

// subscribe returns a subscriber whose channel receives ticks. Ticks the
// subscriber is not ready for are dropped. Subscribing to a stopped ticker
// returns an already closed channel.
func (t *mTicker) subscribe() *subscriber {
	t.mux.Lock()
	defer t.mux.Unlock()

	sub := &subscriber{tick: make(chan time.Time, 1)}
	if t.stopped {
		close(sub.tick)
		return sub
	}
	t.subscribers[sub] = nil
	return sub
}

func (t *mTicker) unsubscribe(sub *subscriber) {
	t.mux.Lock()
	defer t.mux.Unlock()

	if _, ok := t.subscribers[sub]; !ok {
		return
	}
	delete(t.subscribers, sub)
	close(sub.tick)
}

// stop halts the ticker and closes every subscribed channel.
func (t *mTicker) stop() {
	t.mux.Lock()
	defer t.mux.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	t.ticker.Stop()
	close(t.stopCh)
	for sub := range t.subscribers {
		close(sub.tick)
	}
	t.subscribers = make(subscribers)
}

func (t *mTicker) run() {
	for {
		select {
		case tick := <-t.ticker.C:
			t.fanOut(tick)
		case <-t.stopCh:
			return
		}
	}
}

func (t *mTicker) fanOut(tick time.Time) {
	t.mux.Lock()
	defer t.mux.Unlock()

	for sub := range t.subscribers {
		select {
		case sub.tick <- tick:
		default:
			mark("ticks.dropped", 1)
		}
	}
}
