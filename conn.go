package main

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	errConnClosed    = errors.New("connection is not open")
	errSendQueueFull = errors.New("send queue is full")
)

// role is the side of the relay a connection declared itself to be.
type role int

const (
	roleUnassigned role = iota
	roleExtension
	roleBot
)

func (r role) String() string {
	switch r {
	case roleExtension:
		return "extension"
	case roleBot:
		return "bot"
	default:
		return "unassigned"
	}
}

type liveness int32

const (
	livenessOpen liveness = iota
	livenessClosing
	livenessClosed
)

type connection struct {
	id      string
	w       websocketManager
	log     zerolog.Logger
	limiter *rate.Limiter

	// Guarded by the registry the connection declared itself to.
	role role

	state atomic.Int32

	mu        sync.Mutex // Protects send, done and the closing flag
	closing   bool
	closeCode int
	send      chan []byte
	done      chan struct{} // Closed by close, the writer's cue to finish

	teardown sync.Once
}

func newConnection(w websocketManager, queue int, log zerolog.Logger) *connection {
	id := uuid.NewString()
	return &connection{
		id:   id,
		w:    w,
		log:  log.With().Str("conn", id).Str("remote", w.wsRemoteAddr()).Logger(),
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

func (c *connection) isOpen() bool {
	return liveness(c.state.Load()) == livenessOpen
}

// enqueue hands a message to the writer. It never blocks: a closed
// connection or a full queue is reported as an error.
func (c *connection) enqueue(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || !c.isOpen() {
		return errConnClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		return errSendQueueFull
	}
}

// close stops accepting messages and tells the writer to finish with a
// close frame carrying code. Only the first call has any effect.
func (c *connection) close(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return
	}
	c.closing = true
	c.closeCode = code
	c.state.CompareAndSwap(int32(livenessOpen), int32(livenessClosing))
	close(c.done)
}

func (c *connection) reader(handle func(*connection, []byte)) {
	c.w.wsSetReadLimit()
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	for {
		if err := c.readMessage(handle); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("connection error")
			} else {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
	}
}

func (c *connection) readMessage(handle func(*connection, []byte)) error {
	_, message, err := c.w.wsReadMessage()
	if err != nil {
		return err
	}
	incr("conn.recv", 1)
	if c.limiter != nil && !c.limiter.Allow() {
		incr("ratelimit.drops", 1)
		c.log.Debug().Int("bytes", len(message)).Msg("rate limited, frame dropped")
		return nil
	}
	handle(c, message)
	return nil
}

// writer drains the send queue onto the socket and pings on every tick.
// A nil ticks channel disables pings. Once done is closed it flushes what is
// already queued and finishes with a close frame.
func (c *connection) writer(ticks <-chan time.Time) {
	defer func() {
		c.state.Store(int32(livenessClosed))
		c.w.wsClose()
	}()
	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}
		case _, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *connection) write(message []byte) error {
	c.w.wsSetWriteDeadline()
	if err := c.w.wsWriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		return err
	}
	incr("conn.send", 1)
	return nil
}

// flush writes whatever is still queued, then the close frame. enqueue
// refuses new messages once closing is set and the writer is the only
// reader, so the queue only shrinks here.
func (c *connection) flush() {
	for len(c.send) > 0 {
		if err := c.write(<-c.send); err != nil {
			return
		}
	}
	c.mu.Lock()
	code := c.closeCode
	c.mu.Unlock()
	c.w.wsSetWriteDeadline()
	c.w.wsWriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
}
