package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errMockClosed = errors.New("mock socket closed")

type mockFrame struct {
	kind    int
	payload []byte
}

// mockWsInteractor stands in for a websocket. Frames pushed on reads are
// returned by wsReadMessage; closing reads ends the stream like a peer
// hanging up.
type mockWsInteractor struct {
	reads   chan []byte
	closed  chan struct{}
	once    sync.Once
	written chan mockFrame
	failAll bool
}

func newMockWs() *mockWsInteractor {
	return &mockWsInteractor{
		reads:   make(chan []byte, 16),
		closed:  make(chan struct{}),
		written: make(chan mockFrame, 64),
	}
}

func (mw *mockWsInteractor) wsSetReadLimit() {}

func (mw *mockWsInteractor) wsSetReadDeadline() {}

func (mw *mockWsInteractor) wsSetPongHandler() {}

func (mw *mockWsInteractor) wsSetWriteDeadline() {}

func (mw *mockWsInteractor) wsRemoteAddr() string { return "192.0.2.1:4242" }

func (mw *mockWsInteractor) wsClose() {
	mw.once.Do(func() { close(mw.closed) })
}

func (mw *mockWsInteractor) wsReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-mw.reads:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, msg, nil
	case <-mw.closed:
		return 0, nil, errMockClosed
	}
}

func (mw *mockWsInteractor) wsWriteMessage(kind int, payload []byte) error {
	if mw.failAll {
		return errMockClosed
	}
	select {
	case <-mw.closed:
		return errMockClosed
	default:
	}
	select {
	case mw.written <- mockFrame{kind: kind, payload: payload}:
	default:
	}
	return nil
}

// nextFrame waits for the next frame written to the mock.
func (mw *mockWsInteractor) nextFrame(t *testing.T) mockFrame {
	t.Helper()
	select {
	case f := <-mw.written:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("Expectation: a frame to be written, Received: nothing")
		return mockFrame{}
	}
}

func newTestConnection() *connection {
	return newConnection(newMockWs(), 16, zerolog.Nop())
}

// queued returns everything waiting in c's send queue without blocking.
func queued(c *connection) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}
