package main

import (
	"github.com/rs/zerolog"
)

// router classifies inbound frames and turns them into registry calls.
// It keeps no state of its own between frames.
type router struct {
	registry *registry
	log      zerolog.Logger
}

func newRouter(r *registry, log zerolog.Logger) *router {
	return &router{registry: r, log: log}
}

// route never answers the sender and never fails the connection.
func (rt *router) route(c *connection, frame []byte) {
	msg, err := decodeMessage(frame)
	if err != nil {
		incr("decode.errors", 1)
		c.log.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping undecodable frame")
		return
	}

	switch v := msg.(type) {
	case extensionConnect:
		rt.declare(c, roleExtension)
	case botConnect:
		rt.declare(c, roleBot)
	case memeRequest:
		n := rt.registry.broadcast(roleBot, v.raw)
		c.log.Debug().Int("recipients", n).Msg("forwarded meme request to bots")
	case memeStatus:
		n := rt.registry.broadcast(roleExtension, v.raw)
		c.log.Debug().Int("recipients", n).Msg("forwarded meme status to extensions")
	default:
		c.log.Debug().Str("type", msg.messageType()).Msg("ignoring message")
	}
}

func (rt *router) declare(c *connection, ro role) {
	if err := rt.registry.register(c, ro); err != nil {
		c.log.Warn().Err(err).Stringer("role", ro).Msg("role declaration refused")
		return
	}
	c.log.Info().Stringer("role", ro).Msg("role declared")
}
