package main

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(policy roleChangePolicy) (*router, *registry) {
	reg := newRegistry(policy)
	return newRouter(reg, zerolog.Nop()), reg
}

func TestRouteConnect(t *testing.T) {
	rt, reg := newTestRouter(roleChangeReject)
	ext, bot := newTestConnection(), newTestConnection()

	rt.route(ext, []byte(`{"type":"extension_connect"}`))
	rt.route(bot, []byte(`{"type":"bot_connect"}`))

	assert.Equal(t, []*connection{ext}, reg.snapshot(roleExtension))
	assert.Equal(t, []*connection{bot}, reg.snapshot(roleBot))
	// Nothing is ever answered.
	assert.Empty(t, queued(ext))
	assert.Empty(t, queued(bot))
}

func TestRouteMemeRequestReachesOnlyBots(t *testing.T) {
	rt, _ := newTestRouter(roleChangeReject)
	ext1, ext2 := newTestConnection(), newTestConnection()
	b1, b2, b3 := newTestConnection(), newTestConnection(), newTestConnection()
	rt.route(ext1, []byte(`{"type":"extension_connect"}`))
	rt.route(ext2, []byte(`{"type":"extension_connect"}`))
	for _, b := range []*connection{b1, b2, b3} {
		rt.route(b, []byte(`{"type":"bot_connect"}`))
	}

	frame := `{"type":"meme_request","topic":"cats"}`
	rt.route(ext1, []byte(frame))

	for _, b := range []*connection{b1, b2, b3} {
		assert.Equal(t, []string{frame}, queued(b))
	}
	assert.Empty(t, queued(ext1))
	assert.Empty(t, queued(ext2))
}

func TestRouteMemeStatusReachesOnlyExtensions(t *testing.T) {
	rt, _ := newTestRouter(roleChangeReject)
	ext1, ext2, bot := newTestConnection(), newTestConnection(), newTestConnection()
	rt.route(ext1, []byte(`{"type":"extension_connect"}`))
	rt.route(ext2, []byte(`{"type":"extension_connect"}`))
	rt.route(bot, []byte(`{"type":"bot_connect"}`))

	frame := `{"type":"meme_status","state":"done"}`
	rt.route(bot, []byte(frame))

	assert.Equal(t, []string{frame}, queued(ext1))
	assert.Equal(t, []string{frame}, queued(ext2))
	assert.Empty(t, queued(bot))
}

func TestRouteFromUnregisteredSender(t *testing.T) {
	rt, _ := newTestRouter(roleChangeReject)
	bot, stranger := newTestConnection(), newTestConnection()
	rt.route(bot, []byte(`{"type":"bot_connect"}`))

	// Senders need not declare a role to be relayed.
	rt.route(stranger, []byte(`{"type":"meme_request"}`))
	assert.Equal(t, []string{`{"type":"meme_request"}`}, queued(bot))
}

func TestRouteIgnoresUnknownAndMalformed(t *testing.T) {
	rt, reg := newTestRouter(roleChangeReject)
	ext, bot := newTestConnection(), newTestConnection()
	rt.route(ext, []byte(`{"type":"extension_connect"}`))
	rt.route(bot, []byte(`{"type":"bot_connect"}`))

	before := m.count("decode.errors")
	rt.route(ext, []byte(`{"type":"meme_delete"}`))
	rt.route(ext, []byte(`{{{`))
	rt.route(bot, []byte(`not even close`))
	assert.Equal(t, before+2, m.count("decode.errors"))

	assert.True(t, ext.isOpen())
	assert.True(t, bot.isOpen())
	assert.Empty(t, queued(ext))
	assert.Empty(t, queued(bot))
	extensions, bots := reg.counts()
	assert.Equal(t, 1, extensions)
	assert.Equal(t, 1, bots)

	// Both still relay afterwards.
	rt.route(ext, []byte(`{"type":"meme_request"}`))
	assert.Equal(t, []string{`{"type":"meme_request"}`}, queued(bot))
}

func TestRouteSecondRoleRejected(t *testing.T) {
	rt, reg := newTestRouter(roleChangeReject)
	c := newTestConnection()
	rt.route(c, []byte(`{"type":"extension_connect"}`))
	rt.route(c, []byte(`{"type":"bot_connect"}`))

	assert.Equal(t, []*connection{c}, reg.snapshot(roleExtension))
	assert.Empty(t, reg.snapshot(roleBot))

	// Still an extension: status reaches it, requests do not.
	rt.route(newTestConnection(), []byte(`{"type":"meme_request"}`))
	assert.Empty(t, queued(c))
	rt.route(newTestConnection(), []byte(`{"type":"meme_status"}`))
	assert.Equal(t, []string{`{"type":"meme_status"}`}, queued(c))
}

func TestRouteSecondRoleReplaces(t *testing.T) {
	rt, reg := newTestRouter(roleChangeReplace)
	c := newTestConnection()
	rt.route(c, []byte(`{"type":"extension_connect"}`))
	rt.route(c, []byte(`{"type":"bot_connect"}`))

	assert.Empty(t, reg.snapshot(roleExtension))
	assert.Equal(t, []*connection{c}, reg.snapshot(roleBot))

	rt.route(newTestConnection(), []byte(`{"type":"meme_status"}`))
	assert.Empty(t, queued(c))
	rt.route(newTestConnection(), []byte(`{"type":"meme_request"}`))
	assert.Equal(t, []string{`{"type":"meme_request"}`}, queued(c))
}

func TestRouteConnectAfterClose(t *testing.T) {
	rt, reg := newTestRouter(roleChangeReject)
	c := newTestConnection()
	c.close(websocket.CloseNormalClosure)

	rt.route(c, []byte(`{"type":"bot_connect"}`))
	require.Empty(t, reg.snapshot(roleBot))
}

func TestRouteDropsInvalidUTF8(t *testing.T) {
	rt, _ := newTestRouter(roleChangeReject)
	ext, bot := newTestConnection(), newTestConnection()
	rt.route(ext, []byte(`{"type":"extension_connect"}`))
	rt.route(bot, []byte(`{"type":"bot_connect"}`))

	before := m.count("decode.errors")
	rt.route(ext, []byte("{\"type\":\"meme_request\",\"topic\":\"\xff\xfe\"}"))
	rt.route(bot, []byte("{\"type\":\"meme_status\",\"state\":\"\xff\"}"))

	assert.Equal(t, before+2, m.count("decode.errors"))
	assert.Empty(t, queued(bot))
	assert.Empty(t, queued(ext))
	assert.True(t, ext.isOpen())
	assert.True(t, bot.isOpen())
}
