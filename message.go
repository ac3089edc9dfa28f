package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("frame is not valid UTF-8")

// Message types understood by the relay.
const (
	typeExtensionConnect = "extension_connect"
	typeBotConnect       = "bot_connect"
	typeMemeRequest      = "meme_request"
	typeMemeStatus       = "meme_status"
)

type envelope struct {
	Type string `json:"type"`
}

// message is one decoded inbound frame. The set of implementations is
// closed: extensionConnect, botConnect, memeRequest, memeStatus and
// unrecognized.
type message interface {
	messageType() string
}

type extensionConnect struct{}

type botConnect struct{}

// memeRequest and memeStatus keep the frame exactly as received so it can
// be forwarded untouched.
type memeRequest struct {
	raw []byte
}

type memeStatus struct {
	raw []byte
}

type unrecognized struct {
	typ string
}

func (extensionConnect) messageType() string { return typeExtensionConnect }
func (botConnect) messageType() string       { return typeBotConnect }
func (memeRequest) messageType() string      { return typeMemeRequest }
func (memeStatus) messageType() string       { return typeMemeStatus }
func (u unrecognized) messageType() string   { return u.typ }

// decodeMessage rejects frames that are not valid UTF-8: they are relayed
// as text frames and peers fail the connection on bad text (close 1007).
func decodeMessage(frame []byte) (message, error) {
	if !utf8.Valid(frame) {
		return nil, fmt.Errorf("decode frame: %w", errInvalidUTF8)
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch env.Type {
	case typeExtensionConnect:
		return extensionConnect{}, nil
	case typeBotConnect:
		return botConnect{}, nil
	case typeMemeRequest:
		return memeRequest{raw: frame}, nil
	case typeMemeStatus:
		return memeStatus{raw: frame}, nil
	default:
		return unrecognized{typ: env.Type}, nil
	}
}
