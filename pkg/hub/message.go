// Package hub fans messages out to websocket clients. Each hub runs one
// goroutine that owns the client set; publishers never block on slow clients.
package hub

import "github.com/gofiber/websocket/v2"

// Message is one broadcast payload. Frames go out as binary websocket
// messages, everything else as JSON text.
type Message struct {
	Data  []byte
	Frame bool
}

// JSON wraps an already-encoded JSON document.
func JSON(data []byte) Message {
	return Message{Data: data}
}

// Frame wraps an encoded image.
func Frame(data []byte) Message {
	return Message{Data: data, Frame: true}
}

func (m Message) wsType() int {
	if m.Frame {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
