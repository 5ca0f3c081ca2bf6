package engine

import (
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketChannel adapts a gorilla websocket connection to the
// MessageChannel interface. Control frames (ping/pong/close handling at the
// WebSocket layer) are left to gorilla; the engine heartbeat runs above it.
type WebSocketChannel struct {
	conn *websocket.Conn
}

func NewWebSocketChannel(conn *websocket.Conn) *WebSocketChannel {
	return &WebSocketChannel{conn: conn}
}

func (c *WebSocketChannel) Read() ([]byte, bool, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	return data, messageType == websocket.BinaryMessage, nil
}

func (c *WebSocketChannel) Write(data []byte, binary bool) error {
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *WebSocketChannel) SetCompression(enabled bool) {
	c.conn.EnableWriteCompression(enabled)
}

func (c *WebSocketChannel) Close(code int, reason string) error {
	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, message, deadline)
	return c.conn.Close()
}

func (c *WebSocketChannel) RemoteAddress() string {
	return c.conn.RemoteAddr().String()
}

func (c *WebSocketChannel) LocalAddress() string {
	return c.conn.LocalAddr().String()
}
