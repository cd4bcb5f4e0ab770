package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krevetka-D/conecta-realtime/internal/config"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// Client is the transport end of one session: a websocket connection plus
// its buffered send channel. The hub closes Send on unregister, which ends
// the write pump.
type Client struct {
	SessionID string
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	config    config.WebSocketConfig
}

func NewClient(sessionID string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		SessionID: sessionID,
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, buffer),
		config:    cfg,
	}
}

// ReadPump pulls frames off the connection and hands them to the handler.
// Runs until the connection errors or the peer stops answering pings.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Err(err).Str(log.FieldSessionID, c.SessionID).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// SendMessage queues one event for this session. Drops silently when the
// buffer is full; the hub's slow-consumer handling catches up with it.
func (c *Client) SendMessage(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
	default:
	}
	return nil
}

// WritePump drains Send onto the wire and keeps the connection alive with
// periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
