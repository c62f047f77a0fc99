package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"

	"github.com/nOOne-is-hier/AgentFlow/internal/stream"
	"github.com/nOOne-is-hier/AgentFlow/pkg/log"
)

// Client represents a WebSocket observer mirroring live run events
type Client struct {
	conn     *websocket.Conn
	consumer topic.Consumer[*stream.Envelope]
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsBufferSize   = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the connection and mirrors every persisted
// run event to the observer until it disconnects
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", log.Error(err))
		return
	}
	client := &Client{
		conn:     conn,
		consumer: s.hub.NewConsumer(),
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.consumer.Close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-c.consumer.Receive():
			if !ok {
				return
			}
			raw, err := json.Marshal(env)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(
				websocket.TextMessage, raw,
			); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(
				websocket.PingMessage, nil,
			); err != nil {
				return
			}
		}
	}
}

// readPump drains control frames so pongs are processed and close
// frames end the connection
func (c *Client) readPump() {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
