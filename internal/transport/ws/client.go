package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBufSize    = 256
)

// Client represents a single WebSocket connection. One user may hold
// several.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID

	// rooms is owned by the hub goroutine.
	rooms map[string]struct{}

	// limiter throttles writes (send_message, mark_as_read).
	limiter *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, limiter *rate.Limiter, log *zap.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		userID:  userID,
		rooms:   make(map[string]struct{}),
		limiter: limiter,
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
		log:     log.With(zap.String("user_id", userID.String())),
	}
}

func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads events until the connection fails and hands each one to
// the gateway. It blocks; run WritePump alongside it.
func (c *Client) ReadPump(ctx context.Context, g *Gateway) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Debug("ws client closed connection")
			} else {
				c.log.Debug("ws read error", zap.Error(err))
			}
			return
		}

		g.Handle(ctx, c, &event)
	}
}

// WritePump writes queued frames to the WebSocket and keeps the connection
// alive with pings.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug("ws write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ws ping error", zap.Error(err))
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// enqueue queues a frame for this client only. It never blocks and drops
// the frame if the buffer is full or the client is gone.
func (c *Client) enqueue(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		c.log.Error("ws: marshal error", zap.Error(err))
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("ws send buffer full, dropping frame", zap.String("event", evt.Event))
	}
}

func (c *Client) ack(id string, payload AckPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("ws: marshal error", zap.Error(err))
		return
	}
	c.enqueue(&Event{Event: EventAck, ID: id, Data: data, Timestamp: time.Now().Unix()})
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(evt)
}
