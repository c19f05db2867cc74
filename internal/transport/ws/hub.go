package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Bus carries room broadcasts between gateway instances. Publish must
// eventually call Deliver on every instance, this one included.
type Bus interface {
	Publish(ctx context.Context, room string, data []byte) error
}

// Hub owns every connected client and room membership. All state is
// touched only by the Run goroutine.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan *roomMessage
	done       chan struct{}

	bus    Bus
	online atomic.Int64
	nrooms atomic.Int64
	log    *zap.Logger
}

type membership struct {
	client *Client
	room   string
}

type roomMessage struct {
	room string
	data []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan *roomMessage, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetBus routes broadcasts through a cross-instance bus (optional
// dependency). Must be called before Run.
func (h *Hub) SetBus(b Bus) {
	h.bus = b
}

// Run is the hub's event loop. It returns when ctx is done and disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			c.close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.online.Store(int64(len(h.clients)))
			h.log.Debug("ws client connected",
				zap.String("user_id", c.userID.String()),
				zap.Int("online", len(h.clients)),
			)

		case c := <-h.unregister:
			h.remove(c)

		case m := <-h.join:
			if _, ok := h.clients[m.client]; !ok {
				continue
			}
			members, ok := h.rooms[m.room]
			if !ok {
				members = make(map[*Client]struct{})
				h.rooms[m.room] = members
			}
			members[m.client] = struct{}{}
			m.client.rooms[m.room] = struct{}{}
			h.nrooms.Store(int64(len(h.rooms)))

		case m := <-h.leave:
			h.leaveRoom(m.client, m.room)

		case msg := <-h.broadcast:
			for c := range h.rooms[msg.room] {
				select {
				case c.send <- msg.data:
				default:
					// Client buffer full - disconnect
					h.log.Warn("ws client too slow, disconnecting", zap.String("user_id", c.userID.String()))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveRoom(c, room)
	}
	delete(h.clients, c)
	h.online.Store(int64(len(h.clients)))
	c.close()
	h.log.Debug("ws client disconnected",
		zap.String("user_id", c.userID.String()),
		zap.Int("online", len(h.clients)),
	)
}

func (h *Hub) leaveRoom(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.nrooms.Store(int64(len(h.rooms)))
}

func (h *Hub) Register(c *Client)   { h.send(h.register, c) }
func (h *Hub) Unregister(c *Client) { h.send(h.unregister, c) }

func (h *Hub) send(ch chan *Client, c *Client) {
	select {
	case ch <- c:
	case <-h.done:
	}
}

// Join adds c to room. It returns once the hub has applied the change, so
// broadcasts published afterwards reach c.
func (h *Hub) Join(c *Client, room string) {
	select {
	case h.join <- membership{client: c, room: room}:
	case <-h.done:
	}
}

func (h *Hub) Leave(c *Client, room string) {
	select {
	case h.leave <- membership{client: c, room: room}:
	case <-h.done:
	}
}

// Publish sends an event to every member of room, on every instance when a
// bus is configured.
func (h *Hub) Publish(room string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws hub: marshal error", zap.Error(err))
		return
	}

	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := h.bus.Publish(ctx, room, data)
		if err == nil {
			return
		}
		h.log.Warn("ws bus publish failed, delivering locally", zap.String("room", room), zap.Error(err))
	}
	h.Deliver(room, data)
}

// Deliver fans an encoded event out to local members of room.
func (h *Hub) Deliver(room string, data []byte) {
	select {
	case h.broadcast <- &roomMessage{room: room, data: data}:
	case <-h.done:
	}
}

type Stats struct {
	Online int64 `json:"online"`
	Rooms  int64 `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	return Stats{Online: h.online.Load(), Rooms: h.nrooms.Load()}
}
