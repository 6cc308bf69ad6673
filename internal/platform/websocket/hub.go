// Package websocket pushes alert and visit events to connected supervisors
// and field workers. Clients join named rooms; events fan out to every member
// of the rooms they are addressed to. Delivery is fire-and-forget.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/events"
)

// Event is the frame written to clients.
type Event struct {
	Type      string      `json:"type"`
	Room      string      `json:"room"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientMessage is an inbound join or leave request.
type ClientMessage struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms"`
}

// Client is one connection. Send is closed by Unregister.
type Client struct {
	ID    string
	Actor auth.Actor
	Rooms []string
	Send  chan []byte
}

// Hub tracks clients and their room memberships.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	log     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		all:   make(map[*Client]struct{}),
		log:   logger,
	}
}

// DefaultRooms are the rooms a caller joins on connect: supervisors their
// district room, workers their block room.
func DefaultRooms(a auth.Actor) []string {
	var rooms []string
	if a.District != "" && (a.Role == auth.RoleSupervisor || a.Role == auth.RoleAdmin) {
		rooms = append(rooms, events.SupervisorRoom(a.District))
	}
	if a.Block != "" {
		rooms = append(rooms, events.WorkerRoom(a.Block))
	}
	return rooms
}

// CanJoin reports whether a may join room. Supervisor rooms are limited to
// supervisors, scoped to their district when the token names one; worker
// rooms to the caller's block when the token names one.
func CanJoin(a auth.Actor, room string) bool {
	if a.Role == auth.RoleAdmin {
		return true
	}
	switch {
	case strings.HasPrefix(room, "supervisor-"):
		if a.Role != auth.RoleSupervisor {
			return false
		}
		return a.District == "" || room == events.SupervisorRoom(a.District)
	case strings.HasPrefix(room, "health-workers-"):
		if a.Role == auth.RoleSupervisor {
			return true
		}
		return a.Block == "" || room == events.WorkerRoom(a.Block)
	}
	return false
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	for _, r := range c.Rooms {
		h.addLocked(c, r)
	}
}

func (h *Hub) addLocked(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Unregister drops c from every room and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for _, r := range c.Rooms {
		h.removeLocked(c, r)
	}
	delete(h.all, c)
	close(c.Send)
}

// Join adds c to the rooms it is allowed into and returns those rooms.
func (h *Hub) Join(c *Client, rooms []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var joined []string
	for _, r := range rooms {
		if r == "" || !CanJoin(c.Actor, r) {
			continue
		}
		if _, already := h.rooms[r][c]; !already {
			c.Rooms = append(c.Rooms, r)
		}
		h.addLocked(c, r)
		joined = append(joined, r)
	}
	return joined
}

func (h *Hub) Leave(c *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		drop[r] = true
		h.removeLocked(c, r)
	}
	kept := c.Rooms[:0]
	for _, r := range c.Rooms {
		if !drop[r] {
			kept = append(kept, r)
		}
	}
	c.Rooms = kept
}

// ProcessMessage applies a ClientMessage and returns the acknowledgement
// frame, or nil for unknown actions.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) *Event {
	switch msg.Action {
	case "join":
		joined := h.Join(c, msg.Rooms)
		return &Event{Type: "joined", Data: map[string]interface{}{"rooms": joined}, Timestamp: time.Now().UTC()}
	case "leave":
		h.Leave(c, msg.Rooms)
		return &Event{Type: "left", Data: map[string]interface{}{"rooms": msg.Rooms}, Timestamp: time.Now().UTC()}
	}
	return nil
}

// Broadcast sends ev to every member of room. Members with a full buffer
// miss the event.
func (h *Hub) Broadcast(room string, ev Event) int {
	ev.Room = room
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn().Err(err).Str("room", room).Msg("websocket: encode event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[room] {
		select {
		case c.Send <- data:
			delivered++
		default:
			h.log.Debug().Str("client", c.ID).Str("room", room).Msg("websocket: client buffer full, event dropped")
		}
	}
	return delivered
}

// Publish implements events.Publisher.
func (h *Hub) Publish(_ context.Context, msg events.Message) error {
	for _, room := range msg.Rooms {
		h.Broadcast(room, Event{Type: msg.Type, Data: msg.Data, Timestamp: msg.Timestamp})
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Handler upgrades /ws requests and runs the client pumps.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from the given origins; an empty list or "*"
// accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimSpace(o)] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.GET("/ws", h.HandleConnect, mw...)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	actor := auth.ActorFromContext(c.Request().Context())
	client := &Client{
		ID:    uuid.New().String(),
		Actor: actor,
		Send:  make(chan []byte, 256),
	}
	h.hub.Register(client)
	h.hub.Join(client, DefaultRooms(actor))

	h.hub.log.Debug().Str("client", client.ID).Str("actor_id", actor.ID).Msg("websocket: connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(c *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(c)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if ack := h.hub.ProcessMessage(c, msg); ack != nil {
			data, _ := json.Marshal(ack)
			select {
			case c.Send <- data:
			default:
			}
		}
	}
}

func (h *Handler) writePump(c *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
