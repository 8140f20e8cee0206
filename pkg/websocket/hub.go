package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Room naming: one interest group per request, a broadcast group for idle
// responders, and a personal room per connected user.
const RespondersRoom = "responders"

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	mutex      sync.RWMutex

	// positionSink receives position_update messages from connected clients.
	// Set by the relay so inbound traffic flows through the dispatch service
	// instead of being echoed straight back into the rooms.
	positionSink PositionSink
}

type PositionSink func(requestID, actorID primitive.ObjectID, lat, lng float64)

type Message struct {
	Type      string                 `json:"type"`
	RoomID    string                 `json:"room_id,omitempty"`
	UserID    primitive.ObjectID     `json:"user_id,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
	}
}

func (h *Hub) SetPositionSink(sink PositionSink) {
	h.positionSink = sink
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true

	h.joinRoom(client, UserRoom(client.UserID))

	// Idle responders get new-request alerts without joining anything.
	if client.Role == "responder" {
		h.joinRoom(client, RespondersRoom)
	}

	welcomeMsg := Message{
		Type:      "welcome",
		UserID:    client.UserID,
		Timestamp: getCurrentTimestamp(),
		Data: map[string]interface{}{
			"message": "Connected successfully",
		},
	}

	h.sendToClient(client, welcomeMsg)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for roomID, room := range h.rooms {
			if _, exists := room[client]; exists {
				delete(room, client)
				if len(room) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
	}
}

// SendToRoom delivers to every current member of a room. A slow client is
// dropped rather than stalling the publisher; it has to reconnect and pull
// state it missed. Sending to an absent room is a no-op.
func (h *Hub) SendToRoom(roomID string, message Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	room, exists := h.rooms[roomID]
	if !exists {
		return
	}

	data, _ := json.Marshal(message)
	for client := range room {
		select {
		case client.send <- data:
		default:
			h.dropClient(client)
		}
	}
}

// dropClient evicts a client from the hub and every room. Caller must hold
// the write lock.
func (h *Hub) dropClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for roomID, room := range h.rooms {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) sendToClient(client *Client, message Message) {
	data, _ := json.Marshal(message)
	select {
	case client.send <- data:
	default:
		h.dropClient(client)
	}
}

func (h *Hub) SendToUser(userID primitive.ObjectID, message Message) {
	h.SendToRoom(UserRoom(userID), message)
}

func (h *Hub) SendRequestUpdate(requestID primitive.ObjectID, message Message) {
	h.SendToRoom(RequestRoom(requestID), message)
}

func (h *Hub) BroadcastToResponders(message Message) {
	h.SendToRoom(RespondersRoom, message)
}

// joinRoom is idempotent. Caller must hold the write lock.
func (h *Hub) joinRoom(client *Client, roomID string) {
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.rooms[roomID] = true
}

func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if room, exists := h.rooms[roomID]; exists {
		delete(room, client)
		delete(client.rooms, roomID)

		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) JoinRequest(client *Client, requestID primitive.ObjectID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.joinRoom(client, RequestRoom(requestID))
}

func (h *Hub) LeaveRequest(client *Client, requestID primitive.ObjectID) {
	h.LeaveRoom(client, RequestRoom(requestID))
}

// RoomMembers returns the current size of a room's interest group.
func (h *Hub) RoomMembers(roomID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.rooms[roomID])
}

func RequestRoom(requestID primitive.ObjectID) string {
	return "request_" + requestID.Hex()
}

func UserRoom(userID primitive.ObjectID) string {
	return "user_" + userID.Hex()
}

func getCurrentTimestamp() int64 {
	return time.Now().Unix()
}
