package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const relayChannel = "ems:relay"

// Bridge fans relay events out to other processes. Interest-group membership
// is process-local and ephemeral; the bridge only carries the events, so a
// listener connected to any instance sees updates committed on any other.
type Bridge interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type bridgeEnvelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

type Handler struct {
	hub      *Hub
	bridge   Bridge
	originID string
}

// NewHandler starts the hub. bridge may be nil for single-process
// deployments and tests.
func NewHandler(bridge Bridge) *Handler {
	hub := NewHub()
	go hub.Run()

	h := &Handler{
		hub:      hub,
		bridge:   bridge,
		originID: primitive.NewObjectID().Hex(),
	}

	if bridge != nil {
		go h.consumeBridge()
	}

	return h
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	role, exists := c.Get("user_role")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User role not found"})
		return
	}

	userObjectID, ok := userID.(primitive.ObjectID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	roleStr, ok := role.(string)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user role"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(h.hub, conn, userObjectID, roleStr)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// PublishRequestUpdate implements services.RealtimePublisher.
func (h *Handler) PublishRequestUpdate(requestID primitive.ObjectID, event string, data map[string]interface{}) {
	message := Message{
		Type:      event,
		RoomID:    RequestRoom(requestID),
		Timestamp: getCurrentTimestamp(),
		Data:      data,
	}

	h.hub.SendToRoom(message.RoomID, message)
	h.publishToBridge(message)
}

func (h *Handler) PublishUserEvent(userID primitive.ObjectID, event string, data map[string]interface{}) {
	message := Message{
		Type:      event,
		RoomID:    UserRoom(userID),
		Timestamp: getCurrentTimestamp(),
		Data:      data,
	}

	h.hub.SendToRoom(message.RoomID, message)
	h.publishToBridge(message)
}

func (h *Handler) BroadcastToResponders(event string, data map[string]interface{}) {
	message := Message{
		Type:      event,
		RoomID:    RespondersRoom,
		Timestamp: getCurrentTimestamp(),
		Data:      data,
	}

	h.hub.BroadcastToResponders(message)
	h.publishToBridge(message)
}

func (h *Handler) GetHub() *Hub {
	return h.hub
}

func (h *Handler) publishToBridge(message Message) {
	if h.bridge == nil {
		return
	}

	envelope := bridgeEnvelope{
		Origin:  h.originID,
		Message: message,
	}
	if err := h.bridge.Publish(context.Background(), relayChannel, envelope); err != nil {
		log.Printf("Relay bridge publish failed: %v", err)
	}
}

func (h *Handler) consumeBridge() {
	sub := h.bridge.Subscribe(context.Background(), relayChannel)
	defer sub.Close()

	for msg := range sub.Channel() {
		var envelope bridgeEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			log.Printf("Relay bridge decode failed: %v", err)
			continue
		}

		// Skip events this process already delivered locally.
		if envelope.Origin == h.originID {
			continue
		}

		h.hub.SendToRoom(envelope.Message.RoomID, envelope.Message)
	}
}
