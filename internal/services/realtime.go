package services

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RealtimePublisher is the service's view of the location relay. Delivery is
// best-effort and at-most-once per currently-connected listener; the relay is
// a liveness optimization, never the system of record, so none of these calls
// return errors or block the caller.
type RealtimePublisher interface {
	// PublishRequestUpdate fans an event out to the interest group of a
	// single request. Publishing to a request with no group is a no-op.
	PublishRequestUpdate(requestID primitive.ObjectID, event string, data map[string]interface{})

	// PublishUserEvent delivers an event to one actor's personal channel.
	PublishUserEvent(userID primitive.ObjectID, event string, data map[string]interface{})

	// BroadcastToResponders alerts every currently-connected responder,
	// regardless of request membership.
	BroadcastToResponders(event string, data map[string]interface{})
}
