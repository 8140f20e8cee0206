package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EMSStatus string
type EmergencyType string
type EMSPriority string

const (
	EMSStatusPending   EMSStatus = "pending"
	EMSStatusEnroute   EMSStatus = "enroute"
	EMSStatusArrived   EMSStatus = "arrived"
	EMSStatusCompleted EMSStatus = "completed"
	EMSStatusCancelled EMSStatus = "cancelled"

	EmergencyTypeAccident  EmergencyType = "accident"
	EmergencyTypeCardiac   EmergencyType = "cardiac"
	EmergencyTypeTrauma    EmergencyType = "trauma"
	EmergencyTypeBreathing EmergencyType = "breathing"
	EmergencyTypeOther     EmergencyType = "other"

	EMSPriorityLow      EMSPriority = "low"
	EMSPriorityMedium   EMSPriority = "medium"
	EMSPriorityHigh     EMSPriority = "high"
	EMSPriorityCritical EMSPriority = "critical"
)

// NonTerminalStatuses are the statuses that keep a request on the dispatch
// queue and count against the one-active-request-per-actor rule.
var NonTerminalStatuses = []EMSStatus{
	EMSStatusPending,
	EMSStatusEnroute,
	EMSStatusArrived,
}

var allowedTransitions = map[EMSStatus][]EMSStatus{
	EMSStatusPending:   {EMSStatusEnroute, EMSStatusCancelled},
	EMSStatusEnroute:   {EMSStatusArrived, EMSStatusCancelled},
	EMSStatusArrived:   {EMSStatusCompleted, EMSStatusCancelled},
	EMSStatusCompleted: {},
	EMSStatusCancelled: {},
}

func (s EMSStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s EMSStatus) IsTerminal() bool {
	return s == EMSStatusCompleted || s == EMSStatusCancelled
}

func (s EMSStatus) CanTransitionTo(next EMSStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Level orders priorities for the dispatch queue sort. The numeric value is
// persisted alongside the string so MongoDB can sort on it directly.
func (p EMSPriority) Level() int {
	switch p {
	case EMSPriorityLow:
		return 1
	case EMSPriorityMedium:
		return 2
	case EMSPriorityHigh:
		return 3
	case EMSPriorityCritical:
		return 4
	}
	return 0
}

func (p EMSPriority) IsValid() bool {
	return p.Level() > 0
}

func (t EmergencyType) IsValid() bool {
	switch t {
	case EmergencyTypeAccident, EmergencyTypeCardiac, EmergencyTypeTrauma, EmergencyTypeBreathing, EmergencyTypeOther:
		return true
	}
	return false
}

type EMSRequest struct {
	ID                primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	RequesterID       primitive.ObjectID  `json:"requester_id" bson:"requester_id" validate:"required"`
	ResponderID       *primitive.ObjectID `json:"responder_id" bson:"responder_id"`
	EmergencyType     EmergencyType       `json:"emergency_type" bson:"emergency_type" validate:"required"`
	Priority          EMSPriority         `json:"priority" bson:"priority" validate:"required"`
	PriorityLevel     int                 `json:"priority_level" bson:"priority_level"`
	Status            EMSStatus           `json:"status" bson:"status" default:"pending"`
	RequesterPosition GeoPoint            `json:"requester_position" bson:"requester_position" validate:"required"`
	ResponderPosition *GeoPoint           `json:"responder_position" bson:"responder_position"`
	Description       string              `json:"description" bson:"description"`
	ContactNumber     string              `json:"contact_number" bson:"contact_number"`
	Notes             string              `json:"notes" bson:"notes"`
	CreatedAt         time.Time           `json:"created_at" bson:"created_at"`
	DispatchTime      *time.Time          `json:"dispatch_time" bson:"dispatch_time"`
	ArrivalTime       *time.Time          `json:"arrival_time" bson:"arrival_time"`
	CompletionTime    *time.Time          `json:"completion_time" bson:"completion_time"`
	UpdatedAt         time.Time           `json:"updated_at" bson:"updated_at"`
}

type CreateEMSRequest struct {
	Latitude      float64       `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude     float64       `json:"longitude" validate:"gte=-180,lte=180"`
	EmergencyType EmergencyType `json:"emergency_type" validate:"required"`
	Priority      EMSPriority   `json:"priority" validate:"required"`
	Description   string        `json:"description" validate:"max=1000"`
	ContactNumber string        `json:"contact_number" validate:"omitempty,phone_number"`
}

type ClaimEMSRequest struct {
	ResponderID string   `json:"responder_id" validate:"required,object_id"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type TransitionEMSRequest struct {
	Status EMSStatus `json:"status" validate:"required"`
	Notes  *string   `json:"notes" validate:"omitempty,max=1000"`
}

type UpdatePositionRequest struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

// TimestampField returns the bson field stamped by a transition into the
// given status, or "" when the status carries no timestamp of its own.
func TimestampField(status EMSStatus) string {
	switch status {
	case EMSStatusEnroute:
		return "dispatch_time"
	case EMSStatusArrived:
		return "arrival_time"
	case EMSStatusCompleted, EMSStatusCancelled:
		return "completion_time"
	}
	return ""
}
