package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserStatus string
type UserRole string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"

	UserRoleRequester UserRole = "requester"
	UserRoleResponder UserRole = "responder"
	UserRoleOperator  UserRole = "operator"
	UserRoleAdmin     UserRole = "admin"
)

// CanClaimFor reports whether an actor with this role may claim a request on
// behalf of the given responder. Responders may only claim for themselves;
// operators and admins may claim for anyone.
func (r UserRole) CanClaimFor(actorID, responderID primitive.ObjectID) bool {
	switch r {
	case UserRoleOperator, UserRoleAdmin:
		return true
	case UserRoleResponder:
		return actorID == responderID
	}
	return false
}

type User struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	FirstName    string             `json:"first_name" bson:"first_name" validate:"required,min=2,max=50"`
	LastName     string             `json:"last_name" bson:"last_name" validate:"required,min=2,max=50"`
	Email        string             `json:"email" bson:"email" validate:"required,email"`
	Phone        string             `json:"phone" bson:"phone" validate:"required"`
	Role         UserRole           `json:"role" bson:"role" validate:"required"`
	Status       UserStatus         `json:"status" bson:"status" default:"active"`
	LastActiveAt *time.Time         `json:"last_active_at" bson:"last_active_at"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}
