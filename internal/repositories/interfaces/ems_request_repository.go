package interfaces

import (
	"context"

	"emsdispatch/internal/models"
	"emsdispatch/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EMSRequestRepository interface {
	// Basic CRUD operations. Create fails with ErrDuplicateActive when the
	// requester already has a non-terminal request.
	Create(ctx context.Context, request *models.EMSRequest) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.EMSRequest, error)
	Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error

	// Guarded mutations. Both return ErrNoMatch when the guard did not hold,
	// so the service can distinguish races from missing ids.
	//
	// UpdateStatusGuarded applies the status change, its transition timestamp
	// and optional notes only while the request is still in fromStatus.
	//
	// Claim binds the responder, moves pending -> enroute and stamps the
	// dispatch time in one conditional write; it returns ErrDuplicateActive
	// when the responder is already bound to another non-terminal request.
	UpdateStatusGuarded(ctx context.Context, id primitive.ObjectID, fromStatus, toStatus models.EMSStatus, notes *string) (*models.EMSRequest, error)
	Claim(ctx context.Context, id primitive.ObjectID, responderID primitive.ObjectID, position *models.GeoPoint) (*models.EMSRequest, error)
	UpdateResponderPosition(ctx context.Context, id primitive.ObjectID, position models.GeoPoint) error

	// Dispatch queue and history views
	GetActiveRequests(ctx context.Context) ([]*models.EMSRequest, error)
	GetActiveByRequester(ctx context.Context, requesterID primitive.ObjectID) (*models.EMSRequest, error)
	GetActiveByResponder(ctx context.Context, responderID primitive.ObjectID) (*models.EMSRequest, error)
	GetByRequester(ctx context.Context, requesterID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error)
	GetByResponder(ctx context.Context, responderID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error)
}
