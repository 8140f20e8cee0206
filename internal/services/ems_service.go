package services

import (
	"context"
	"errors"
	"fmt"

	"emsdispatch/internal/models"
	"emsdispatch/internal/repositories/interfaces"
	"emsdispatch/internal/utils"
	"emsdispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EMSService owns the request lifecycle, the exclusive responder assignment
// and the dispatch queue views. The relay receives an event after every
// committed mutation; it is never consulted before one.
type EMSService interface {
	CreateRequest(ctx context.Context, requesterID primitive.ObjectID, input *models.CreateEMSRequest) (*models.EMSRequest, error)
	GetRequest(ctx context.Context, id primitive.ObjectID) (*models.EMSRequest, error)

	TransitionStatus(ctx context.Context, id, actorID primitive.ObjectID, newStatus models.EMSStatus, notes *string) (*models.EMSRequest, error)
	CancelRequest(ctx context.Context, id, actorID primitive.ObjectID, notes *string) (*models.EMSRequest, error)
	ClaimRequest(ctx context.Context, id, responderID, actorID primitive.ObjectID, position *models.GeoPoint) (*models.EMSRequest, error)
	UpdatePosition(ctx context.Context, id, actorID primitive.ObjectID, position models.GeoPoint) (*models.EMSRequest, error)

	GetActiveRequests(ctx context.Context) ([]*models.EMSRequest, error)
	GetHistory(ctx context.Context, actorID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error)
	ActiveRequestFor(ctx context.Context, actorID primitive.ObjectID) (*models.EMSRequest, error)
}

type emsService struct {
	requestRepo interfaces.EMSRequestRepository
	userRepo    interfaces.UserRepository
	publisher   RealtimePublisher
	logger      *logger.Logger
}

func NewEMSService(
	requestRepo interfaces.EMSRequestRepository,
	userRepo interfaces.UserRepository,
	publisher RealtimePublisher,
	logger *logger.Logger,
) EMSService {
	return &emsService{
		requestRepo: requestRepo,
		userRepo:    userRepo,
		publisher:   publisher,
		logger:      logger,
	}
}

func (s *emsService) CreateRequest(ctx context.Context, requesterID primitive.ObjectID, input *models.CreateEMSRequest) (*models.EMSRequest, error) {
	// Creation-side half of the one-active-request invariant. The partial
	// unique index closes the window between this check and the insert.
	active, err := s.requestRepo.GetActiveByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active requests: %w", err)
	}
	if active != nil {
		return nil, ErrActorBusy
	}

	request := &models.EMSRequest{
		RequesterID:       requesterID,
		EmergencyType:     input.EmergencyType,
		Priority:          input.Priority,
		RequesterPosition: models.NewGeoPoint(input.Latitude, input.Longitude),
		Description:       input.Description,
		ContactNumber:     input.ContactNumber,
	}

	if err := s.requestRepo.Create(ctx, request); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateActive) {
			return nil, ErrActorBusy
		}
		return nil, fmt.Errorf("failed to create ems request: %w", err)
	}

	s.logger.WithEMSRequestID(request.ID).WithFields(map[string]interface{}{
		"requester_id":   requesterID.Hex(),
		"emergency_type": request.EmergencyType,
		"priority":       request.Priority,
	}).Info("EMS request created")

	if request.Priority == models.EMSPriorityCritical {
		s.publisher.BroadcastToResponders(utils.EventRequestCreated, requestEventData(request))
	}

	return request, nil
}

func (s *emsService) GetRequest(ctx context.Context, id primitive.ObjectID) (*models.EMSRequest, error) {
	request, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get ems request: %w", err)
	}

	return request, nil
}

func (s *emsService) TransitionStatus(ctx context.Context, id, actorID primitive.ObjectID, newStatus models.EMSStatus, notes *string) (*models.EMSRequest, error) {
	request, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if err := authorizeTransition(request, actor, newStatus); err != nil {
		return nil, err
	}

	if !request.Status.CanTransitionTo(newStatus) {
		return nil, &InvalidTransitionError{From: request.Status, To: newStatus}
	}

	updated, err := s.requestRepo.UpdateStatusGuarded(ctx, id, request.Status, newStatus, notes)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			return nil, ErrRequestNotFound
		case errors.Is(err, interfaces.ErrNoMatch):
			// Lost a race: report against the status actually committed.
			current, readErr := s.GetRequest(ctx, id)
			if readErr != nil {
				return nil, readErr
			}
			return nil, &InvalidTransitionError{From: current.Status, To: newStatus}
		}
		return nil, fmt.Errorf("failed to transition ems request: %w", err)
	}

	s.logger.WithEMSRequestID(id).WithFields(map[string]interface{}{
		"actor_id": actorID.Hex(),
		"from":     request.Status,
		"to":       newStatus,
	}).Info("EMS request status changed")

	s.publisher.PublishRequestUpdate(id, utils.EventStatusChanged, requestEventData(updated))

	return updated, nil
}

// CancelRequest is the withdraw path: semantically a transition to CANCELLED,
// with the same validation as any other transition.
func (s *emsService) CancelRequest(ctx context.Context, id, actorID primitive.ObjectID, notes *string) (*models.EMSRequest, error) {
	return s.TransitionStatus(ctx, id, actorID, models.EMSStatusCancelled, notes)
}

func (s *emsService) ClaimRequest(ctx context.Context, id, responderID, actorID primitive.ObjectID, position *models.GeoPoint) (*models.EMSRequest, error) {
	request, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanClaimFor(actorID, responderID) {
		return nil, ErrForbidden
	}

	responder, err := s.resolveActor(ctx, responderID)
	if err != nil {
		return nil, err
	}
	if responder.Role != models.UserRoleResponder {
		return nil, ErrForbidden
	}

	if request.ResponderID != nil {
		return nil, ErrAlreadyAssigned
	}

	busy, err := s.requestRepo.GetActiveByResponder(ctx, responderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check responder availability: %w", err)
	}
	if busy != nil {
		return nil, ErrActorBusy
	}

	// The conditional write is the real arbiter; everything above only
	// produces friendlier errors for the common cases.
	updated, err := s.requestRepo.Claim(ctx, id, responderID, position)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrDuplicateActive):
			return nil, ErrActorBusy
		case errors.Is(err, interfaces.ErrNotFound):
			return nil, ErrRequestNotFound
		case errors.Is(err, interfaces.ErrNoMatch):
			current, readErr := s.GetRequest(ctx, id)
			if readErr != nil {
				return nil, readErr
			}
			if current.ResponderID != nil {
				return nil, ErrAlreadyAssigned
			}
			return nil, &InvalidTransitionError{From: current.Status, To: models.EMSStatusEnroute}
		}
		return nil, fmt.Errorf("failed to claim ems request: %w", err)
	}

	s.logger.WithEMSRequestID(id).WithFields(map[string]interface{}{
		"responder_id": responderID.Hex(),
		"actor_id":     actorID.Hex(),
	}).Info("EMS request claimed")

	data := requestEventData(updated)
	s.publisher.PublishRequestUpdate(id, utils.EventRequestClaimed, data)
	s.publisher.PublishUserEvent(updated.RequesterID, utils.EventRequestClaimed, data)

	return updated, nil
}

func (s *emsService) UpdatePosition(ctx context.Context, id, actorID primitive.ObjectID, position models.GeoPoint) (*models.EMSRequest, error) {
	request, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	isRequester := request.RequesterID == actorID
	isResponder := request.ResponderID != nil && *request.ResponderID == actorID
	if !isRequester && !isResponder {
		return nil, ErrForbidden
	}

	role := models.UserRoleRequester
	if isResponder {
		role = models.UserRoleResponder

		// The requester position is fixed at creation; only the responder
		// side is tracked as it moves.
		if err := s.requestRepo.UpdateResponderPosition(ctx, id, position); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return nil, ErrRequestNotFound
			}
			return nil, fmt.Errorf("failed to update responder position: %w", err)
		}
		request.ResponderPosition = &position
	}

	s.publisher.PublishRequestUpdate(id, utils.EventPositionUpdate, map[string]interface{}{
		"request_id": id.Hex(),
		"actor_id":   actorID.Hex(),
		"role":       role,
		"latitude":   position.Latitude(),
		"longitude":  position.Longitude(),
	})

	return request, nil
}

func (s *emsService) GetActiveRequests(ctx context.Context) ([]*models.EMSRequest, error) {
	requests, err := s.requestRepo.GetActiveRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active ems requests: %w", err)
	}

	return requests, nil
}

func (s *emsService) GetHistory(ctx context.Context, actorID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, 0, err
	}

	if actor.Role == models.UserRoleResponder {
		return s.requestRepo.GetByResponder(ctx, actorID, params)
	}
	return s.requestRepo.GetByRequester(ctx, actorID, params)
}

func (s *emsService) ActiveRequestFor(ctx context.Context, actorID primitive.ObjectID) (*models.EMSRequest, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if actor.Role == models.UserRoleResponder {
		return s.requestRepo.GetActiveByResponder(ctx, actorID)
	}
	return s.requestRepo.GetActiveByRequester(ctx, actorID)
}

// Helper methods
func (s *emsService) resolveActor(ctx context.Context, actorID primitive.ObjectID) (*models.User, error) {
	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("failed to resolve actor: %w", err)
	}

	return actor, nil
}

func authorizeTransition(request *models.EMSRequest, actor *models.User, newStatus models.EMSStatus) error {
	switch actor.Role {
	case models.UserRoleOperator, models.UserRoleAdmin:
		return nil
	case models.UserRoleResponder:
		if request.ResponderID != nil && *request.ResponderID == actor.ID {
			return nil
		}
	case models.UserRoleRequester:
		// A requester may only withdraw their own request.
		if request.RequesterID == actor.ID && newStatus == models.EMSStatusCancelled {
			return nil
		}
	}
	return ErrForbidden
}

func requestEventData(request *models.EMSRequest) map[string]interface{} {
	data := map[string]interface{}{
		"request_id":     request.ID.Hex(),
		"status":         request.Status,
		"priority":       request.Priority,
		"emergency_type": request.EmergencyType,
		"requester_id":   request.RequesterID.Hex(),
	}
	if request.ResponderID != nil {
		data["responder_id"] = request.ResponderID.Hex()
	}
	if request.Notes != "" {
		data["notes"] = request.Notes
	}
	return data
}
