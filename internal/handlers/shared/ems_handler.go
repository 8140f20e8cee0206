package handlers

import (
	"errors"
	"io"
	"net/http"

	"emsdispatch/internal/models"
	"emsdispatch/internal/services"
	"emsdispatch/internal/utils"
	"emsdispatch/internal/validators"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EMSHandler struct {
	emsService services.EMSService
}

func NewEMSHandler(emsService services.EMSService) *EMSHandler {
	return &EMSHandler{
		emsService: emsService,
	}
}

// CreateRequest submits a new emergency request for the authenticated actor
func (h *EMSHandler) CreateRequest(c *gin.Context) {
	var input models.CreateEMSRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if errs := validators.ValidateCreateEMSRequest(&input); errs != nil {
		utils.ValidationErrorResponse(c, validationDetails(errs))
		return
	}

	requesterID, ok := actorID(c)
	if !ok {
		return
	}

	request, err := h.emsService.CreateRequest(c.Request.Context(), requesterID, &input)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, "EMS request created successfully", request)
}

// GetRequest retrieves a single request
func (h *EMSHandler) GetRequest(c *gin.Context) {
	requestID, ok := pathRequestID(c)
	if !ok {
		return
	}

	request, err := h.emsService.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "EMS request retrieved successfully", request)
}

// GetActiveRequests returns the dispatch queue: all non-terminal requests,
// critical first, oldest first within a priority
func (h *EMSHandler) GetActiveRequests(c *gin.Context) {
	requests, err := h.emsService.GetActiveRequests(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Active EMS requests retrieved successfully", requests)
}

// GetHistory returns the authenticated actor's requests, newest first
func (h *EMSHandler) GetHistory(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	requests, total, err := h.emsService.GetHistory(c.Request.Context(), userID, params)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	meta := &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
	}

	response := map[string]interface{}{
		"requests": requests,
	}

	utils.SuccessResponseWithMeta(c, "EMS request history retrieved successfully", response, meta)
}

// TransitionStatus advances a request through its lifecycle
func (h *EMSHandler) TransitionStatus(c *gin.Context) {
	requestID, ok := pathRequestID(c)
	if !ok {
		return
	}

	userID, ok := actorID(c)
	if !ok {
		return
	}

	var input models.TransitionEMSRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if errs := validators.ValidateTransitionRequest(&input); errs != nil {
		utils.ValidationErrorResponse(c, validationDetails(errs))
		return
	}

	request, err := h.emsService.TransitionStatus(c.Request.Context(), requestID, userID, input.Status, input.Notes)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "EMS request status updated successfully", request)
}

// CancelRequest withdraws a request (transition to cancelled)
func (h *EMSHandler) CancelRequest(c *gin.Context) {
	requestID, ok := pathRequestID(c)
	if !ok {
		return
	}

	userID, ok := actorID(c)
	if !ok {
		return
	}

	var input struct {
		Notes *string `json:"notes"`
	}
	// Body is optional on cancel, but a malformed one is still rejected.
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	request, err := h.emsService.CancelRequest(c.Request.Context(), requestID, userID, input.Notes)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "EMS request cancelled successfully", request)
}

// ClaimRequest binds a responder to a pending request, exclusively
func (h *EMSHandler) ClaimRequest(c *gin.Context) {
	requestID, ok := pathRequestID(c)
	if !ok {
		return
	}

	userID, ok := actorID(c)
	if !ok {
		return
	}

	var input models.ClaimEMSRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if errs := validators.ValidateClaimRequest(&input); errs != nil {
		utils.ValidationErrorResponse(c, validationDetails(errs))
		return
	}

	responderID, err := primitive.ObjectIDFromHex(input.ResponderID)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid responder ID")
		return
	}

	var position *models.GeoPoint
	if input.Latitude != nil && input.Longitude != nil {
		point := models.NewGeoPoint(*input.Latitude, *input.Longitude)
		position = &point
	}

	request, err := h.emsService.ClaimRequest(c.Request.Context(), requestID, responderID, userID, position)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "EMS request claimed successfully", request)
}

// UpdatePosition publishes a live position for an active request
func (h *EMSHandler) UpdatePosition(c *gin.Context) {
	requestID, ok := pathRequestID(c)
	if !ok {
		return
	}

	userID, ok := actorID(c)
	if !ok {
		return
	}

	var input models.UpdatePositionRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if errs := validators.ValidateUpdatePositionRequest(&input); errs != nil {
		utils.ValidationErrorResponse(c, validationDetails(errs))
		return
	}

	position := models.NewGeoPoint(input.Latitude, input.Longitude)
	position.Accuracy = input.Accuracy

	request, err := h.emsService.UpdatePosition(c.Request.Context(), requestID, userID, position)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Position updated successfully", request)
}

// Helper methods
func actorID(c *gin.Context) (primitive.ObjectID, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		utils.UnauthorizedResponse(c)
		return primitive.NilObjectID, false
	}

	userObjectID, ok := userID.(primitive.ObjectID)
	if !ok {
		utils.BadRequestResponse(c, "Invalid user ID")
		return primitive.NilObjectID, false
	}

	return userObjectID, true
}

func pathRequestID(c *gin.Context) (primitive.ObjectID, bool) {
	requestID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid request ID")
		return primitive.NilObjectID, false
	}

	return requestID, true
}

func validationDetails(errs validators.ValidationErrors) map[string]string {
	details := make(map[string]string)
	for _, err := range errs {
		details[err.Field] = err.Message
	}
	return details
}

// respondServiceError maps the service error taxonomy onto HTTP statuses. A
// losing claim must be distinguishable from a missing request, and an invalid
// transition reports both statuses so the caller can resynchronize.
func respondServiceError(c *gin.Context, err error) {
	var transitionErr *services.InvalidTransitionError

	switch {
	case errors.Is(err, services.ErrRequestNotFound):
		utils.NotFoundResponse(c, "EMS request")
	case errors.Is(err, services.ErrForbidden):
		utils.ForbiddenResponse(c)
	case errors.Is(err, services.ErrAlreadyAssigned):
		utils.ErrorResponse(c, http.StatusConflict, "ALREADY_ASSIGNED", "EMS request already has a responder")
	case errors.Is(err, services.ErrActorBusy):
		utils.ErrorResponse(c, http.StatusConflict, "ACTOR_BUSY", "actor already has an active EMS request")
	case errors.As(err, &transitionErr):
		utils.ErrorResponseWithDetails(c, http.StatusConflict, "INVALID_TRANSITION", transitionErr.Error(), map[string]string{
			"current_status":   string(transitionErr.From),
			"attempted_status": string(transitionErr.To),
		})
	default:
		utils.InternalServerErrorResponse(c)
	}
}
