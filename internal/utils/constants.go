package utils

import "time"

// Application Constants
const (
	AppName    = "EMSDispatch"
	AppVersion = "1.0.0"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1

	// Dispatch
	MaxDescriptionLength  = 1000
	ActiveRequestCacheTTL = 15 * time.Minute
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInvalidInput     = "invalid input"
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrValidationFailed = "validation failed"
)

// Cache Keys
const (
	CacheUserPrefix       = "user:"
	CacheEMSRequestPrefix = "ems_request:"
)

// Relay Event Types
const (
	EventRequestCreated = "request_created"
	EventRequestClaimed = "request_claimed"
	EventStatusChanged  = "status_changed"
	EventPositionUpdate = "position_update"
)
