package routes

import (
	handlers "emsdispatch/internal/handlers/shared"
	"emsdispatch/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupEMSRoutes sets up routes for EMS dispatch functionality
func SetupEMSRoutes(r *gin.RouterGroup, emsHandler *handlers.EMSHandler, jwtSecret string) {
	requests := r.Group("/ems/requests")
	requests.Use(middleware.AuthRequired(jwtSecret))
	{
		requests.POST("/", emsHandler.CreateRequest)
		requests.GET("/:id", emsHandler.GetRequest)
		requests.GET("/history", emsHandler.GetHistory)

		// Lifecycle and assignment
		requests.PUT("/:id/status", emsHandler.TransitionStatus)
		requests.PUT("/:id/cancel", emsHandler.CancelRequest)
		requests.POST("/:id/claim", emsHandler.ClaimRequest)
		requests.PUT("/:id/position", emsHandler.UpdatePosition)
	}

	// Dispatch queue is an operator view
	queue := r.Group("/ems/queue")
	queue.Use(middleware.AuthRequired(jwtSecret), middleware.OperatorRequired())
	{
		queue.GET("/", emsHandler.GetActiveRequests)
	}
}
