package routes

import (
	"github.com/gin-gonic/gin"

	"webpilot/backend/internal/api/handlers"
	"webpilot/backend/internal/api/middleware"
	"webpilot/backend/internal/config"
)

func SetupRoutes(cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	router := gin.Default()

	// Global middleware
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// WebSocket relay for page capture contexts
		v1.GET("/ws/recording", handlers.RecordingWebSocket)

		recording := v1.Group("/recording")
		{
			recording.POST("/start", handlers.StartRecording)
			recording.POST("/pause", handlers.PauseRecording)
			recording.POST("/resume", handlers.ResumeRecording)
			recording.POST("/cancel", handlers.CancelRecording)
			recording.POST("/stop", handlers.StopRecording)
			recording.POST("/navigation", handlers.HandleNavigation)
			recording.GET("/status", handlers.GetRecordingStatus)
		}

		automations := v1.Group("/automations")
		{
			automations.GET("", handlers.GetAutomations)
			automations.POST("", handlers.CreateAutomation)
			automations.POST("/import", handlers.ImportAutomation)
			automations.GET("/:id", handlers.GetAutomation)
			automations.PUT("/:id", handlers.UpdateAutomation)
			automations.DELETE("/:id", handlers.DeleteAutomation)
			automations.POST("/:id/run", handlers.RunAutomation)
			automations.POST("/:id/stop", handlers.StopAutomation)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", handlers.GetRuns)
			runs.GET("/:id", handlers.GetRun)
			runs.DELETE("/:id", handlers.DeleteRun)
		}

		ai := v1.Group("/ai")
		{
			ai.POST("/find-element", handlers.FindElement)
			ai.POST("/describe-action", handlers.DescribeAction)
		}
	}

	return router
}
