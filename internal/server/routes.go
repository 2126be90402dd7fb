package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// setupRoutes attaches the control API. Everything stream-related lives
// under /rist to match the appliance's established surface.
func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)

	rist := r.Group("/rist")
	{
		rist.POST("/start", s.handleStart)
		rist.POST("/stop", s.handleStop)
		rist.GET("/status", s.handleStatus)
		rist.GET("/stats", s.handleStats)

		profiles := rist.Group("/profiles")
		{
			profiles.GET("", s.handleListProfiles)
			profiles.GET("/video", s.handleListVideoProfiles)
			profiles.GET("/video/:id", s.handleGetVideoProfile)
			profiles.GET("/audio", s.handleListAudioProfiles)
			profiles.GET("/audio/:id", s.handleGetAudioProfile)
		}

		adaptiveGroup := rist.Group("/adaptive")
		{
			adaptiveGroup.GET("/state", s.handleAdaptiveState)
			adaptiveGroup.PUT("/config", s.handleAdaptiveUpdateConfig)
			adaptiveGroup.POST("/start", s.handleAdaptiveStart)
			adaptiveGroup.POST("/stop", s.handleAdaptiveStop)
			adaptiveGroup.GET("/history", s.handleAdaptiveHistory)
		}

		rist.GET("/ws", s.handleStateSocket)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"streaming": s.pipeline != nil && s.pipeline.Status().IsStreaming,
	})
}
