package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/glowf1sh/glowboxremote/internal/adaptive"
	"github.com/glowf1sh/glowboxremote/internal/pipeline"
	"github.com/glowf1sh/glowboxremote/internal/profiles"
)

type linkRequest struct {
	Address string `json:"address" binding:"required"`
	Port    int    `json:"port" binding:"required"`
	Weight  int    `json:"weight"`
}

type startRequest struct {
	VideoProfileID string        `json:"video_profile_id"`
	AudioProfileID string        `json:"audio_profile_id"`
	Links          []linkRequest `json:"links"`
	BondingMethod  string        `json:"bonding_method"`
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.VideoProfileID == "" {
		fail(c, http.StatusBadRequest, "video_profile_id required")
		return
	}
	if req.AudioProfileID == "" {
		fail(c, http.StatusBadRequest, "audio_profile_id required")
		return
	}
	if len(req.Links) == 0 {
		fail(c, http.StatusBadRequest, "at least one link required")
		return
	}

	links := make([]pipeline.Link, 0, len(req.Links))
	for _, l := range req.Links {
		weight := l.Weight
		if weight == 0 {
			weight = 100
		}
		links = append(links, pipeline.Link{
			Address: l.Address,
			Port:    l.Port,
			Enabled: true,
			Weight:  weight,
		})
	}

	bonding := pipeline.BondingStrategy(req.BondingMethod)
	transport, video, audio, err := profiles.StreamConfig(
		req.VideoProfileID, req.AudioProfileID, links, bonding)
	if err != nil {
		fail(c, http.StatusNotFound, err.Error())
		return
	}

	if err := s.pipeline.Configure(transport, &video, &audio); err != nil {
		s.pipelineError(c, err)
		return
	}
	if err := s.pipeline.Start(); err != nil {
		s.pipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "stream started",
		"video_profile": req.VideoProfileID,
		"audio_profile": req.AudioProfileID,
	})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.pipeline.Stop(); err != nil {
		s.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "stream stopped"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.pipeline.Status()})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": s.pipeline.Stats()})
}

// pipelineError maps session manager errors to HTTP status codes.
func (s *Server) pipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNotRunning):
		fail(c, http.StatusBadRequest, "stream is not running")
	case errors.Is(err, pipeline.ErrNotConfigured):
		fail(c, http.StatusConflict, "stream is not configured")
	case errors.Is(err, pipeline.ErrInvalidState):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrLaunchFailure):
		fail(c, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("pipeline request failed", "error", err)
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"video":   profiles.AllVideo(),
		"audio":   profiles.AllAudio(),
	})
}

func (s *Server) handleListVideoProfiles(c *gin.Context) {
	list := profiles.AllVideo()
	if platform := c.Query("platform"); platform != "" {
		list = profiles.VideoByPlatform(profiles.Platform(platform))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profiles": list})
}

func (s *Server) handleGetVideoProfile(c *gin.Context) {
	p, ok := profiles.Video(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "video profile not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": p})
}

func (s *Server) handleListAudioProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "profiles": profiles.AllAudio()})
}

func (s *Server) handleGetAudioProfile(c *gin.Context) {
	p, ok := profiles.Audio(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "audio profile not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": p})
}

func (s *Server) handleAdaptiveState(c *gin.Context) {
	if s.adaptive == nil {
		fail(c, http.StatusServiceUnavailable, "adaptive control not available")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": s.adaptive.GetState()})
}

func (s *Server) handleAdaptiveUpdateConfig(c *gin.Context) {
	if s.adaptive == nil {
		fail(c, http.StatusServiceUnavailable, "adaptive control not available")
		return
	}
	var cfg adaptive.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.adaptive.UpdateConfig(cfg); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "adaptive configuration updated"})
}

func (s *Server) handleAdaptiveStart(c *gin.Context) {
	if s.adaptive == nil {
		fail(c, http.StatusServiceUnavailable, "adaptive control not available")
		return
	}
	if err := s.adaptive.Start(); err != nil {
		switch {
		case errors.Is(err, adaptive.ErrAlreadyRunning):
			fail(c, http.StatusConflict, err.Error())
		case errors.Is(err, adaptive.ErrDisabled):
			fail(c, http.StatusConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "adaptive controller started"})
}

func (s *Server) handleAdaptiveStop(c *gin.Context) {
	if s.adaptive == nil {
		fail(c, http.StatusServiceUnavailable, "adaptive control not available")
		return
	}
	s.adaptive.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "adaptive controller stopped"})
}

func (s *Server) handleAdaptiveHistory(c *gin.Context) {
	if s.history == nil {
		fail(c, http.StatusServiceUnavailable, "adjustment history not available")
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	entries, err := s.history.Recent(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": entries})
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value %d not positive", n)
	}
	return n, nil
}
