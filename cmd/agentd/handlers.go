package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danielpatrickdp/adaptive-response/internal/agent"
	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/registry"
)

// #region requests

type respondRequest struct {
	UserInput      string `json:"user_input" binding:"required"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id" binding:"required"`
}

type feedbackRequest struct {
	ConversationID string   `json:"conversation_id" binding:"required"`
	TurnID         string   `json:"turn_id" binding:"required"`
	Rating         *float64 `json:"rating"`
	Comment        string   `json:"comment"`
	DwellSeconds   float64  `json:"dwell_seconds"`
	FollowUpCount  int      `json:"follow_up_count"`
	CopiedResponse bool     `json:"copied_response"`
	Abandoned      bool     `json:"abandoned"`
}

// #endregion requests

// #region router

func newRouter(ctrl *agent.Controller, models *registry.Manager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/respond", handleRespond(ctrl))
		v1.POST("/feedback", handleFeedback(ctrl))
		v1.GET("/profiles/:id", handleGetProfile(ctrl))
		v1.DELETE("/profiles/:id", handleDeleteProfile(ctrl))
		v1.GET("/models/active", handleActiveModel(models))
		v1.POST("/models/rollback", handleRollback(models))
	}
	return r
}

// #endregion router

// #region handlers

func handleRespond(ctrl *agent.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req respondRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := ctrl.GenerateResponse(c.Request.Context(), req.UserInput, req.ConversationID, req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": resp.ConversationID,
			"turn_id":         resp.TurnID,
			"strategy":        resp.Strategy.ID,
			"text":            resp.Text,
			"fallback_used":   resp.FallbackUsed,
		})
	}
}

func handleFeedback(ctrl *agent.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Rating != nil && (*req.Rating < 0 || *req.Rating > 1) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be in [0, 1]"})
			return
		}

		fb := core.Feedback{
			Rating:  req.Rating,
			Comment: req.Comment,
			Engagement: core.EngagementMetrics{
				DwellSeconds:   req.DwellSeconds,
				FollowUpCount:  req.FollowUpCount,
				CopiedResponse: req.CopiedResponse,
				Abandoned:      req.Abandoned,
			},
		}

		err := ctrl.ProcessFeedback(c.Request.Context(), req.ConversationID, req.TurnID, fb)
		if errors.Is(err, core.ErrInvalidFeedback) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation or turn"})
			return
		}
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	}
}

func handleGetProfile(ctrl *agent.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := ctrl.GetUserProfile(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func handleDeleteProfile(ctrl *agent.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ctrl.DeleteUserData(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

func handleActiveModel(models *registry.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := models.Active()
		if snap == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active model"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": snap.Version})
	}
}

func handleRollback(models *registry.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.Rollback(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": models.Active().Version})
	}
}

// #endregion handlers
