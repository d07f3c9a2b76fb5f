package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/server/dto"
	"github.com/soundprediction/memoria/pkg/types"
)

// CaptureHandler handles memory ingestion requests
type CaptureHandler struct {
	client *memoria.Client
}

// NewCaptureHandler creates a new capture handler
func NewCaptureHandler(client *memoria.Client) *CaptureHandler {
	return &CaptureHandler{
		client: client,
	}
}

// Capture handles POST /capture. Extraction and storage run synchronously,
// so a 201 means the graph already reflects the memory. A memory that was
// captured before comes back 200 with skipped set.
func (h *CaptureHandler) Capture(c *gin.Context) {
	var req dto.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	domain := types.Domain{
		Organization: req.Domain.Organization,
		Project:      req.Domain.Project,
		Repository:   req.Domain.Repository,
	}

	result, err := h.client.Capture(c.Request.Context(), req.MemoryID, req.Text, domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "capture_failed", Message: err.Error()})
		return
	}

	if result.Skipped {
		c.JSON(http.StatusOK, result)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// Forget handles DELETE /memories/:id. It removes the memory's mentions and
// drops its checkpoint so the memory can be captured again. Entities and
// relationships extracted from the memory remain.
func (h *CaptureHandler) Forget(c *gin.Context) {
	memoryID := c.Param("id")

	removed, err := h.client.Forget(c.Request.Context(), memoryID)
	if err != nil {
		if errors.Is(err, types.ErrEmptyMemoryID) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "forget_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ForgetResponse{
		MemoryID:        memoryID,
		MentionsRemoved: removed,
	})
}
