package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/server/dto"
	"github.com/soundprediction/memoria/pkg/types"
)

// defaultPathDepth bounds path searches when the request does not set one.
const defaultPathDepth = 5

// RetrieveHandler handles graph read requests
type RetrieveHandler struct {
	client *memoria.Client
}

// NewRetrieveHandler creates a new retrieve handler
func NewRetrieveHandler(client *memoria.Client) *RetrieveHandler {
	return &RetrieveHandler{
		client: client,
	}
}

// ListEntities handles GET /entities. Filters come from query parameters:
// type, name_contains, organization, project, repository, min_confidence,
// limit, offset. When valid_at or as_of is present the query runs against
// that bitemporal point instead of the current graph.
func (h *RetrieveHandler) ListEntities(c *gin.Context) {
	q := types.EntityQuery{
		NameContains: c.Query("name_contains"),
	}

	if raw := c.Query("type"); raw != "" {
		et := types.EntityType(raw)
		q.Type = &et
	}

	if domain := domainFromQuery(c); !domain.IsZero() {
		q.Domain = &domain
	}

	if raw := c.Query("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "min_confidence must be a number"})
			return
		}
		q.MinConfidence = &v
	}

	var err error
	if q.Limit, err = intQuery(c, "limit", 0); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "limit must be an integer"})
		return
	}
	if q.Offset, err = intQuery(c, "offset", 0); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "offset must be an integer"})
		return
	}

	at, timeTravel, err := bitemporalPointFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	var entities []*types.Entity
	if timeTravel {
		entities, err = h.client.GetBackend().QueryEntitiesAt(ctx, q, at)
	} else {
		entities, err = h.client.GetBackend().QueryEntities(ctx, q)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "query_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entities": entities,
		"count":    len(entities),
	})
}

// GetEntity handles GET /entities/:id
func (h *RetrieveHandler) GetEntity(c *gin.Context) {
	entity, err := h.client.Entity(c.Request.Context(), types.EntityID(c.Param("id")))
	if err != nil {
		if errors.Is(err, memoria.ErrEntityNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "query_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, entity)
}

// Traverse handles GET /entities/:id/traverse. depth bounds the expansion
// and falls back to the client's configured default when absent.
func (h *RetrieveHandler) Traverse(c *gin.Context) {
	depth, err := intQuery(c, "depth", -1)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "depth must be an integer"})
		return
	}

	result, err := h.client.EntityContext(c.Request.Context(), types.EntityID(c.Param("id")), depth)
	if err != nil {
		if errors.Is(err, memoria.ErrEntityNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "traversal_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Recall handles GET /recall. q is the name substring to search for; depth
// and limit fall back to the client's configured defaults.
func (h *RetrieveHandler) Recall(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "q parameter is required"})
		return
	}

	depth, err := intQuery(c, "depth", -1)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "depth must be an integer"})
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "limit must be an integer"})
		return
	}

	result, err := h.client.Recall(c.Request.Context(), query, domainFromQuery(c), depth, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "recall_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// FindPath handles GET /path. from and to are entity ids; max_depth bounds
// the search by hop count.
func (h *RetrieveHandler) FindPath(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "from and to parameters are required"})
		return
	}

	maxDepth, err := intQuery(c, "max_depth", defaultPathDepth)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "max_depth must be an integer"})
		return
	}

	path, err := h.client.FindPath(c.Request.Context(), types.EntityID(from), types.EntityID(to), maxDepth)
	if err != nil {
		if errors.Is(err, memoria.ErrPathNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "query_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, path)
}

// Stats handles GET /stats
func (h *RetrieveHandler) Stats(c *gin.Context) {
	stats, err := h.client.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "stats_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// domainFromQuery builds the domain filter from query parameters.
func domainFromQuery(c *gin.Context) types.Domain {
	return types.Domain{
		Organization: c.Query("organization"),
		Project:      c.Query("project"),
		Repository:   c.Query("repository"),
	}
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// bitemporalPointFromQuery reads the valid_at and as_of parameters
// (RFC 3339). Either one alone pins the other axis to now.
func bitemporalPointFromQuery(c *gin.Context) (types.BitemporalPoint, bool, error) {
	validRaw := c.Query("valid_at")
	asOfRaw := c.Query("as_of")
	if validRaw == "" && asOfRaw == "" {
		return types.BitemporalPoint{}, false, nil
	}

	now := time.Now()
	point := types.BitemporalPoint{ValidAt: now, AsOf: now}

	if validRaw != "" {
		t, err := time.Parse(time.RFC3339, validRaw)
		if err != nil {
			return types.BitemporalPoint{}, false, fmt.Errorf("valid_at must be an RFC 3339 timestamp: %w", err)
		}
		point.ValidAt = t
	}
	if asOfRaw != "" {
		t, err := time.Parse(time.RFC3339, asOfRaw)
		if err != nil {
			return types.BitemporalPoint{}, false, fmt.Errorf("as_of must be an RFC 3339 timestamp: %w", err)
		}
		point.AsOf = t
	}

	return point, true, nil
}
