package completeness

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxFields bounds caller-supplied field lists.
const maxFields = 200

// Handler exposes profile completeness scoring over HTTP.
type Handler struct{}

// NewHandler creates a new completeness handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes sets up completeness routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/candidates/completeness", h.Score)
}

// Score handles POST /v1/candidates/completeness
func (h *Handler) Score(c *gin.Context) {
	var req struct {
		Entity map[string]any `json:"entity" binding:"required"`
		Fields []string       `json:"fields"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "entity required"})
		return
	}
	if len(req.Fields) > maxFields {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too_many_fields", "message": "at most 200 fields"})
		return
	}
	fields := req.Fields
	if fields == nil {
		fields = CandidateFields
	}
	c.JSON(http.StatusOK, gin.H{"completeness": Calculate(req.Entity, fields)})
}
