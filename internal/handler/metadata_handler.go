package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/utldo-dev/im-review-api/internal/models"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
	"github.com/utldo-dev/im-review-api/pkg/response"
)

type metadataService interface {
	ListColleges(ctx context.Context) ([]models.College, error)
	Department(id string) (models.Department, bool)
	Subject(id string) (models.Subject, bool)
	WarmDepartments(ctx context.Context, ids []string) error
	WarmSubjects(ctx context.Context, ids []string) error
}

// MetadataHandler exposes the organizational catalog.
type MetadataHandler struct {
	service metadataService
}

// NewMetadataHandler constructs the handler.
func NewMetadataHandler(service metadataService) *MetadataHandler {
	return &MetadataHandler{service: service}
}

// Colleges godoc
// @Summary List colleges
// @Tags Metadata
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metadata/colleges [get]
func (h *MetadataHandler) Colleges(c *gin.Context) {
	colleges, err := h.service.ListColleges(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, colleges, nil)
}

// Department godoc
// @Summary Get a department from the metadata cache
// @Tags Metadata
// @Produce json
// @Param id path string true "Department ID"
// @Success 200 {object} response.Envelope
// @Router /metadata/departments/{id} [get]
func (h *MetadataHandler) Department(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.WarmDepartments(c.Request.Context(), []string{id}); err != nil {
		response.Error(c, err)
		return
	}
	dept, ok := h.service.Department(id)
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.JSON(c, http.StatusOK, dept, nil)
}

// Subject godoc
// @Summary Get a subject from the metadata cache
// @Tags Metadata
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /metadata/subjects/{id} [get]
func (h *MetadataHandler) Subject(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.WarmSubjects(c.Request.Context(), []string{id}); err != nil {
		response.Error(c, err)
		return
	}
	subject, ok := h.service.Subject(id)
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.JSON(c, http.StatusOK, subject, nil)
}
