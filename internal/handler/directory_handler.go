package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/middleware"
	"github.com/utldo-dev/im-review-api/internal/models"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
	"github.com/utldo-dev/im-review-api/pkg/response"
)

type directoryService interface {
	Directory(ctx context.Context, filter dto.DirectoryFilter, viewer models.Viewer) (*dto.DirectoryResponse, error)
	Workload(ctx context.Context, collegeID string) (*dto.WorkloadSummary, error)
	Export(ctx context.Context, filter dto.DirectoryFilter, viewer models.Viewer, format string) ([]byte, string, error)
}

// DirectoryHandler exposes the assembled college directory.
type DirectoryHandler struct {
	service directoryService
}

// NewDirectoryHandler constructs the handler.
func NewDirectoryHandler(service directoryService) *DirectoryHandler {
	return &DirectoryHandler{service: service}
}

// Directory godoc
// @Summary College directory of materials
// @Tags Directory
// @Produce json
// @Param collegeId path string true "College ID"
// @Param status query string false "Status filter"
// @Param type query string false "Material type filter"
// @Param departmentId query string false "Department filter"
// @Success 200 {object} response.Envelope
// @Router /directory/{collegeId} [get]
func (h *DirectoryHandler) Directory(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := dto.DirectoryFilter{
		CollegeID:    c.Param("collegeId"),
		Status:       models.IMStatus(strings.TrimSpace(c.Query("status"))),
		IMType:       models.IMType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		DepartmentID: strings.TrimSpace(c.Query("departmentId")),
	}
	result, err := h.service.Directory(c.Request.Context(), filter, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, result.FromCache)
	middleware.SetRowCount(c, result.Total)
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download the college directory as CSV or PDF
// @Tags Directory
// @Produce text/csv
// @Param collegeId path string true "College ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /directory/{collegeId}/export [get]
func (h *DirectoryHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := dto.DirectoryFilter{
		CollegeID:    c.Param("collegeId"),
		Status:       models.IMStatus(strings.TrimSpace(c.Query("status"))),
		IMType:       models.IMType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		DepartmentID: strings.TrimSpace(c.Query("departmentId")),
	}
	format := c.DefaultQuery("format", "csv")
	data, contentType, err := h.service.Export(c.Request.Context(), filter, claims.Viewer(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", "attachment; filename=directory_"+filter.CollegeID+"."+ext)
	c.Data(http.StatusOK, contentType, data)
}

// Workload godoc
// @Summary Reviewer workload summary for a college
// @Tags Directory
// @Produce json
// @Param collegeId path string true "College ID"
// @Success 200 {object} response.Envelope
// @Router /directory/{collegeId}/workload [get]
func (h *DirectoryHandler) Workload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	summary, err := h.service.Workload(c.Request.Context(), c.Param("collegeId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
