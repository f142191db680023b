package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/service"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
	"github.com/utldo-dev/im-review-api/pkg/response"
)

type imService interface {
	Create(ctx context.Context, req dto.CreateIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error)
	Get(ctx context.Context, id string, viewer models.Viewer) (*dto.IMResponse, error)
	List(ctx context.Context, filter models.IMFilter, viewer models.Viewer) ([]dto.IMListItem, error)
	Upload(ctx context.Context, id string, upload service.DocumentUpload, viewer models.Viewer) (*dto.UploadIMResponse, error)
	DownloadLink(ctx context.Context, id string, viewer models.Viewer) (*dto.DownloadLinkResponse, error)
	OpenDocument(ctx context.Context, token string) (io.ReadCloser, string, error)
	Evaluate(ctx context.Context, id string, req dto.EvaluateIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error)
	Review(ctx context.Context, id string, req dto.ReviewIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error)
	Certify(ctx context.Context, id string, viewer models.Viewer) (*dto.CertifyIMResponse, error)
	Delete(ctx context.Context, id string, viewer models.Viewer) error
}

// IMHandler exposes the instructional material endpoints.
type IMHandler struct {
	service imService
}

// NewIMHandler constructs the handler.
func NewIMHandler(service imService) *IMHandler {
	return &IMHandler{service: service}
}

// Create godoc
// @Summary Register an instructional material
// @Tags Materials
// @Accept json
// @Produce json
// @Param payload body dto.CreateIMRequest true "Material payload"
// @Success 201 {object} response.Envelope
// @Router /ims [post]
func (h *IMHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateIMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid material payload"))
		return
	}
	im, err := h.service.Create(c.Request.Context(), req, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, im, nil)
}

// Get godoc
// @Summary Get material detail
// @Tags Materials
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id} [get]
func (h *IMHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// List godoc
// @Summary List materials
// @Tags Materials
// @Produce json
// @Param status query string false "Status filter"
// @Param type query string false "Material type filter"
// @Param authorId query string false "Author filter"
// @Success 200 {object} response.Envelope
// @Router /ims [get]
func (h *IMHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := models.IMFilter{
		Status:   models.IMStatus(strings.TrimSpace(c.Query("status"))),
		IMType:   models.IMType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		AuthorID: strings.TrimSpace(c.Query("authorId")),
	}
	items, err := h.service.List(c.Request.Context(), filter, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Upload godoc
// @Summary Upload a material document
// @Tags Materials
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Material ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/upload [post]
func (h *IMHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	reader, ok := src.(io.ReadSeeker)
	if !ok {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}
	upload := service.DocumentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  reader,
	}
	result, err := h.service.Upload(c.Request.Context(), c.Param("id"), upload, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DownloadLink godoc
// @Summary Issue a signed download link for the stored document
// @Tags Materials
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/download [get]
func (h *IMHandler) DownloadLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.service.DownloadLink(c.Request.Context(), c.Param("id"), claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// File godoc
// @Summary Fetch a document with a signed token
// @Tags Materials
// @Produce application/octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Router /files/{token} [get]
func (h *IMHandler) File(c *gin.Context) {
	rc, filename, err := h.service.OpenDocument(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}

// Evaluate godoc
// @Summary Record a PIMEC evaluation
// @Tags Materials
// @Accept json
// @Produce json
// @Param id path string true "Material ID"
// @Param payload body dto.EvaluateIMRequest true "Evaluation payload"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/evaluate [post]
func (h *IMHandler) Evaluate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EvaluateIMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid evaluation payload"))
		return
	}
	im, err := h.service.Evaluate(c.Request.Context(), c.Param("id"), req, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, im, nil)
}

// Review godoc
// @Summary Apply the UTLDO approve/reject decision
// @Tags Materials
// @Accept json
// @Produce json
// @Param id path string true "Material ID"
// @Param payload body dto.ReviewIMRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/review [post]
func (h *IMHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewIMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	im, err := h.service.Review(c.Request.Context(), c.Param("id"), req, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, im, nil)
}

// Certify godoc
// @Summary Certify a material
// @Tags Materials
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/certify [post]
func (h *IMHandler) Certify(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Certify(c.Request.Context(), c.Param("id"), claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a material
// @Tags Materials
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id} [delete]
func (h *IMHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.Viewer()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": true}, nil)
}
