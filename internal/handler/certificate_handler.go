package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
	"github.com/utldo-dev/im-review-api/pkg/response"
)

type certificateService interface {
	Generate(ctx context.Context, imID string, viewer models.Viewer) (*dto.GenerateCertificatesResponse, error)
	List(ctx context.Context, imID string) ([]models.Certificate, error)
	Verify(ctx context.Context, qrID string) (*models.Certificate, error)
	LatestBatch(ctx context.Context, imID string) (*models.CertificateBatch, error)
}

// CertificateHandler exposes certificate generation and verification.
type CertificateHandler struct {
	service certificateService
}

// NewCertificateHandler constructs the handler.
func NewCertificateHandler(service certificateService) *CertificateHandler {
	return &CertificateHandler{service: service}
}

// Generate godoc
// @Summary Generate certificates for all authors of a material
// @Tags Certificates
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/certificates [post]
func (h *CertificateHandler) Generate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Generate(c.Request.Context(), c.Param("id"), claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List active certificates for a material
// @Tags Certificates
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/certificates [get]
func (h *CertificateHandler) List(c *gin.Context) {
	certs, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, nil)
}

// LatestBatch godoc
// @Summary Latest certificate generation batch for a material
// @Tags Certificates
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/certificates/batch [get]
func (h *CertificateHandler) LatestBatch(c *gin.Context) {
	batch, err := h.service.LatestBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Verify godoc
// @Summary Verify a certificate by its QR id
// @Tags Certificates
// @Produce json
// @Param qrId path string true "Verification ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{qrId}/verify [get]
func (h *CertificateHandler) Verify(c *gin.Context) {
	cert, err := h.service.Verify(c.Request.Context(), c.Param("qrId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}
