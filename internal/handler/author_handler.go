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

type authorService interface {
	List(ctx context.Context, imID string) ([]string, error)
	Add(ctx context.Context, imID, userID string, viewer models.Viewer) error
	Remove(ctx context.Context, imID, userID string, viewer models.Viewer) error
	ApplyDiff(ctx context.Context, imID string, desired []string, viewer models.Viewer) (*dto.AuthorDiffResponse, error)
}

// AuthorHandler manages the author set endpoints of a material.
type AuthorHandler struct {
	service authorService
}

// NewAuthorHandler constructs the handler.
func NewAuthorHandler(service authorService) *AuthorHandler {
	return &AuthorHandler{service: service}
}

// List godoc
// @Summary List material authors
// @Tags Authors
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/authors [get]
func (h *AuthorHandler) List(c *gin.Context) {
	ids, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"user_ids": ids}, nil)
}

// Add godoc
// @Summary Add an author to a material
// @Tags Authors
// @Accept json
// @Produce json
// @Param id path string true "Material ID"
// @Param payload body dto.AddAuthorRequest true "Author payload"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/authors [post]
func (h *AuthorHandler) Add(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AddAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid author payload"))
		return
	}
	if err := h.service.Add(c.Request.Context(), c.Param("id"), req.UserID, claims.Viewer()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"added": true}, nil)
}

// Remove godoc
// @Summary Remove an author from a material
// @Tags Authors
// @Produce json
// @Param id path string true "Material ID"
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/authors/{userId} [delete]
func (h *AuthorHandler) Remove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Remove(c.Request.Context(), c.Param("id"), c.Param("userId"), claims.Viewer()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": true}, nil)
}

// ApplyDiff godoc
// @Summary Reconcile the author set against a desired list
// @Tags Authors
// @Accept json
// @Produce json
// @Param id path string true "Material ID"
// @Param payload body dto.AuthorDiffRequest true "Desired author list"
// @Success 200 {object} response.Envelope
// @Router /ims/{id}/authors/diff [put]
func (h *AuthorHandler) ApplyDiff(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AuthorDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid author diff payload"))
		return
	}
	result, err := h.service.ApplyDiff(c.Request.Context(), c.Param("id"), req.UserIDs, claims.Viewer())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
