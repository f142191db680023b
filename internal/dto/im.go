package dto

import (
	"time"

	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/workflow"
)

// CreateIMRequest registers a new material wrapper around a base record.
// Exactly one of UniversityIMID / ServiceIMID must be provided.
type CreateIMRequest struct {
	IMType         models.IMType `json:"im_type" binding:"required,oneof=UNIVERSITY SERVICE"`
	UniversityIMID *string       `json:"university_im_id"`
	ServiceIMID    *string       `json:"service_im_id"`
	Validity       string        `json:"validity"`
	Notes          string        `json:"notes"`
	AuthorIDs      []string      `json:"author_ids" binding:"required,min=1"`
}

// EvaluateIMRequest carries a PIMEC rubric result.
type EvaluateIMRequest struct {
	TotalScore float64 `json:"total_score" binding:"required,gte=0,lte=100"`
	Remarks    string  `json:"remarks"`
}

// ReviewIMRequest carries the UTLDO approve/reject decision.
type ReviewIMRequest struct {
	Approve bool   `json:"approve"`
	Remarks string `json:"remarks"`
}

// IMResponse is the detail payload for one material.
type IMResponse struct {
	models.InstructionalMaterial
	BaseRecord   *models.BaseRecord    `json:"base_record,omitempty"`
	AuthorIDs    []string              `json:"author_ids"`
	Capabilities []workflow.Capability `json:"capabilities"`
	Certificates []models.Certificate  `json:"certificates,omitempty"`
}

// IMListItem is one row of a material listing.
type IMListItem struct {
	models.InstructionalMaterial
	AuthorIDs    []string              `json:"author_ids"`
	Capabilities []workflow.Capability `json:"capabilities"`
}

// UploadIMResponse reports the outcome of a document upload including the
// analyzer verdict that determined the resulting status.
type UploadIMResponse struct {
	IM              models.InstructionalMaterial `json:"im"`
	MissingSections []string                     `json:"missing_sections,omitempty"`
}

// DownloadLinkResponse carries a short-lived signed token for fetching the
// stored document without re-authenticating.
type DownloadLinkResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
