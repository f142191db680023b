package dto

import "github.com/utldo-dev/im-review-api/internal/models"

// GenerateCertificatesResponse reports per-author generation outcomes. A
// partial failure leaves the successful artifacts in place.
type GenerateCertificatesResponse struct {
	BatchID      string               `json:"batch_id"`
	Certificates []models.Certificate `json:"certificates"`
	Failures     []CertificateFailure `json:"failures,omitempty"`
}

// CertificateFailure names an author whose artifact could not be produced.
type CertificateFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// CertifyIMResponse reports the terminal transition outcome. Warning is set
// when an author lacks a certificate artifact; it never blocks the action.
type CertifyIMResponse struct {
	IM      models.InstructionalMaterial `json:"im"`
	Warning string                       `json:"warning,omitempty"`
}
