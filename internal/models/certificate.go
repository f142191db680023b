package models

import "time"

// Certificate is issued per (material, author) pair on a certification event.
// Regeneration replaces all prior certificates for the material.
type Certificate struct {
	ID         string     `db:"id" json:"id"`
	QRID       string     `db:"qr_id" json:"qr_id"`
	IMID       string     `db:"im_id" json:"im_id"`
	UserID     string     `db:"user_id" json:"user_id"`
	PDFLink    *string    `db:"pdf_link" json:"pdf_link,omitempty"`
	DocxLink   *string    `db:"docx_link" json:"docx_link,omitempty"`
	DateIssued time.Time  `db:"date_issued" json:"date_issued"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// CertificateBatchStatus tracks a generation run.
type CertificateBatchStatus string

const (
	CertBatchPending   CertificateBatchStatus = "PENDING"
	CertBatchCompleted CertificateBatchStatus = "COMPLETED"
	CertBatchFailed    CertificateBatchStatus = "FAILED"
)

// CertificateBatch records the outcome of one generation event so the UI can
// review artifacts before the material is marked certified.
type CertificateBatch struct {
	ID           string                 `db:"id" json:"id"`
	IMID         string                 `db:"im_id" json:"im_id"`
	RequestedBy  string                 `db:"requested_by" json:"requested_by"`
	Status       CertificateBatchStatus `db:"status" json:"status"`
	SuccessCount int                    `db:"success_count" json:"success_count"`
	FailureCount int                    `db:"failure_count" json:"failure_count"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
}
