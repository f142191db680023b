package models

import "time"

// IMStatus enumerates the stations of the review pipeline. Values match the
// labels the legacy system persisted, so the cutover can share one database.
type IMStatus string

const (
	StatusAssignedToFaculty  IMStatus = "Assigned to Faculty"
	StatusForPIMECEvaluation IMStatus = "For PIMEC Evaluation"
	StatusForResubmission    IMStatus = "For Resubmission"
	StatusForUTLDOEvaluation IMStatus = "For UTLDO Evaluation"
	StatusForCertification   IMStatus = "For Certification"
	StatusCertified          IMStatus = "Certified"
)

// IMAction enumerates the transition-triggering operations on a material.
type IMAction string

const (
	ActionUpload   IMAction = "upload"
	ActionEvaluate IMAction = "pimec_evaluate"
	ActionApprove  IMAction = "utldo_approve"
	ActionCertify  IMAction = "certify"
)

// IMType distinguishes the two kinds of base record an IM can wrap.
type IMType string

const (
	IMTypeUniversity IMType = "UNIVERSITY"
	IMTypeService    IMType = "SERVICE"
)

// InstructionalMaterial is the workflow wrapper around a base record.
// Exactly one of UniversityIMID / ServiceIMID is set, never both.
type InstructionalMaterial struct {
	ID             string    `db:"id" json:"id"`
	IMType         IMType    `db:"im_type" json:"im_type"`
	UniversityIMID *string   `db:"university_im_id" json:"university_im_id,omitempty"`
	ServiceIMID    *string   `db:"service_im_id" json:"service_im_id,omitempty"`
	Status         IMStatus  `db:"status" json:"status"`
	Validity       string    `db:"validity" json:"validity"`
	Version        int       `db:"version" json:"version"`
	S3Link         *string   `db:"s3_link" json:"s3_link,omitempty"`
	Notes          string    `db:"notes" json:"notes"`
	UpdatedBy      string    `db:"updated_by" json:"updated_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// HasFile reports whether a document has been uploaded for the material.
func (m *InstructionalMaterial) HasFile() bool {
	return m.S3Link != nil && *m.S3Link != ""
}

// BaseRecordID returns the single base-record reference.
func (m *InstructionalMaterial) BaseRecordID() string {
	if m.UniversityIMID != nil {
		return *m.UniversityIMID
	}
	if m.ServiceIMID != nil {
		return *m.ServiceIMID
	}
	return ""
}

// BaseRecord is the immutable identity anchor an IM wraps. University
// materials additionally carry a department and year level; service
// materials carry only college and subject.
type BaseRecord struct {
	ID           string  `db:"id" json:"id"`
	IMType       IMType  `db:"im_type" json:"im_type"`
	CollegeID    string  `db:"college_id" json:"college_id"`
	SubjectID    string  `db:"subject_id" json:"subject_id"`
	DepartmentID *string `db:"department_id" json:"department_id,omitempty"`
	YearLevel    *int    `db:"year_level" json:"year_level,omitempty"`
	Title        string  `db:"title" json:"title"`
}

// IMFilter captures listing criteria for materials.
type IMFilter struct {
	CollegeID string
	Status    IMStatus
	IMType    IMType
	AuthorID  string
}

// Evaluation records a PIMEC rubric score for a material.
type Evaluation struct {
	ID          string    `db:"id" json:"id"`
	IMID        string    `db:"im_id" json:"im_id"`
	EvaluatorID string    `db:"evaluator_id" json:"evaluator_id"`
	TotalScore  float64   `db:"total_score" json:"total_score"`
	Remarks     string    `db:"remarks" json:"remarks"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
