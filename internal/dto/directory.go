package dto

import (
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/workflow"
)

// DirectoryFilter captures query parameters for the college directory view.
type DirectoryFilter struct {
	CollegeID    string
	Status       models.IMStatus
	IMType       models.IMType
	DepartmentID string
}

// DirectoryRow is one assembled entry: the base record identity merged with
// its wrapper's workflow state, labeled for display. Wrapper fields override
// base fields where both exist; base records without a wrapper appear with
// an empty status.
type DirectoryRow struct {
	BaseRecordID    string                `json:"base_record_id"`
	IMID            string                `json:"im_id,omitempty"`
	IMType          models.IMType         `json:"im_type"`
	Title           string                `json:"title"`
	CollegeID       string                `json:"college_id"`
	DepartmentID    *string               `json:"department_id,omitempty"`
	DepartmentLabel string                `json:"department_label,omitempty"`
	SubjectID       string                `json:"subject_id"`
	SubjectLabel    string                `json:"subject_label"`
	YearLevel       *int                  `json:"year_level,omitempty"`
	Status          models.IMStatus       `json:"status,omitempty"`
	Version         int                   `json:"version,omitempty"`
	HasFile         bool                  `json:"has_file"`
	AuthorIDs       []string              `json:"author_ids,omitempty"`
	Capabilities    []workflow.Capability `json:"capabilities,omitempty"`
}

// DirectoryResponse is the assembled college directory. FromCache reports
// whether the row set was served from Redis; it travels in response meta,
// not the body.
type DirectoryResponse struct {
	CollegeID string         `json:"college_id"`
	Rows      []DirectoryRow `json:"rows"`
	Total     int            `json:"total"`
	FromCache bool           `json:"-"`
}

// WorkloadSummary counts materials sitting in statuses a reviewer can act on,
// overall and broken down by department id. DepartmentLabels maps the ids in
// PerDepartment to display names where known.
type WorkloadSummary struct {
	ForPIMECEvaluation int               `json:"for_pimec_evaluation"`
	ForUTLDOEvaluation int               `json:"for_utldo_evaluation"`
	ForResubmission    int               `json:"for_resubmission"`
	ForCertification   int               `json:"for_certification"`
	PerDepartment      map[string]int    `json:"per_department"`
	DepartmentLabels   map[string]string `json:"department_labels,omitempty"`
}
