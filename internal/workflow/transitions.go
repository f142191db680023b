package workflow

import (
	"fmt"

	"github.com/utldo-dev/im-review-api/internal/models"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

// PassingScore is the inclusive PIMEC rubric threshold out of 100.
const PassingScore = 75.0

// AnalysisResult is the verdict of the document-structure analyzer.
type AnalysisResult struct {
	MissingSections []string `json:"missing_sections"`
}

// Passed reports whether the document carried every required section.
func (r AnalysisResult) Passed() bool {
	return len(r.MissingSections) == 0
}

// transitions is the total outgoing-action table: every status has an entry,
// terminal statuses an empty one. Anything not listed is an invalid
// transition; there is no defensive fallback anywhere else.
var transitions = map[models.IMStatus][]models.IMAction{
	models.StatusAssignedToFaculty:  {models.ActionUpload},
	models.StatusForResubmission:    {models.ActionUpload},
	models.StatusForPIMECEvaluation: {models.ActionEvaluate},
	models.StatusForUTLDOEvaluation: {models.ActionApprove},
	models.StatusForCertification:   {models.ActionCertify},
	models.StatusCertified:          {},
}

// KnownStatus reports whether s appears in the transition table.
func KnownStatus(s models.IMStatus) bool {
	_, ok := transitions[s]
	return ok
}

// AllowedActions returns the legal actions from the given status.
func AllowedActions(s models.IMStatus) []models.IMAction {
	actions := transitions[s]
	out := make([]models.IMAction, len(actions))
	copy(out, actions)
	return out
}

// Allows reports whether the action is legal from the given status.
func Allows(s models.IMStatus, a models.IMAction) bool {
	for _, allowed := range transitions[s] {
		if allowed == a {
			return true
		}
	}
	return false
}

// Table computes the next status for each action. The UTLDO outcome statuses
// were never pinned down by the legacy system, so they are explicit fields
// rather than hidden constants; defaults match the observed flow.
type Table struct {
	ApproveTarget models.IMStatus
	RejectTarget  models.IMStatus
}

// NewTable returns a table with the default UTLDO outcomes.
func NewTable() Table {
	return Table{
		ApproveTarget: models.StatusForCertification,
		RejectTarget:  models.StatusForResubmission,
	}
}

func invalid(current models.IMStatus, action models.IMAction) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition,
		fmt.Sprintf("%s not allowed while %q", action, current))
}

// InitialStatus decides the status of a newly created material. Assignment
// flow creates the wrapper without a file; upload flow runs the analyzer on
// the initial document.
func (t Table) InitialStatus(withFile bool, analysis AnalysisResult) models.IMStatus {
	if !withFile {
		return models.StatusAssignedToFaculty
	}
	if analysis.Passed() {
		return models.StatusForPIMECEvaluation
	}
	return models.StatusForResubmission
}

// NextOnUpload applies a faculty upload. An analyzer error must be surfaced
// by the caller before reaching here; this function only sees a verdict.
func (t Table) NextOnUpload(current models.IMStatus, analysis AnalysisResult) (models.IMStatus, error) {
	if !Allows(current, models.ActionUpload) {
		return "", invalid(current, models.ActionUpload)
	}
	if analysis.Passed() {
		return models.StatusForPIMECEvaluation, nil
	}
	return models.StatusForResubmission, nil
}

// NextOnEvaluate applies a PIMEC rubric score. The threshold is inclusive:
// exactly 75 passes.
func (t Table) NextOnEvaluate(current models.IMStatus, totalScore float64) (models.IMStatus, error) {
	if !Allows(current, models.ActionEvaluate) {
		return "", invalid(current, models.ActionEvaluate)
	}
	if totalScore >= PassingScore {
		return models.StatusForUTLDOEvaluation, nil
	}
	return models.StatusForResubmission, nil
}

// NextOnApprove applies the UTLDO decision.
func (t Table) NextOnApprove(current models.IMStatus, approved bool) (models.IMStatus, error) {
	if !Allows(current, models.ActionApprove) {
		return "", invalid(current, models.ActionApprove)
	}
	if approved {
		return t.ApproveTarget, nil
	}
	return t.RejectTarget, nil
}

// NextOnCertify moves a material into its terminal status.
func (t Table) NextOnCertify(current models.IMStatus) (models.IMStatus, error) {
	if !Allows(current, models.ActionCertify) {
		return "", invalid(current, models.ActionCertify)
	}
	return models.StatusCertified, nil
}
