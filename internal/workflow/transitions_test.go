package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utldo-dev/im-review-api/internal/models"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

var allStatuses = []models.IMStatus{
	models.StatusAssignedToFaculty,
	models.StatusForPIMECEvaluation,
	models.StatusForResubmission,
	models.StatusForUTLDOEvaluation,
	models.StatusForCertification,
	models.StatusCertified,
}

func assertInvalidTransition(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestTableIsTotal(t *testing.T) {
	for _, status := range allStatuses {
		assert.True(t, KnownStatus(status), "status %q missing from table", status)
	}
	assert.Empty(t, AllowedActions(models.StatusCertified))
}

func TestUploadOutcomes(t *testing.T) {
	table := NewTable()

	next, err := table.NextOnUpload(models.StatusAssignedToFaculty, AnalysisResult{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusForPIMECEvaluation, next)

	next, err = table.NextOnUpload(models.StatusAssignedToFaculty, AnalysisResult{MissingSections: []string{"Learning Outcomes"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusForResubmission, next)

	next, err = table.NextOnUpload(models.StatusForResubmission, AnalysisResult{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusForPIMECEvaluation, next)
}

func TestUploadRejectedOutsideSourceStatuses(t *testing.T) {
	table := NewTable()
	for _, status := range []models.IMStatus{
		models.StatusForPIMECEvaluation,
		models.StatusForUTLDOEvaluation,
		models.StatusForCertification,
		models.StatusCertified,
	} {
		_, err := table.NextOnUpload(status, AnalysisResult{})
		assertInvalidTransition(t, err)
	}
}

func TestEvaluateThresholdInclusive(t *testing.T) {
	table := NewTable()

	next, err := table.NextOnEvaluate(models.StatusForPIMECEvaluation, 75)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForUTLDOEvaluation, next)

	next, err = table.NextOnEvaluate(models.StatusForPIMECEvaluation, 74)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForResubmission, next)

	next, err = table.NextOnEvaluate(models.StatusForPIMECEvaluation, 100)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForUTLDOEvaluation, next)
}

func TestApproveAndReject(t *testing.T) {
	table := NewTable()

	next, err := table.NextOnApprove(models.StatusForUTLDOEvaluation, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForCertification, next)

	next, err = table.NextOnApprove(models.StatusForUTLDOEvaluation, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForResubmission, next)
}

func TestApproveTargetsConfigurable(t *testing.T) {
	table := Table{ApproveTarget: models.StatusCertified, RejectTarget: models.StatusAssignedToFaculty}

	next, err := table.NextOnApprove(models.StatusForUTLDOEvaluation, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCertified, next)
}

func TestCertifyTerminal(t *testing.T) {
	table := NewTable()

	next, err := table.NextOnCertify(models.StatusForCertification)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCertified, next)

	_, err = table.NextOnCertify(models.StatusCertified)
	assertInvalidTransition(t, err)
}

// Every (status, action) pair not explicitly in the table must be rejected.
func TestUnlistedPairsRejected(t *testing.T) {
	table := NewTable()
	apply := map[models.IMAction]func(models.IMStatus) error{
		models.ActionUpload: func(s models.IMStatus) error {
			_, err := table.NextOnUpload(s, AnalysisResult{})
			return err
		},
		models.ActionEvaluate: func(s models.IMStatus) error {
			_, err := table.NextOnEvaluate(s, 80)
			return err
		},
		models.ActionApprove: func(s models.IMStatus) error {
			_, err := table.NextOnApprove(s, true)
			return err
		},
		models.ActionCertify: func(s models.IMStatus) error {
			_, err := table.NextOnCertify(s)
			return err
		},
	}
	for _, status := range allStatuses {
		for action, fn := range apply {
			err := fn(status)
			if Allows(status, action) {
				assert.NoError(t, err, "status %q action %q", status, action)
			} else {
				assertInvalidTransition(t, err)
			}
		}
	}
}

func TestInitialStatus(t *testing.T) {
	table := NewTable()
	assert.Equal(t, models.StatusAssignedToFaculty, table.InitialStatus(false, AnalysisResult{}))
	assert.Equal(t, models.StatusForPIMECEvaluation, table.InitialStatus(true, AnalysisResult{}))
	assert.Equal(t, models.StatusForResubmission, table.InitialStatus(true, AnalysisResult{MissingSections: []string{"References"}}))
}
