package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/utldo-dev/im-review-api/internal/models"
)

func faculty(userID string, colleges ...string) models.Viewer {
	return models.NewViewer(userID, []models.UserRole{models.RoleFaculty}, colleges)
}

func pimec(userID string, colleges ...string) models.Viewer {
	return models.NewViewer(userID, []models.UserRole{models.RolePIMEC}, colleges)
}

func authorRow(status models.IMStatus, hasFile bool, authorIDs ...string) Row {
	authors := make(map[string]struct{}, len(authorIDs))
	for _, id := range authorIDs {
		authors[id] = struct{}{}
	}
	return Row{IMID: "im-1", Status: status, CollegeID: "col-1", HasFile: hasFile, AuthorIDs: authors}
}

func TestAuthorAlwaysPassesGate(t *testing.T) {
	row := authorRow(models.StatusCertified, true, "u1")
	for _, viewer := range []models.Viewer{
		faculty("u1"),
		pimec("u1"),
		models.NewViewer("u1", []models.UserRole{models.RoleUTLDOAdmin}, nil),
	} {
		assert.True(t, CanAct(viewer, row))
	}
}

func TestUnrelatedFacultyFailsGate(t *testing.T) {
	row := authorRow(models.StatusForPIMECEvaluation, true, "u1", "u2")
	assert.False(t, CanAct(faculty("u3"), row))
}

func TestTechnicalAdminAlwaysPassesGate(t *testing.T) {
	row := authorRow(models.StatusCertified, true)
	admin := models.NewViewer("admin", []models.UserRole{models.RoleTechnicalAdmin}, nil)
	assert.True(t, CanAct(admin, row))
}

func TestPIMECHomeCollegeElevation(t *testing.T) {
	row := authorRow(models.StatusAssignedToFaculty, false)

	assert.True(t, CanAct(pimec("p1", "col-1"), row), "home college grants full access")
	assert.False(t, CanAct(pimec("p1", "col-9"), row), "foreign college, not in evaluable status")

	evalRow := authorRow(models.StatusForPIMECEvaluation, true)
	assert.True(t, CanAct(pimec("p1", "col-9"), evalRow), "evaluable status grants access regardless of college")
}

func TestUTLDOGateOnlyDuringUTLDOEvaluation(t *testing.T) {
	utldo := models.NewViewer("a1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
	assert.True(t, CanAct(utldo, authorRow(models.StatusForUTLDOEvaluation, true)))
	assert.False(t, CanAct(utldo, authorRow(models.StatusForPIMECEvaluation, true)))
}

func TestGateBlocksAllCapabilitiesExceptDownload(t *testing.T) {
	row := authorRow(models.StatusForResubmission, true, "u1")
	caps := Resolve(faculty("stranger"), row)
	assert.True(t, caps.Has(CapDownload))
	assert.Len(t, caps, 1)
}

func TestFacultyUploadCapabilities(t *testing.T) {
	// first upload: no file yet, any status that passes the gate
	caps := Resolve(faculty("u1"), authorRow(models.StatusAssignedToFaculty, false, "u1"))
	assert.True(t, caps.Has(CapUpload))
	assert.False(t, caps.Has(CapUploadRevision))

	// revision: file present, resubmission status
	caps = Resolve(faculty("u1"), authorRow(models.StatusForResubmission, true, "u1"))
	assert.False(t, caps.Has(CapUpload))
	assert.True(t, caps.Has(CapUploadRevision))
}

func TestOverrideUploadForReviewers(t *testing.T) {
	row := authorRow(models.StatusForPIMECEvaluation, false)
	caps := Resolve(pimec("p1", "col-1"), row)
	assert.True(t, caps.Has(CapUpload))

	admin := models.NewViewer("a1", []models.UserRole{models.RoleTechnicalAdmin}, nil)
	caps = Resolve(admin, row)
	assert.True(t, caps.Has(CapUpload))
	assert.True(t, caps.Has(CapDelete))
}

func TestEvaluateOnlyInPIMECStatus(t *testing.T) {
	reviewer := pimec("p1", "col-1")
	assert.True(t, Resolve(reviewer, authorRow(models.StatusForPIMECEvaluation, true)).Has(CapEvaluate))
	assert.False(t, Resolve(reviewer, authorRow(models.StatusForUTLDOEvaluation, true)).Has(CapEvaluate))
}

func TestEditAuthorsRoles(t *testing.T) {
	row := authorRow(models.StatusForPIMECEvaluation, true, "u1")
	assert.True(t, Resolve(pimec("p1", "col-1"), row).Has(CapEditAuthors))
	assert.True(t, Resolve(models.NewViewer("a1", []models.UserRole{models.RoleUTLDOAdmin}, nil), authorRow(models.StatusForUTLDOEvaluation, true)).Has(CapEditAuthors))
	assert.False(t, Resolve(faculty("u1"), row).Has(CapEditAuthors))
}

func TestDeleteOnlyTechnicalAdmin(t *testing.T) {
	row := authorRow(models.StatusForPIMECEvaluation, true, "u1")
	assert.False(t, Resolve(pimec("p1", "col-1"), row).Has(CapDelete))
	admin := models.NewViewer("a1", []models.UserRole{models.RoleTechnicalAdmin}, nil)
	assert.True(t, Resolve(admin, row).Has(CapDelete))
}

func TestDownloadUngated(t *testing.T) {
	// legacy behavior: a row with an id is always downloadable
	caps := Resolve(faculty("stranger"), authorRow(models.StatusCertified, false, "u1"))
	assert.True(t, caps.Has(CapDownload))
}

func TestResolveIsPure(t *testing.T) {
	viewer := models.NewViewer("u1", []models.UserRole{models.RoleFaculty, models.RolePIMEC}, []string{"col-1"})
	row := authorRow(models.StatusForPIMECEvaluation, true, "u1")
	first := Resolve(viewer, row)
	second := Resolve(viewer, row)
	assert.Equal(t, first.List(), second.List())
}

func TestMultiRoleViewerKeepsFullRoleSet(t *testing.T) {
	// a PIMEC member who is also faculty gets the union of both rule sets
	viewer := models.NewViewer("u1", []models.UserRole{models.RoleFaculty, models.RolePIMEC}, []string{"col-1"})
	row := authorRow(models.StatusForResubmission, true, "u1")
	caps := Resolve(viewer, row)
	assert.True(t, caps.Has(CapUploadRevision))
	assert.True(t, caps.Has(CapEditAuthors))
}
