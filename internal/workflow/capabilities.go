package workflow

import (
	"sort"

	"github.com/utldo-dev/im-review-api/internal/models"
)

// Capability is one permitted UI action on a material row for a viewer.
type Capability string

const (
	CapUpload         Capability = "upload"
	CapUploadRevision Capability = "upload_revision"
	CapDownload       Capability = "download"
	CapEvaluate       Capability = "evaluate"
	CapEditAuthors    Capability = "edit_authors"
	CapDelete         Capability = "delete"
)

// CapabilitySet is the resolved action set for one (viewer, row) pair.
type CapabilitySet map[Capability]struct{}

// Has reports membership.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in stable order for serialization.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Row carries the capability-relevant slice of an assembled directory row.
// CollegeID and DepartmentID are the derived values from the base record.
type Row struct {
	IMID      string
	Status    models.IMStatus
	CollegeID string
	HasFile   bool
	AuthorIDs map[string]struct{}
}

// IsAuthor reports whether the user id belongs to the row's author set.
func (r Row) IsAuthor(userID string) bool {
	_, ok := r.AuthorIDs[userID]
	return ok
}

// CanAct is the visibility gate evaluated before any per-capability rule.
// When it is false the row renders as restricted and no capability is
// offered regardless of role.
func CanAct(viewer models.Viewer, row Row) bool {
	if row.IsAuthor(viewer.UserID) {
		return true
	}
	if viewer.HasRole(models.RoleTechnicalAdmin) {
		return true
	}
	if viewer.HasRole(models.RolePIMEC) {
		if viewer.MemberOfCollege(row.CollegeID) {
			return true
		}
		if row.Status == models.StatusForPIMECEvaluation {
			return true
		}
	}
	if viewer.HasRole(models.RoleUTLDOAdmin) && row.Status == models.StatusForUTLDOEvaluation {
		return true
	}
	return false
}

// Resolve computes the capability set for a viewer over a row. Pure function
// of its inputs: no clock, no randomness, capabilities evaluated
// independently (they are not mutually exclusive).
//
// Download is deliberately outside the CanAct gate; the legacy behavior
// never blocked it and tightening that is a stakeholder decision.
func Resolve(viewer models.Viewer, row Row) CapabilitySet {
	caps := make(CapabilitySet)

	if row.HasFile || row.IMID != "" {
		caps[CapDownload] = struct{}{}
	}

	if !CanAct(viewer, row) {
		return caps
	}

	if viewer.HasRole(models.RoleFaculty) && !row.HasFile {
		caps[CapUpload] = struct{}{}
	}
	if viewer.HasRole(models.RoleFaculty) && row.Status == models.StatusForResubmission {
		caps[CapUploadRevision] = struct{}{}
	}
	// Override first-upload for reviewers fixing stuck rows.
	if (viewer.HasRole(models.RolePIMEC) || viewer.HasRole(models.RoleTechnicalAdmin)) && !row.HasFile {
		caps[CapUpload] = struct{}{}
	}
	if viewer.HasRole(models.RolePIMEC) && row.Status == models.StatusForPIMECEvaluation {
		caps[CapEvaluate] = struct{}{}
	}
	if viewer.HasRole(models.RolePIMEC) || viewer.HasRole(models.RoleTechnicalAdmin) || viewer.HasRole(models.RoleUTLDOAdmin) {
		caps[CapEditAuthors] = struct{}{}
	}
	if viewer.HasRole(models.RoleTechnicalAdmin) {
		caps[CapDelete] = struct{}{}
	}

	return caps
}
