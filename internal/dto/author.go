package dto

// AuthorDiffRequest reconciles the material's author set against a desired
// list. Adds and removes are applied independently; partial failure is
// reported per entry rather than aborting the whole diff.
type AuthorDiffRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

// AuthorChange reports the outcome of one add or remove within a diff.
type AuthorChange struct {
	UserID string `json:"user_id"`
	Op     string `json:"op"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// AuthorDiffResponse aggregates the per-entry outcomes.
type AuthorDiffResponse struct {
	Applied []AuthorChange `json:"applied"`
	Failed  int            `json:"failed"`
}

// AddAuthorRequest adds one user to the material's author set.
type AddAuthorRequest struct {
	UserID string `json:"user_id" binding:"required"`
}
