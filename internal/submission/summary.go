package submission

// Summary is a submission without its items.
// Used for browse operations (list, dashboard) to reduce data transfer.
type Summary struct {
	ID             string `json:"id"`
	SubmitterID    int64  `json:"submitter_id"`
	SubmitterRole  string `json:"submitter_role"`
	Subject        string `json:"subject"`
	Kind           string `json:"kind"`
	ItemCount      int    `json:"item_count"`
	Status         Status `json:"status"`
	DecidedByAlias string `json:"decided_by_alias,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}
