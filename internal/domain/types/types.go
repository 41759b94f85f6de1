// Package types contains the request and response bodies shared by the
// operator API and its clients.
package types

// Page is one window of a larger ordered collection.
type Page[T any] struct {
	Items  []T `json:"items"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// NewPage wraps items, never encoding a nil slice.
func NewPage[T any](items []T, offset, limit, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Offset: offset, Limit: limit, Total: total}
}

// HasMore reports whether rows remain after this page.
func (p Page[T]) HasMore() bool { return p.Offset+len(p.Items) < p.Total }

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Kind           string `json:"kind,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// StartJobRequest starts a job; an empty endpoint falls back to settings.
type StartJobRequest struct {
	EndpointURL string `json:"endpoint_url,omitempty"`
}

// StartJobResponse carries the id assigned by the evaluation API.
type StartJobResponse struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
}

// LoadRowsResponse reports a CSV upload.
type LoadRowsResponse struct {
	Rows         int      `json:"rows"`
	DuplicateIDs []string `json:"duplicate_ids"`
}

// Settings are the user-editable persisted preferences.
type Settings struct {
	EndpointURL string `json:"endpoint_url"`
	Separator   string `json:"separator"`
}
