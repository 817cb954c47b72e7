package model

import "time"

// Envelope statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Page sizes accepted by the list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Response wraps every JSON body served under /api/v1.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions selects a page of recorded compilations, optionally only
// those with the given status.
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

func DefaultListOptions() ListOptions {
	return ListOptions{Limit: DefaultPageSize}
}

// Clamp falls back to DefaultPageSize for a non-positive limit, caps it at
// MaxPageSize and floors the offset at zero.
func (o *ListOptions) Clamp() {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultPageSize
	case o.Limit > MaxPageSize:
		o.Limit = MaxPageSize
	}
	o.Offset = max(o.Offset, 0)
}

// Page describes a result of n items taken at o out of total.
func (o ListOptions) Page(n, total int) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   o.Limit,
		Offset:  o.Offset,
		HasMore: o.Offset+n < total,
	}
}
