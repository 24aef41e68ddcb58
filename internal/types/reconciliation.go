package types

import "time"

// RecordFilter narrows record list and stats queries. Fields are
// pointers where "unset" and "zero" must stay distinguishable; the
// struct is serialized canonically when used as cache-key material.
type RecordFilter struct {
	Status    string     `json:"status,omitempty"`
	Type      string     `json:"type,omitempty"`
	Currency  string     `json:"currency,omitempty"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
	AmountMin *float64   `json:"amount_min,omitempty"`
	AmountMax *float64   `json:"amount_max,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// ExceptionFilter narrows exception list queries.
type ExceptionFilter struct {
	Severity         string `json:"severity,omitempty"`
	ResolutionStatus string `json:"resolution_status,omitempty"`
	ExceptionType    string `json:"exception_type,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
}

// BatchResult summarizes one auto-reconciliation pass.
type BatchResult struct {
	Processed int `json:"processed"`
	Matched   int `json:"matched"`
	Failed    int `json:"failed"`
}

// BulkMatchResult is the response for a filtered bulk-match request.
type BulkMatchResult struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Matched   int    `json:"matched"`
	Failed    int    `json:"failed"`
	Message   string `json:"message"`
}

// ReconciliationStats aggregates record counts and the global match rate.
type ReconciliationStats struct {
	TotalRecords     int64     `json:"total_records"`
	MatchedRecords   int64     `json:"matched_records"`
	UnmatchedRecords int64     `json:"unmatched_records"`
	DisputedRecords  int64     `json:"disputed_records"`
	ResolvedRecords  int64     `json:"resolved_records"`
	OpenExceptions   int64     `json:"open_exceptions"`
	MatchRate        float64   `json:"match_rate"`
	TotalAmount      float64   `json:"total_amount"`
	GeneratedAt      time.Time `json:"generated_at"`
}
