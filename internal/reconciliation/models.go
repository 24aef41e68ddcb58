package reconciliation

import (
	"time"

	"gorm.io/gorm"
)

// Record statuses. Transitions happen only through the matching engine
// or explicit resolution; resolved records are immutable apart from
// resolution notes.
const (
	StatusUnmatched = "unmatched"
	StatusMatched   = "matched"
	StatusDisputed  = "disputed"
	StatusResolved  = "resolved"
)

// Transaction types. The matching engine only pairs records of
// opposite types.
const (
	TypeDebit  = "debit"
	TypeCredit = "credit"
)

// Rule types.
const (
	RuleAmountMatch = "amount_match"
)

// Exception severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Exception resolution statuses. Resolved is terminal.
const (
	ResolutionPending       = "pending"
	ResolutionInvestigating = "investigating"
	ResolutionResolved      = "resolved"
)

// Match types.
const (
	MatchTypeAutomatic = "automatic"
	MatchTypeManual    = "manual"
)

// AutoMatchConfidence is the static confidence assigned to automatic
// matches. It is a heuristic score, not a probability derived from
// tolerance closeness.
const AutoMatchConfidence = 85

type Record struct {
	gorm.Model      `json:"-"`
	RecordNumber    string    `gorm:"uniqueIndex" json:"record_number"`
	TransactionDate time.Time `gorm:"index" json:"transaction_date"`
	Type            string    `json:"type"`     // debit or credit
	Amount          float64   `json:"amount"`   // nonzero
	Currency        string    `json:"currency"` // ISO 4217
	Status          string    `gorm:"index" json:"status"`
	CustomerName    string    `json:"customer_name,omitempty"`
	CreatedBy       string    `json:"created_by"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Rule struct {
	gorm.Model        `json:"-"`
	Name              string    `json:"name"`
	RuleType          string    `json:"rule_type"`
	AmountTolerance   float64   `json:"amount_tolerance"`
	DateToleranceDays int       `json:"date_tolerance_days"`
	IsActive          bool      `gorm:"index" json:"is_active"`
	Priority          int       `gorm:"index" json:"priority"` // lower = tried first
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Exception struct {
	gorm.Model       `json:"-"`
	ExceptionID      string    `gorm:"uniqueIndex" json:"exception_id"`
	RecordNumber     string    `gorm:"index" json:"record_number"`
	ExceptionType    string    `json:"exception_type"`
	Severity         string    `gorm:"index" json:"severity"`
	ResolutionStatus string    `gorm:"index" json:"resolution_status"`
	ResolutionNotes  string    `json:"resolution_notes,omitempty"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Match struct {
	gorm.Model          `json:"-"`
	MatchID             string    `gorm:"uniqueIndex" json:"match_id"`
	RecordNumber        string    `gorm:"index" json:"record_number"`
	MatchedRecordNumber string    `gorm:"index" json:"matched_record_number"`
	Confidence          int       `json:"confidence"`
	MatchType           string    `json:"match_type"` // automatic or manual
	MatchedBy           string    `json:"matched_by"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// IdempotencyRecord links an idempotency key to the resource it
// created, so replayed record imports return the original resource.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
