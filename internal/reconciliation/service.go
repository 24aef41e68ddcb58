package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/recon-api/internal/notify"
	"github.com/ksred/recon-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the reconciliation domain contract. The uncached
// implementation talks straight to the durable store; CachedService
// wraps any Service with the caching and invalidation layer.
type Service interface {
	CreateRecord(ctx context.Context, record *Record, idempotencyKey string) error
	GetRecord(ctx context.Context, recordNumber string) (*Record, error)
	ListRecords(ctx context.Context, filter types.RecordFilter) ([]Record, error)
	UpdateRecord(ctx context.Context, recordNumber string, update RecordUpdate) (*Record, error)
	ResolveRecord(ctx context.Context, recordNumber, notes string) (*Record, error)
	Stats(ctx context.Context, filter *types.RecordFilter) (*types.ReconciliationStats, error)
	ActiveRules(ctx context.Context) ([]Rule, error)
	CreateException(ctx context.Context, exception *Exception) error
	ListExceptions(ctx context.Context, filter types.ExceptionFilter) ([]Exception, error)
	ResolveException(ctx context.Context, exceptionID, notes string) (*Exception, error)
	ImportRecords(ctx context.Context, rows []ImportRow, userID string) (*ImportResult, error)
}

// ImportRow is one record in a bulk import feed.
type ImportRow struct {
	TransactionDate time.Time `json:"transaction_date"`
	Type            string    `json:"type"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	CustomerName    string    `json:"customer_name"`
}

// ImportResult summarizes a bulk import: rows imported, rows rejected
// by validation, and exceptions raised against suspect rows.
type ImportResult struct {
	Imported   int      `json:"imported"`
	Failed     int      `json:"failed"`
	Exceptions int      `json:"exceptions"`
	Errors     []string `json:"errors,omitempty"`
}

// RecordUpdate carries the mutable record fields for an update.
type RecordUpdate struct {
	Status       string `json:"status,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type service struct {
	db     *Database
	fanout *notify.Fanout
}

// NewService creates the uncached reconciliation service.
func NewService(gormDB *gorm.DB, fanout *notify.Fanout) Service {
	return &service{
		db:     NewDatabase(gormDB),
		fanout: fanout,
	}
}

var validStatuses = map[string]bool{
	StatusUnmatched: true,
	StatusMatched:   true,
	StatusDisputed:  true,
	StatusResolved:  true,
}

// CreateRecord validates and persists a new record. A record number is
// generated; replays with a live idempotency key return the original.
func (s *service) CreateRecord(ctx context.Context, record *Record, idempotencyKey string) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	if idempotencyKey != "" {
		idem, err := s.db.GetIdempotencyRecord(idempotencyKey)
		if err != nil {
			return err
		}
		if idem != nil && idem.ExpiresAt.After(time.Now()) {
			existing, err := s.db.GetRecordByNumber(idem.ResourceID)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("%w: record %s", types.ErrNotFound, idem.ResourceID)
			}
			*record = *existing
			return nil
		}
	}

	record.RecordNumber = "REC-" + uuid.New().String()
	record.Status = StatusUnmatched
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()

	if idempotencyKey != "" {
		return s.db.CreateRecordWithIdempotency(record, idempotencyKey)
	}
	return s.db.CreateRecord(record)
}

func (s *service) GetRecord(ctx context.Context, recordNumber string) (*Record, error) {
	record, err := s.db.GetRecordByNumber(recordNumber)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: record %s", types.ErrNotFound, recordNumber)
	}
	return record, nil
}

func (s *service) ListRecords(ctx context.Context, filter types.RecordFilter) ([]Record, error) {
	if filter.Status != "" && !validStatuses[filter.Status] {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, filter.Status)
	}
	return s.db.ListRecords(filter)
}

// UpdateRecord applies a partial update. Resolved records are immutable
// except for their notes.
func (s *service) UpdateRecord(ctx context.Context, recordNumber string, update RecordUpdate) (*Record, error) {
	record, err := s.GetRecord(ctx, recordNumber)
	if err != nil {
		return nil, err
	}

	if record.Status == StatusResolved && (update.Status != "" || update.CustomerName != "") {
		return nil, fmt.Errorf("%w: resolved records only accept notes", types.ErrConflict)
	}

	if update.Status != "" {
		if !validStatuses[update.Status] {
			return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, update.Status)
		}
		record.Status = update.Status
	}
	if update.CustomerName != "" {
		record.CustomerName = update.CustomerName
	}
	if update.Notes != "" {
		record.ResolutionNotes = update.Notes
	}
	record.UpdatedAt = time.Now()

	if err := s.db.UpdateRecord(record); err != nil {
		return nil, err
	}
	return record, nil
}

// ResolveRecord moves a record to its terminal resolved status.
func (s *service) ResolveRecord(ctx context.Context, recordNumber, notes string) (*Record, error) {
	record, err := s.GetRecord(ctx, recordNumber)
	if err != nil {
		return nil, err
	}

	if record.Status == StatusResolved {
		return nil, fmt.Errorf("%w: record %s already resolved", types.ErrConflict, recordNumber)
	}

	record.Status = StatusResolved
	record.ResolutionNotes = notes
	record.UpdatedAt = time.Now()

	if err := s.db.UpdateRecord(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) Stats(ctx context.Context, filter *types.RecordFilter) (*types.ReconciliationStats, error) {
	return s.db.GetStats(filter)
}

func (s *service) ActiveRules(ctx context.Context) ([]Rule, error) {
	return s.db.GetActiveRules()
}

func (s *service) CreateException(ctx context.Context, exception *Exception) error {
	if err := validateException(exception); err != nil {
		return err
	}

	record, err := s.db.GetRecordByNumber(exception.RecordNumber)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: record %s", types.ErrNotFound, exception.RecordNumber)
	}

	exception.ExceptionID = "EXC-" + uuid.New().String()
	if exception.ResolutionStatus == "" {
		exception.ResolutionStatus = ResolutionPending
	}
	exception.CreatedAt = time.Now()
	exception.UpdatedAt = time.Now()

	if err := s.db.CreateException(exception); err != nil {
		return err
	}

	s.fanout.Publish(ctx, notify.ChannelExceptions, notify.Event{
		Event:  notify.EventExceptionRaised,
		Data:   exception,
		UserID: exception.CreatedBy,
	})
	return nil
}

func (s *service) ListExceptions(ctx context.Context, filter types.ExceptionFilter) ([]Exception, error) {
	return s.db.ListExceptions(filter)
}

// ResolveException moves an exception to its terminal resolved state.
func (s *service) ResolveException(ctx context.Context, exceptionID, notes string) (*Exception, error) {
	exception, err := s.db.GetExceptionByID(exceptionID)
	if err != nil {
		return nil, err
	}
	if exception == nil {
		return nil, fmt.Errorf("%w: exception %s", types.ErrNotFound, exceptionID)
	}
	if exception.ResolutionStatus == ResolutionResolved {
		return nil, fmt.Errorf("%w: exception %s already resolved", types.ErrConflict, exceptionID)
	}

	exception.ResolutionStatus = ResolutionResolved
	exception.ResolutionNotes = notes
	exception.UpdatedAt = time.Now()

	if err := s.db.UpdateException(exception); err != nil {
		return nil, err
	}

	s.fanout.Publish(ctx, notify.ChannelExceptions, notify.Event{
		Event: notify.EventExceptionResolved,
		Data:  exception,
	})

	log.Info().
		Str("exception_id", exceptionID).
		Str("service", "reconciliation").
		Msg("exception resolved")

	return exception, nil
}

// ImportRecords validates and persists a batch of imported rows. Rows
// failing validation are rejected individually without aborting the
// batch; rows that import but look like duplicates of an existing
// unmatched record get a pending exception raised against them.
func (s *service) ImportRecords(ctx context.Context, rows []ImportRow, userID string) (*ImportResult, error) {
	logger := log.With().
		Str("service", "reconciliation").
		Str("user_id", userID).
		Int("rows", len(rows)).
		Logger()

	logger.Info().Msg("starting bulk record import")

	result := &ImportResult{}

	for i, row := range rows {
		record := &Record{
			TransactionDate: row.TransactionDate,
			Type:            row.Type,
			Amount:          row.Amount,
			Currency:        row.Currency,
			CustomerName:    row.CustomerName,
			CreatedBy:       userID,
		}

		duplicate, err := s.findDuplicateSuspect(record)
		if err != nil {
			logger.Warn().Err(err).Int("row", i).Msg("duplicate check failed, importing anyway")
		}

		if err := s.CreateRecord(ctx, record, ""); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		result.Imported++

		if duplicate != nil {
			exception := &Exception{
				RecordNumber:  record.RecordNumber,
				ExceptionType: "duplicate_suspect",
				Severity:      SeverityMedium,
				CreatedBy:     userID,
			}
			if err := s.CreateException(ctx, exception); err != nil {
				logger.Warn().Err(err).
					Str("record_number", record.RecordNumber).
					Msg("failed to raise duplicate exception")
				continue
			}
			result.Exceptions++
		}
	}

	logger.Info().
		Int("imported", result.Imported).
		Int("failed", result.Failed).
		Int("exceptions", result.Exceptions).
		Msg("bulk record import completed")

	return result, nil
}

// findDuplicateSuspect looks for an existing unmatched record with the
// same type, amount, currency and transaction date.
func (s *service) findDuplicateSuspect(record *Record) (*Record, error) {
	records, err := s.db.ListRecords(types.RecordFilter{
		Status:    StatusUnmatched,
		Type:      record.Type,
		Currency:  record.Currency,
		AmountMin: &record.Amount,
		AmountMax: &record.Amount,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].TransactionDate.Equal(record.TransactionDate) {
			return &records[i], nil
		}
	}
	return nil, nil
}

var validSeverities = map[string]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

func validateRecord(record *Record) error {
	if record.Amount == 0 {
		return fmt.Errorf("%w: amount must be nonzero", types.ErrValidation)
	}
	if len(record.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", types.ErrValidation)
	}
	record.Currency = strings.ToUpper(record.Currency)
	if record.Type != TypeDebit && record.Type != TypeCredit {
		return fmt.Errorf("%w: type must be %s or %s", types.ErrValidation, TypeDebit, TypeCredit)
	}
	if record.TransactionDate.IsZero() {
		return fmt.Errorf("%w: transaction date is required", types.ErrValidation)
	}
	return nil
}

func validateException(exception *Exception) error {
	if exception.RecordNumber == "" {
		return fmt.Errorf("%w: record number is required", types.ErrValidation)
	}
	if exception.ExceptionType == "" {
		return fmt.Errorf("%w: exception type is required", types.ErrValidation)
	}
	if !validSeverities[exception.Severity] {
		return fmt.Errorf("%w: unknown severity %q", types.ErrValidation, exception.Severity)
	}
	return nil
}
