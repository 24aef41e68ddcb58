package reconciliation

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/recon-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRecord(record *Record) error {
	return d.db.Create(record).Error
}

func (d *Database) GetRecordByNumber(recordNumber string) (*Record, error) {
	var record Record
	if err := d.db.Where("record_number = ?", recordNumber).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) UpdateRecord(record *Record) error {
	return d.db.Save(record).Error
}

// ListRecords applies the filter and returns a date-descending page.
func (d *Database) ListRecords(filter types.RecordFilter) ([]Record, error) {
	var records []Record
	if err := applyRecordFilter(d.db, filter).
		Order("transaction_date DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// GetUnmatchedRecords returns up to limit unmatched records, newest
// transaction date first. The bound keeps a reconciliation pass from
// doing unbounded work.
func (d *Database) GetUnmatchedRecords(limit int) ([]Record, error) {
	var records []Record
	if err := d.db.Where("status = ?", StatusUnmatched).
		Order("transaction_date DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch unmatched records: %w", err)
	}
	return records, nil
}

// GetActiveRules returns active rules ordered by ascending priority,
// the order the matching engine tries them in.
func (d *Database) GetActiveRules() ([]Rule, error) {
	var rules []Rule
	if err := d.db.Where("is_active = ?", true).
		Order("priority ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active rules: %w", err)
	}
	return rules, nil
}

func (d *Database) ListRules() ([]Rule, error) {
	var rules []Rule
	if err := d.db.Order("priority ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (d *Database) CreateRule(rule *Rule) error {
	return d.db.Create(rule).Error
}

// FindCounterpart searches for an unmatched record that can pair with
// the given one: opposite transaction type, amount within tolerance and
// transaction date within ±windowDays of the candidate's.
func (d *Database) FindCounterpart(record *Record, amountTolerance float64, windowDays int) (*Record, error) {
	window := time.Duration(windowDays) * 24 * time.Hour
	var counterpart Record
	err := d.db.Where("status = ?", StatusUnmatched).
		Where("record_number <> ?", record.RecordNumber).
		Where("type <> ?", record.Type).
		Where("amount BETWEEN ? AND ?", record.Amount-amountTolerance, record.Amount+amountTolerance).
		Where("transaction_date BETWEEN ? AND ?",
			record.TransactionDate.Add(-window), record.TransactionDate.Add(window)).
		Order("transaction_date DESC").
		First(&counterpart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search for counterpart: %w", err)
	}
	return &counterpart, nil
}

// MatchPair persists a match and flips both records to matched in a
// single transaction, so a crash cannot leave a half-matched pair.
func (d *Database) MatchPair(match *Match, record, counterpart *Record) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(match).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save match record: %w", err)
	}

	if err := tx.Model(&Record{}).
		Where("record_number IN ?", []string{record.RecordNumber, counterpart.RecordNumber}).
		Update("status", StatusMatched).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update record statuses: %w", err)
	}

	return tx.Commit().Error
}

func (d *Database) CreateException(exception *Exception) error {
	return d.db.Create(exception).Error
}

func (d *Database) GetExceptionByID(exceptionID string) (*Exception, error) {
	var exception Exception
	if err := d.db.Where("exception_id = ?", exceptionID).First(&exception).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &exception, nil
}

func (d *Database) UpdateException(exception *Exception) error {
	return d.db.Save(exception).Error
}

func (d *Database) ListExceptions(filter types.ExceptionFilter) ([]Exception, error) {
	query := d.db.Model(&Exception{})
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.ResolutionStatus != "" {
		query = query.Where("resolution_status = ?", filter.ResolutionStatus)
	}
	if filter.ExceptionType != "" {
		query = query.Where("exception_type = ?", filter.ExceptionType)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var exceptions []Exception
	if err := query.Order("created_at DESC").Find(&exceptions).Error; err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	return exceptions, nil
}

// GetStats aggregates record counts, open exceptions and the global
// match rate, optionally narrowed by a record filter.
func (d *Database) GetStats(filter *types.RecordFilter) (*types.ReconciliationStats, error) {
	stats := &types.ReconciliationStats{GeneratedAt: time.Now()}

	base := d.db.Model(&Record{})
	if filter != nil {
		// Pagination has no meaning for aggregates.
		f := *filter
		f.Limit = 0
		f.Offset = 0
		base = applyRecordFilter(d.db, f)
	}

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalRecords).Error; err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	counts := []struct {
		status string
		dest   *int64
	}{
		{StatusMatched, &stats.MatchedRecords},
		{StatusUnmatched, &stats.UnmatchedRecords},
		{StatusDisputed, &stats.DisputedRecords},
		{StatusResolved, &stats.ResolvedRecords},
	}
	for _, c := range counts {
		if err := base.Session(&gorm.Session{}).
			Where("status = ?", c.status).
			Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", c.status, err)
		}
	}

	var totalAmount *float64
	if err := base.Session(&gorm.Session{}).
		Select("SUM(amount)").
		Scan(&totalAmount).Error; err != nil {
		return nil, fmt.Errorf("failed to sum record amounts: %w", err)
	}
	if totalAmount != nil {
		stats.TotalAmount = *totalAmount
	}

	if err := d.db.Model(&Exception{}).
		Where("resolution_status <> ?", ResolutionResolved).
		Count(&stats.OpenExceptions).Error; err != nil {
		return nil, fmt.Errorf("failed to count open exceptions: %w", err)
	}

	if stats.TotalRecords > 0 {
		stats.MatchRate = float64(stats.MatchedRecords) / float64(stats.TotalRecords)
	}

	return stats, nil
}

// CreateRecordWithIdempotency creates a record and its idempotency
// record in one transaction.
func (d *Database) CreateRecordWithIdempotency(record *Record, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(record).Error; err != nil {
		tx.Rollback()
		return err
	}

	idem := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     record.RecordNumber,
		ResourceType:   "record",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&idem).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key. Returns
// nil when no record exists.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func applyRecordFilter(query *gorm.DB, filter types.RecordFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}
	if filter.DateFrom != nil {
		query = query.Where("transaction_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("transaction_date <= ?", *filter.DateTo)
	}
	if filter.AmountMin != nil {
		query = query.Where("amount >= ?", *filter.AmountMin)
	}
	if filter.AmountMax != nil {
		query = query.Where("amount <= ?", *filter.AmountMax)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	return query.Model(&Record{})
}
