package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ksred/recon-api/internal/cache"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database per test. The shared
// cache DSN keeps the database alive across pooled connections; the
// test name keeps databases from leaking between tests.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&Record{}, &Rule{}, &Match{}, &Exception{}, &IdempotencyRecord{},
	))
	return db
}

type testStack struct {
	db     *gorm.DB
	svc    Service
	cached *CachedService
	engine *Engine
	cache  *cache.Service
}

func newTestStack(t *testing.T, opts EngineOptions) *testStack {
	t.Helper()

	db := newTestDB(t)
	cacheService := cache.NewService(cache.NewMemoryStore())
	svc := NewService(db, nil)
	cached := NewCachedService(svc, cacheService)
	engine := NewEngine(db, cached, nil, opts)

	return &testStack{
		db:     db,
		svc:    svc,
		cached: cached,
		engine: engine,
		cache:  cacheService,
	}
}

// seedAmountRule creates an active amount-match rule.
func (s *testStack) seedAmountRule(t *testing.T, tolerance float64, priority int) *Rule {
	t.Helper()

	rule := &Rule{
		Name:              fmt.Sprintf("amount match p%d", priority),
		RuleType:          RuleAmountMatch,
		AmountTolerance:   tolerance,
		DateToleranceDays: 3,
		IsActive:          true,
		Priority:          priority,
	}
	require.NoError(t, NewDatabase(s.db).CreateRule(rule))
	return rule
}

// seedRecord creates a record through the service so it gets a record
// number and the unmatched starting status.
func (s *testStack) seedRecord(t *testing.T, recordType string, amount float64, date time.Time) *Record {
	t.Helper()

	record := &Record{
		TransactionDate: date,
		Type:            recordType,
		Amount:          amount,
		Currency:        "USD",
		CreatedBy:       "tester",
	}
	require.NoError(t, s.svc.CreateRecord(context.Background(), record, ""))
	return record
}

func day(n int) time.Time {
	return time.Date(2026, time.January, n, 0, 0, 0, 0, time.UTC)
}
