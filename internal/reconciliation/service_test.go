package reconciliation

import (
	"context"
	"strings"
	"testing"

	"github.com/ksred/recon-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRecordValidation(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	cases := []struct {
		name   string
		record Record
	}{
		{"zero amount", Record{Type: TypeDebit, Currency: "USD", TransactionDate: day(1)}},
		{"bad currency", Record{Type: TypeDebit, Amount: 10, Currency: "US", TransactionDate: day(1)}},
		{"bad type", Record{Type: "transfer", Amount: 10, Currency: "USD", TransactionDate: day(1)}},
		{"missing date", Record{Type: TypeDebit, Amount: 10, Currency: "USD"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := tc.record
			err := stack.svc.CreateRecord(ctx, &record, "")
			require.Error(t, err)
			assert.True(t, types.IsValidation(err))
		})
	}
}

func TestCreateRecordDefaults(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	record := &Record{
		TransactionDate: day(5),
		Type:            TypeCredit,
		Amount:          250.75,
		Currency:        "usd",
		CreatedBy:       "tester",
	}
	require.NoError(t, stack.svc.CreateRecord(ctx, record, ""))

	assert.True(t, strings.HasPrefix(record.RecordNumber, "REC-"))
	assert.Equal(t, StatusUnmatched, record.Status)
	assert.Equal(t, "USD", record.Currency, "currency is normalized to upper case")
}

func TestCreateRecordIdempotentReplay(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	first := &Record{
		TransactionDate: day(5),
		Type:            TypeDebit,
		Amount:          100,
		Currency:        "USD",
		CreatedBy:       "tester",
	}
	require.NoError(t, stack.svc.CreateRecord(ctx, first, "idem-key-1"))

	// A replay with the same key returns the original record instead of
	// creating a second one, regardless of the new payload.
	replay := &Record{
		TransactionDate: day(9),
		Type:            TypeCredit,
		Amount:          999,
		Currency:        "EUR",
		CreatedBy:       "tester",
	}
	require.NoError(t, stack.svc.CreateRecord(ctx, replay, "idem-key-1"))
	assert.Equal(t, first.RecordNumber, replay.RecordNumber)
	assert.Equal(t, first.Amount, replay.Amount)

	records, err := stack.svc.ListRecords(ctx, types.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGetRecordNotFound(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})

	_, err := stack.svc.GetRecord(context.Background(), "REC-missing")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestListRecordsRejectsUnknownStatus(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})

	_, err := stack.svc.ListRecords(context.Background(), types.RecordFilter{Status: "pending"})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestListRecordsFilterAndOrder(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	older := stack.seedRecord(t, TypeDebit, 100, day(1))
	newer := stack.seedRecord(t, TypeDebit, 200, day(10))
	stack.seedRecord(t, TypeCredit, 300, day(5))

	records, err := stack.svc.ListRecords(ctx, types.RecordFilter{Type: TypeDebit})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.RecordNumber, records[0].RecordNumber, "newest transaction first")
	assert.Equal(t, older.RecordNumber, records[1].RecordNumber)

	min := 150.0
	records, err = stack.svc.ListRecords(ctx, types.RecordFilter{AmountMin: &min})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = stack.svc.ListRecords(ctx, types.RecordFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUpdateRecord(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	record := stack.seedRecord(t, TypeDebit, 100, day(1))

	updated, err := stack.svc.UpdateRecord(ctx, record.RecordNumber, RecordUpdate{
		Status:       StatusDisputed,
		CustomerName: "Acme Corp",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, updated.Status)
	assert.Equal(t, "Acme Corp", updated.CustomerName)

	_, err = stack.svc.UpdateRecord(ctx, record.RecordNumber, RecordUpdate{Status: "bogus"})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestResolvedRecordIsImmutable(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	record := stack.seedRecord(t, TypeDebit, 100, day(1))

	resolved, err := stack.svc.ResolveRecord(ctx, record.RecordNumber, "written off")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "written off", resolved.ResolutionNotes)

	// Resolving twice conflicts.
	_, err = stack.svc.ResolveRecord(ctx, record.RecordNumber, "again")
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	// Status and customer fields are frozen; notes remain editable.
	_, err = stack.svc.UpdateRecord(ctx, record.RecordNumber, RecordUpdate{Status: StatusDisputed})
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	updated, err := stack.svc.UpdateRecord(ctx, record.RecordNumber, RecordUpdate{Notes: "addendum"})
	require.NoError(t, err)
	assert.Equal(t, "addendum", updated.ResolutionNotes)
}

func TestExceptionLifecycle(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	record := stack.seedRecord(t, TypeDebit, 100, day(1))

	exception := &Exception{
		RecordNumber:  record.RecordNumber,
		ExceptionType: "amount_mismatch",
		Severity:      SeverityHigh,
		CreatedBy:     "tester",
	}
	require.NoError(t, stack.svc.CreateException(ctx, exception))
	assert.True(t, strings.HasPrefix(exception.ExceptionID, "EXC-"))
	assert.Equal(t, ResolutionPending, exception.ResolutionStatus)

	resolved, err := stack.svc.ResolveException(ctx, exception.ExceptionID, "manual review done")
	require.NoError(t, err)
	assert.Equal(t, ResolutionResolved, resolved.ResolutionStatus)
	assert.Equal(t, "manual review done", resolved.ResolutionNotes)

	_, err = stack.svc.ResolveException(ctx, exception.ExceptionID, "again")
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
}

func TestCreateExceptionValidation(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	record := stack.seedRecord(t, TypeDebit, 100, day(1))

	err := stack.svc.CreateException(ctx, &Exception{
		RecordNumber:  record.RecordNumber,
		ExceptionType: "amount_mismatch",
		Severity:      "urgent",
	})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	err = stack.svc.CreateException(ctx, &Exception{
		RecordNumber:  "REC-missing",
		ExceptionType: "amount_mismatch",
		Severity:      SeverityLow,
	})
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestListExceptionsFilter(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	record := stack.seedRecord(t, TypeDebit, 100, day(1))
	for _, severity := range []string{SeverityLow, SeverityHigh} {
		require.NoError(t, stack.svc.CreateException(ctx, &Exception{
			RecordNumber:  record.RecordNumber,
			ExceptionType: "amount_mismatch",
			Severity:      severity,
			CreatedBy:     "tester",
		}))
	}

	exceptions, err := stack.svc.ListExceptions(ctx, types.ExceptionFilter{Severity: SeverityHigh})
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, SeverityHigh, exceptions[0].Severity)
}

func TestStatsAggregation(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	stack.seedAmountRule(t, 1.00, 1)
	stack.seedRecord(t, TypeDebit, 100.00, day(1))
	stack.seedRecord(t, TypeCredit, 100.50, day(2))
	orphan := stack.seedRecord(t, TypeDebit, 500.00, day(3))

	_, err := stack.engine.AutoReconcile(ctx, "tester")
	require.NoError(t, err)

	require.NoError(t, stack.svc.CreateException(ctx, &Exception{
		RecordNumber:  orphan.RecordNumber,
		ExceptionType: "missing_counterpart",
		Severity:      SeverityMedium,
		CreatedBy:     "tester",
	}))

	stats, err := stack.svc.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.MatchedRecords)
	assert.Equal(t, int64(1), stats.UnmatchedRecords)
	assert.Equal(t, int64(1), stats.OpenExceptions)
	assert.InDelta(t, 700.50, stats.TotalAmount, 0.001)
	assert.InDelta(t, 2.0/3.0, stats.MatchRate, 0.001)

	// Filtered stats only consider matching records.
	filtered, err := stack.svc.Stats(ctx, &types.RecordFilter{Type: TypeDebit})
	require.NoError(t, err)
	assert.Equal(t, int64(2), filtered.TotalRecords)
	assert.Equal(t, int64(1), filtered.MatchedRecords)
}

func TestImportRecords(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	rows := []ImportRow{
		{TransactionDate: day(1), Type: TypeDebit, Amount: 100, Currency: "USD", CustomerName: "Acme"},
		{TransactionDate: day(2), Type: TypeCredit, Amount: 200, Currency: "usd"},
		{TransactionDate: day(3), Type: TypeDebit, Amount: 0, Currency: "USD"}, // rejected
	}

	result, err := stack.svc.ImportRecords(ctx, rows, "importer")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Exceptions)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "row 2")

	records, err := stack.svc.ListRecords(ctx, types.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestImportRecordsFlagsDuplicateSuspects(t *testing.T) {
	stack := newTestStack(t, EngineOptions{})
	ctx := context.Background()

	row := ImportRow{TransactionDate: day(1), Type: TypeDebit, Amount: 150, Currency: "USD"}

	result, err := stack.svc.ImportRecords(ctx, []ImportRow{row, row}, "importer")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported, "suspects still import")
	assert.Equal(t, 1, result.Exceptions)

	exceptions, err := stack.svc.ListExceptions(ctx, types.ExceptionFilter{ExceptionType: "duplicate_suspect"})
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, SeverityMedium, exceptions[0].Severity)
	assert.Equal(t, "importer", exceptions[0].CreatedBy)
}
