package reconciliation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ksred/recon-api/internal/notify"
	"github.com/ksred/recon-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MatchBatchSize bounds how many unmatched records one reconciliation
// pass considers.
const MatchBatchSize = 1000

// DefaultMatchWindowDays is the fixed date window for amount matching.
// Rules carry a date_tolerance_days field that this path deliberately
// does not consult; changing that requires product sign-off, so the
// window is an engine option rather than a per-rule value.
const DefaultMatchWindowDays = 3

// ErrReconcileInProgress is returned when a reconciliation pass is
// already running. Passes are mutually exclusive per engine instance;
// two concurrent passes could select and match the same record twice.
var ErrReconcileInProgress = fmt.Errorf("%w: reconciliation already in progress", types.ErrConflict)

// EngineOptions tune a matching engine.
type EngineOptions struct {
	// WindowDays overrides the fixed matching window. Zero means
	// DefaultMatchWindowDays.
	WindowDays int
}

// Engine runs the auto-reconciliation algorithm: pull unmatched
// records and active rules, attempt pairwise matches in rule priority
// order, persist results and invalidate the reconciliation cache.
type Engine struct {
	db         *Database
	cached     *CachedService
	fanout     *notify.Fanout
	windowDays int

	mu sync.Mutex // single-flight guard for passes
}

// NewEngine creates a matching engine. The cached service is used for
// post-pass invalidation, the fanout for completion events.
func NewEngine(gormDB *gorm.DB, cached *CachedService, fanout *notify.Fanout, opts EngineOptions) *Engine {
	windowDays := opts.WindowDays
	if windowDays == 0 {
		windowDays = DefaultMatchWindowDays
	}
	return &Engine{
		db:         NewDatabase(gormDB),
		cached:     cached,
		fanout:     fanout,
		windowDays: windowDays,
	}
}

// AutoReconcile runs one full reconciliation pass attributed to the
// given user. Safe to re-run: matched records are excluded from the
// batch by definition of the unmatched selection.
func (e *Engine) AutoReconcile(ctx context.Context, userID string) (*types.BatchResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrReconcileInProgress
	}
	defer e.mu.Unlock()

	logger := log.With().
		Str("service", "matching_engine").
		Str("user_id", userID).
		Logger()

	logger.Info().Msg("starting auto-reconciliation pass")

	records, err := e.db.GetUnmatchedRecords(MatchBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load unmatched records: %w", err)
	}

	rules, err := e.db.GetActiveRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	logger.Debug().
		Int("unmatched", len(records)).
		Int("active_rules", len(rules)).
		Msg("loaded reconciliation batch")

	result := e.runPass(ctx, records, rules, userID, logger)

	// Everything under the prefix is potentially stale after a pass.
	e.cached.InvalidateAll(ctx)

	if _, err := e.db.GetStats(nil); err != nil {
		logger.Warn().Err(err).Msg("failed to recompute match statistics")
	}

	e.fanout.Publish(ctx, notify.ChannelMatches, notify.Event{
		Event:  notify.EventMatchCompleted,
		Data:   result,
		UserID: userID,
	})

	logger.Info().
		Int("processed", result.Processed).
		Int("matched", result.Matched).
		Int("failed", result.Failed).
		Msg("auto-reconciliation pass completed")

	return result, nil
}

// BulkMatch runs a reconciliation pass over a filtered selection of
// unmatched records.
func (e *Engine) BulkMatch(ctx context.Context, filter types.RecordFilter, userID string) (*types.BulkMatchResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrReconcileInProgress
	}
	defer e.mu.Unlock()

	logger := log.With().
		Str("service", "matching_engine").
		Str("user_id", userID).
		Logger()

	// Bulk matching only ever considers unmatched records.
	filter.Status = StatusUnmatched
	if filter.Limit <= 0 || filter.Limit > MatchBatchSize {
		filter.Limit = MatchBatchSize
	}

	records, err := e.db.ListRecords(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for bulk match: %w", err)
	}

	rules, err := e.db.GetActiveRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	result := e.runPass(ctx, records, rules, userID, logger)

	e.cached.InvalidateAll(ctx)

	e.fanout.Publish(ctx, notify.ChannelMatches, notify.Event{
		Event:  notify.EventBulkMatchCompleted,
		Data:   result,
		UserID: userID,
	})

	return &types.BulkMatchResult{
		Success:   true,
		Processed: result.Processed,
		Matched:   result.Matched,
		Failed:    result.Failed,
		Message:   fmt.Sprintf("matched %d of %d records", result.Matched, result.Processed),
	}, nil
}

// runPass tries every record against the rules in priority order.
// First rule producing a match wins. Individual record failures are
// logged and counted, never abort the batch.
func (e *Engine) runPass(ctx context.Context, records []Record, rules []Rule, userID string, logger zerolog.Logger) *types.BatchResult {
	result := &types.BatchResult{Processed: len(records)}
	consumed := make(map[string]bool, len(records))

	for i := range records {
		record := &records[i]

		// Already paired earlier in this pass as someone's counterpart.
		if consumed[record.RecordNumber] {
			continue
		}

		counterpart, err := e.matchRecord(record, rules)
		if err != nil {
			logger.Error().Err(err).
				Str("record_number", record.RecordNumber).
				Msg("failed to match record")
			result.Failed++
			continue
		}
		if counterpart == nil {
			// No rule matched this pass; the record simply stays
			// unmatched until the next run or manual action.
			result.Failed++
			continue
		}

		match := &Match{
			MatchID:             "MTCH-" + uuid.New().String(),
			RecordNumber:        record.RecordNumber,
			MatchedRecordNumber: counterpart.RecordNumber,
			Confidence:          AutoMatchConfidence,
			MatchType:           MatchTypeAutomatic,
			MatchedBy:           userID,
		}

		if err := e.db.MatchPair(match, record, counterpart); err != nil {
			logger.Error().Err(err).
				Str("record_number", record.RecordNumber).
				Str("counterpart", counterpart.RecordNumber).
				Msg("failed to persist match")
			result.Failed++
			continue
		}

		consumed[record.RecordNumber] = true
		consumed[counterpart.RecordNumber] = true
		result.Matched += 2

		logger.Debug().
			Str("match_id", match.MatchID).
			Str("record_number", record.RecordNumber).
			Str("counterpart", counterpart.RecordNumber).
			Int("confidence", match.Confidence).
			Msg("records matched")
	}

	return result
}

// matchRecord tries the rules in priority order and returns the first
// counterpart found, or nil when no rule produces one.
func (e *Engine) matchRecord(record *Record, rules []Rule) (*Record, error) {
	for _, rule := range rules {
		switch rule.RuleType {
		case RuleAmountMatch:
			counterpart, err := e.db.FindCounterpart(record, rule.AmountTolerance, e.windowDays)
			if err != nil {
				return nil, err
			}
			if counterpart != nil {
				return counterpart, nil
			}
		default:
			// Unknown rule types are skipped rather than failed so a
			// misconfigured rule cannot poison the whole batch.
			log.Warn().
				Str("rule_type", rule.RuleType).
				Str("service", "matching_engine").
				Msg("skipping unsupported rule type")
		}
	}
	return nil, nil
}
