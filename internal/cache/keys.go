package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ReconciliationPrefix namespaces every reconciliation cache key. The
// full key format "<prefix>:<qualifier>" is relied on by existing
// deployments and must not change.
const ReconciliationPrefix = "reconciliation"

// TTL tiers per resource class. Rules change rarely so they keep the
// longest tier; aggregate stats should feel near-live.
const (
	TTLRecords    = 300 * time.Second
	TTLStats      = 60 * time.Second
	TTLRules      = 600 * time.Second
	TTLExceptions = 180 * time.Second
)

// Key qualifiers and invalidation patterns for the reconciliation
// namespace.
const (
	KeyStats       = "stats"
	KeyRulesActive = "rules:active"

	PatternRecords    = "records:*"
	PatternLists      = "list:*"
	PatternStats      = "stats*" // covers bare "stats" and "stats:<digest>"
	PatternExceptions = "exceptions:*"
	PatternAll        = "*"
)

// RecordKey returns the qualifier for a single record.
func RecordKey(id string) string {
	return "record:" + id
}

// RecordsKey returns the qualifier for a filtered record list. The
// filter digest is order-stable, so logically-equal filters share a key.
func RecordsKey(filter any) string {
	return "records:" + FilterDigest(filter)
}

// StatsKey returns the qualifier for filtered stats; a zero filter maps
// to the bare "stats" key.
func StatsKey(filter any) string {
	if filter == nil {
		return KeyStats
	}
	return KeyStats + ":" + FilterDigest(filter)
}

// ExceptionsKey returns the qualifier for a filtered exception list.
func ExceptionsKey(filter any) string {
	return "exceptions:" + FilterDigest(filter)
}

// ListKey builds the human-readable qualifier for simple status-paged
// record listings, e.g. "list:status:matched:limit:20:offset:0".
func ListKey(status string, limit, offset int) string {
	return fmt.Sprintf("list:status:%s:limit:%d:offset:%d", status, limit, offset)
}

// FilterDigest produces a short deterministic digest of a typed filter
// struct. encoding/json emits struct fields in declaration order and
// sorts map keys, so the encoding is canonical for typed filters.
func FilterDigest(filter any) string {
	encoded, err := json.Marshal(filter)
	if err != nil {
		// Filters are plain data structs; marshalling cannot fail for
		// them. Fall back to a constant so the key stays valid.
		encoded = []byte("{}")
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:8])
}
