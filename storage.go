package bitemporal

import (
	"context"
	"time"
)

// Storage is the capability-set contract a persistence backend must
// satisfy, replacing the source model's dynamic dispatch over ad hoc
// backend methods with an explicit, closed interface (Design Notes:
// "dynamic dispatch over backend capabilities re-architected as a
// capability set the engine composes against").
//
// A Storage implementation owns the append-only record log; the
// TemporalIndex and ConsistencyChecker are pure in-process collaborators the
// Engine composes on top of it. Implementations must never mutate or delete
// a previously appended VersionedRecord; Supersede only ever narrows
// TxTimeEnd on the current version.
type Storage interface {
	// Append writes a new VersionedRecord. It must not perform temporal
	// validation itself; the Engine validates via ConsistencyChecker before
	// calling Append.
	Append(ctx context.Context, record *VersionedRecord) error

	// Supersede stamps the current version identified by (id, versionID) as
	// historical, setting its transaction-time end to txEnd. It returns
	// ErrNotFound if versionID is unknown or already historical.
	Supersede(ctx context.Context, id EntityID, versionID string, txEnd time.Time) error

	// Scan runs a compiled query against the backend and returns a page of
	// matching records plus a continuation token (nil when exhausted).
	Scan(ctx context.Context, q *OptimizedQuery) (*Page, error)

	// Get fetches every version ever recorded for id, current and
	// historical. The Engine uses it to resolve the records behind the
	// temporal index entries a query matched.
	Get(ctx context.Context, id EntityID) ([]*VersionedRecord, error)
}

// Page is one page of records returned by Storage.Scan, plus an opaque
// continuation token a caller can pass back as the next query's page token.
// Per §9 Open Question, page tokens are valid only within the issuing
// process and session; they are never persisted or shared across processes.
type Page struct {
	Records   []*VersionedRecord
	NextToken []byte
}
