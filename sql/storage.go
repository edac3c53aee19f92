// Package sql implements bitemporal.Storage on top of database/sql using
// squirrel to build the persisted table's queries. It is table-per-module:
// one physical table holds every entity's version log, keyed by
// (entity_type, entity_id, version_id).
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	bt "github.com/tempograph/bitemporal"
)

var _ bt.Storage = (*Storage)(nil)

// DefaultTableName is the table Storage addresses when NewStorage is given
// an empty table name.
const DefaultTableName = "temporal_entities"

// ExecerQueryer can Exec or Query. Both sql.DB and sql.Tx satisfy this
// interface, so a Storage can run inside or outside an explicit transaction.
type ExecerQueryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Storage is a SQL-backed bitemporal.Storage. It expects a table created by
// Schema (or an equivalent DDL) to already exist.
type Storage struct {
	eq     ExecerQueryer
	table  string
	logger log.Logger
}

// NewStorage constructs a Storage against table using eq. An empty table
// defaults to DefaultTableName. Logging defaults to a no-op logger; use
// SetLogger to attach one.
func NewStorage(eq ExecerQueryer, table string) *Storage {
	if table == "" {
		table = DefaultTableName
	}
	return &Storage{eq: eq, table: table, logger: log.NewNopLogger()}
}

// SetLogger attaches a logger for this Storage's Exec/Query calls. A nil
// logger is treated as a no-op logger.
func (s *Storage) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s.logger = logger
}

// log returns s.logger, falling back to a no-op logger for a zero-value
// Storage (constructed as &Storage{} rather than via NewStorage).
func (s *Storage) log() log.Logger {
	if s.logger == nil {
		return log.NewNopLogger()
	}
	return s.logger
}

// Schema returns the CREATE TABLE statement Storage expects, in SQLite
// dialect (the dialect exercised by the package's tests via
// mattn/go-sqlite3). Other squirrel-compatible dialects need an equivalent
// DDL with the same column set.
func (s *Storage) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		tx_time_start TIMESTAMP NOT NULL,
		tx_time_end TIMESTAMP,
		valid_time_start TIMESTAMP NOT NULL,
		valid_time_end TIMESTAMP,
		payload_kind TEXT NOT NULL,
		payload_data BLOB NOT NULL,
		PRIMARY KEY (entity_type, entity_id, version_id)
	)`, s.table)
}

// Append inserts a new row for record. The row is never updated in place
// except by Supersede narrowing tx_time_end.
func (s *Storage) Append(_ context.Context, record *bt.VersionedRecord) error {
	_, err := squirrel.Insert(s.table).
		Columns("entity_type", "entity_id", "version_id", "tx_time_start", "tx_time_end",
			"valid_time_start", "valid_time_end", "payload_kind", "payload_data").
		Values(record.EntityID.Type.String(), record.EntityID.ID, record.VersionID,
			record.TxTimeStart, record.TxTimeEnd, record.ValidTimeStart, record.ValidTimeEnd,
			string(record.Payload.Kind), record.Payload.Data).
		RunWith(s.eq).
		Exec()
	if err != nil {
		return err
	}
	level.Debug(s.log()).Log("msg", "inserted row", "table", s.table, "entity_id", record.EntityID.String(), "version_id", record.VersionID)
	return nil
}

// Supersede sets tx_time_end on the row identified by (id, versionID).
func (s *Storage) Supersede(_ context.Context, id bt.EntityID, versionID string, txEnd time.Time) error {
	res, err := squirrel.Update(s.table).
		Set("tx_time_end", txEnd).
		Where(squirrel.Eq{
			"entity_type": id.Type.String(),
			"entity_id":   id.ID,
			"version_id":  versionID,
			"tx_time_end": nil,
		}).
		RunWith(s.eq).
		Exec()
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bt.ErrNotFound
	}
	level.Debug(s.log()).Log("msg", "superseded row", "table", s.table, "entity_id", id.String(), "version_id", versionID)
	return nil
}

// Get returns every row recorded for id, current and historical.
func (s *Storage) Get(_ context.Context, id bt.EntityID) ([]*bt.VersionedRecord, error) {
	rows, err := squirrel.Select("*").
		From(s.table).
		Where(squirrel.Eq{"entity_type": id.Type.String(), "entity_id": id.ID}).
		RunWith(s.eq).
		Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanToRecords(rows)
}

// Scan runs a compiled query against the table: current-only rows (tx_time
// end IS NULL), narrowed by entity id/type equality when the OptimizedQuery
// carries them, sorted by valid_time_start, and capped at Limit.
func (s *Storage) Scan(_ context.Context, oq *bt.OptimizedQuery) (*bt.Page, error) {
	b := squirrel.Select("*").
		From(s.table).
		Where(squirrel.Eq{"tx_time_end": nil})

	if v, ok := oq.ExpressionValues[":eid"]; ok {
		b = b.Where(squirrel.Eq{"entity_id": entityIDSuffix(v)})
	}
	if v, ok := oq.ExpressionValues[":etype"]; ok {
		b = b.Where(squirrel.Eq{"entity_type": v})
	}

	order := "valid_time_start ASC"
	if !oq.ScanAscending {
		order = "valid_time_start DESC"
	}
	b = b.OrderBy(order)
	if oq.Limit > 0 {
		b = b.Limit(uint64(oq.Limit))
	}

	rows, err := b.RunWith(s.eq).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := ScanToRecords(rows)
	if err != nil {
		return nil, err
	}
	level.Debug(s.log()).Log("msg", "scanned table", "table", s.table, "matched", len(records))
	return &bt.Page{Records: records}, nil
}

// entityIDSuffix extracts the bare id portion of an "EntityType/id" string,
// since the table stores entity_id and entity_type as separate columns.
func entityIDSuffix(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}
