package db

import (
	"context"
	"database/sql"
	"time"
)

// Database is the subset of a pooled SQL connection the services depend on.
type Database interface {
	Querier
	// Transaction runs fn inside a transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	// BeginTx hands the caller full control over commit and rollback.
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
	Stats() Stats
}

// Transaction is a Querier bound to a single database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates a query result.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Columns() ([]string, error)
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an Exec call.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// IsolationLevel mirrors database/sql isolation levels.
type IsolationLevel int

const (
	LevelDefault IsolationLevel = iota
	LevelReadCommitted
	LevelRepeatableRead
	LevelSerializable
)

// TxOptions configures BeginTx.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions maps TxOptions onto database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	out := &sql.TxOptions{ReadOnly: opts.ReadOnly}
	switch opts.Isolation {
	case LevelReadCommitted:
		out.Isolation = sql.LevelReadCommitted
	case LevelRepeatableRead:
		out.Isolation = sql.LevelRepeatableRead
	case LevelSerializable:
		out.Isolation = sql.LevelSerializable
	default:
		out.Isolation = sql.LevelDefault
	}
	return out
}

// Stats reports connection pool usage.
type Stats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// ConvertSQLStats copies database/sql pool statistics.
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}
