package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/layerstore/pkg/config"
	"github.com/cuemby/layerstore/pkg/log"
	"github.com/cuemby/layerstore/pkg/metrics"
)

// BackendType tags the three supported backends
type BackendType string

const (
	BackendSQL BackendType = config.BackendSQL
	BackendKV  BackendType = config.BackendKV
	BackendCRD BackendType = config.BackendCRD
)

// Record is one row of a logical table. Values are in the native
// representation of the backend that produced them: string, int64, bool,
// []byte or nil for SQL; string for KV; string, int64 or bool for CRD.
// Absent keys and nil values both mean NULL.
type Record map[string]any

// Key is a primary key, values in PKColumns order
type Key []any

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ":")
}

// Backend is a persistent store holding the logical tables
type Backend interface {
	Type() BackendType
	// Begin starts a transaction. Changes become visible to other
	// transactions on Commit.
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is the record set view of one backend transaction. Every failure is
// returned as a *DatabaseError; nothing is retried.
type Tx interface {
	Backend() BackendType
	FetchAll(table *Table) ([]Record, error)
	FetchByKey(table *Table, key Key) (Record, bool, error)
	Upsert(table *Table, rec Record) error
	Delete(table *Table, key Key) error
	Commit() error
	Rollback() error
}

// Querier is implemented by transactions that can filter rows server side
type Querier interface {
	FetchWhere(table *Table, match Record) ([]Record, error)
}

// Open creates the backend selected by cfg
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	logger := log.WithBackend(cfg.Backend)

	var (
		b   Backend
		err error
	)
	switch BackendType(cfg.Backend) {
	case BackendSQL:
		b, err = NewSQLBackend(ctx, cfg.SQL.DSN)
	case BackendKV:
		b, err = NewBoltBackend(cfg.KV.Path, cfg.KV.Root)
	case BackendCRD:
		b, err = NewCRDBackendFromKubeconfig(cfg.CRD.Kubeconfig, cfg.CRD.Group, cfg.CRD.Version)
	default:
		return nil, NewImplementationError("unknown backend type %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("Backend opened")
	return b, nil
}

// Update runs fn in a new transaction and commits it if fn succeeds
func Update(ctx context.Context, b Backend, fn func(tx Tx) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn in a new transaction that is always rolled back
func View(ctx context.Context, b Backend, fn func(tx Tx) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

func countOp(backend BackendType, op string) {
	metrics.BackendOperationsTotal.WithLabelValues(string(backend), op).Inc()
}

func pkValues(table *Table, rec Record) (Key, error) {
	key := table.KeyOf(rec)
	for i, v := range key {
		if v == nil {
			return nil, fmt.Errorf("primary key column %s is missing", table.PKColumns()[i].Name)
		}
	}
	return key, nil
}

func checkKey(table *Table, key Key) error {
	if n := len(table.PKColumns()); len(key) != n {
		return fmt.Errorf("key %s has %d values, table has %d primary key columns", key, len(key), n)
	}
	return nil
}
