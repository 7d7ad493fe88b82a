package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLBackend implements Backend on a relational database through
// database/sql and the sqlite3 driver
type SQLBackend struct {
	db *sql.DB
}

// NewSQLBackend opens dsn and creates missing tables
func NewSQLBackend(ctx context.Context, dsn string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, NewDatabaseError(BackendSQL, "open", "", err)
	}
	// sqlite has a single writer and in-memory databases are per connection
	db.SetMaxOpenConns(1)

	b := &SQLBackend{db: db}
	if err := b.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) createTables(ctx context.Context) error {
	for _, t := range AllTables {
		if _, err := b.db.ExecContext(ctx, createTableSQL(t)); err != nil {
			return NewDatabaseError(BackendSQL, "create", t.Name, err)
		}
	}
	return nil
}

func createTableSQL(t *Table) string {
	var cols []string
	for _, c := range t.Columns {
		def := c.Name + " " + sqlType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	var pks []string
	for _, c := range t.PKColumns() {
		pks = append(pks, c.Name)
	}
	cols = append(cols, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(cols, ",\n\t"))
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeInt:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeBool:
		return "BOOLEAN"
	case TypeBlob:
		return "BLOB"
	default:
		return "VARCHAR(4096)"
	}
}

func (b *SQLBackend) Type() BackendType { return BackendSQL }

// Begin starts a database transaction
func (b *SQLBackend) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewDatabaseError(BackendSQL, "begin", "", err)
	}
	return &sqlTx{ctx: ctx, tx: tx}, nil
}

// Close closes the database
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlTx) Backend() BackendType { return BackendSQL }

func (t *sqlTx) FetchAll(table *Table) ([]Record, error) {
	countOp(BackendSQL, "fetch_all")
	return t.query(table, "fetch_all", selectSQL(table, nil))
}

func (t *sqlTx) FetchByKey(table *Table, key Key) (Record, bool, error) {
	countOp(BackendSQL, "fetch_by_key")
	if err := checkKey(table, key); err != nil {
		return nil, false, NewDatabaseError(BackendSQL, "fetch_by_key", table.Name, err)
	}
	var where []string
	for _, c := range table.PKColumns() {
		where = append(where, c.Name)
	}
	recs, err := t.query(table, "fetch_by_key", selectSQL(table, where), key...)
	if err != nil {
		return nil, false, err
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	return recs[0], true, nil
}

// FetchWhere returns the rows whose columns equal every value in match
func (t *sqlTx) FetchWhere(table *Table, match Record) ([]Record, error) {
	countOp(BackendSQL, "fetch_where")
	cols := make([]string, 0, len(match))
	for name := range match {
		if _, ok := table.Column(name); !ok {
			return nil, NewDatabaseError(BackendSQL, "fetch_where", table.Name, fmt.Errorf("unknown column %s", name))
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = match[c]
	}
	return t.query(table, "fetch_where", selectSQL(table, cols), args...)
}

func (t *sqlTx) Upsert(table *Table, rec Record) error {
	countOp(BackendSQL, "upsert")
	if _, err := pkValues(table, rec); err != nil {
		return NewDatabaseError(BackendSQL, "upsert", table.Name, err)
	}
	args := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		args[i] = rec[c.Name]
	}
	if _, err := t.tx.ExecContext(t.ctx, upsertSQL(table), args...); err != nil {
		return NewDatabaseError(BackendSQL, "upsert", table.Name, err)
	}
	return nil
}

func (t *sqlTx) Delete(table *Table, key Key) error {
	countOp(BackendSQL, "delete")
	if err := checkKey(table, key); err != nil {
		return NewDatabaseError(BackendSQL, "delete", table.Name, err)
	}
	var where []string
	for _, c := range table.PKColumns() {
		where = append(where, c.Name+" = ?")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table.Name, strings.Join(where, " AND "))
	if _, err := t.tx.ExecContext(t.ctx, query, key...); err != nil {
		return NewDatabaseError(BackendSQL, "delete", table.Name, err)
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return NewDatabaseError(BackendSQL, "commit", "", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return NewDatabaseError(BackendSQL, "rollback", "", err)
	}
	return nil
}

func (t *sqlTx) query(table *Table, op, query string, args ...any) ([]Record, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, NewDatabaseError(BackendSQL, op, table.Name, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		values := make([]any, len(table.Columns))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, NewDatabaseError(BackendSQL, op, table.Name, err)
		}

		rec := make(Record, len(values))
		for i, c := range table.Columns {
			v, err := normalizeSQL(c, values[i])
			if err != nil {
				return nil, NewDatabaseError(BackendSQL, op, table.Name, err)
			}
			if v != nil {
				rec[c.Name] = v
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError(BackendSQL, op, table.Name, err)
	}
	return recs, nil
}

// normalizeSQL maps the driver's scan result onto string, int64, bool or []byte
func normalizeSQL(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case TypeInt, TypeBigInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case TypeBlob:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("column %s: unexpected %T for %s", c.Name, v, c.Type)
}

func selectSQL(table *Table, where []string) string {
	var cols []string
	for _, c := range table.Columns {
		cols = append(cols, c.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table.Name)
	if len(where) > 0 {
		conds := make([]string, len(where))
		for i, w := range where {
			conds[i] = w + " = ?"
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	var order []string
	for _, c := range table.PKColumns() {
		order = append(order, c.Name)
	}
	return query + " ORDER BY " + strings.Join(order, ", ")
}

func upsertSQL(table *Table) string {
	var cols, marks, pks, sets []string
	for _, c := range table.Columns {
		cols = append(cols, c.Name)
		marks = append(marks, "?")
		if c.PK {
			pks = append(pks, c.Name)
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		table.Name, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(pks, ", "))
	if len(sets) == 0 {
		return query + "DO NOTHING"
	}
	return query + "DO UPDATE SET " + strings.Join(sets, ", ")
}
