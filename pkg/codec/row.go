package codec

import (
	"fmt"

	"github.com/cuemby/layerstore/pkg/storage"
)

// FieldError reports a stored value that cannot be decoded or a value
// that cannot be encoded
type FieldError struct {
	Table  string
	Column string
	Raw    any
	Err    error
}

func (e *FieldError) Error() string {
	if e.Raw == nil {
		return fmt.Sprintf("%s.%s: %v", e.Table, e.Column, e.Err)
	}
	return fmt.Sprintf("%s.%s (%v): %v", e.Table, e.Column, e.Raw, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

var errMissing = fmt.Errorf("required value is missing")

// Encode converts a neutral value of column into the native form of backend
func Encode(backend storage.BackendType, table *storage.Table, column string, v any) (any, error) {
	c, ok := table.Column(column)
	if !ok {
		return nil, storage.NewImplementationError("table %s has no column %s", table.Name, column)
	}
	v = neutral(v)
	var (
		out any
		err error
	)
	if q, ok := lookupQuirk(backend, table, column); ok {
		out, err = q.encode(v)
	} else {
		out, err = encodeDefault(backend, c, v)
	}
	if err != nil {
		return nil, &FieldError{Table: table.Name, Column: column, Raw: v, Err: err}
	}
	return out, nil
}

// Decode converts a native value of column into its neutral form
func Decode(backend storage.BackendType, table *storage.Table, column string, raw any) (any, error) {
	c, ok := table.Column(column)
	if !ok {
		return nil, storage.NewImplementationError("table %s has no column %s", table.Name, column)
	}
	var (
		out any
		err error
	)
	if q, ok := lookupQuirk(backend, table, column); ok {
		out, err = q.decode(raw)
	} else {
		out, err = decodeDefault(backend, c, raw)
	}
	if err != nil {
		return nil, &FieldError{Table: table.Name, Column: column, Raw: raw, Err: err}
	}
	return out, nil
}

// Row decodes the columns of one record. The first failure is kept and
// returned by Err; later getters return zero values.
type Row struct {
	backend storage.BackendType
	table   *storage.Table
	rec     storage.Record
	err     error
}

// NewRow wraps rec read from backend
func NewRow(backend storage.BackendType, table *storage.Table, rec storage.Record) *Row {
	return &Row{backend: backend, table: table, rec: rec}
}

// Err returns the first decoding failure
func (r *Row) Err() error { return r.err }

func (r *Row) get(column string, required bool) any {
	if r.err != nil {
		return nil
	}
	v, err := Decode(r.backend, r.table, column, r.rec[column])
	if err != nil {
		r.err = err
		return nil
	}
	if v == nil && required {
		r.err = &FieldError{Table: r.table.Name, Column: column, Err: errMissing}
	}
	return v
}

func (r *Row) typeErr(column string, v any, want string) {
	if r.err == nil {
		r.err = &FieldError{Table: r.table.Name, Column: column, Raw: v, Err: fmt.Errorf("want %s, got %T", want, v)}
	}
}

func (r *Row) String(column string) string {
	v := r.get(column, true)
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.typeErr(column, v, "string")
	}
	return s
}

func (r *Row) OptString(column string) *string {
	v := r.get(column, false)
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		r.typeErr(column, v, "string")
		return nil
	}
	return &s
}

func (r *Row) Int64(column string) int64 {
	v := r.get(column, true)
	if v == nil {
		return 0
	}
	n, ok := v.(int64)
	if !ok {
		r.typeErr(column, v, "int64")
	}
	return n
}

func (r *Row) Int(column string) int {
	return int(r.Int64(column))
}

func (r *Row) OptInt(column string) *int {
	v := r.get(column, false)
	if v == nil {
		return nil
	}
	n, ok := v.(int64)
	if !ok {
		r.typeErr(column, v, "int64")
		return nil
	}
	i := int(n)
	return &i
}

func (r *Row) Int16(column string) int16 {
	v := r.get(column, true)
	if v == nil {
		return 0
	}
	n, ok := v.(int16)
	if !ok {
		r.typeErr(column, v, "int16")
	}
	return n
}

func (r *Row) Bool(column string) bool {
	v := r.get(column, true)
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.typeErr(column, v, "bool")
	}
	return b
}

func (r *Row) OptBool(column string) *bool {
	v := r.get(column, false)
	if v == nil {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		r.typeErr(column, v, "bool")
		return nil
	}
	return &b
}

func (r *Row) Bytes(column string) []byte {
	v := r.get(column, true)
	if v == nil {
		return nil
	}
	b, ok := v.([]byte)
	if !ok {
		r.typeErr(column, v, "[]byte")
	}
	return b
}

// RowBuilder encodes neutral values into a record of one backend
type RowBuilder struct {
	backend storage.BackendType
	table   *storage.Table
	rec     storage.Record
	err     error
}

// NewRowBuilder starts an empty record for table
func NewRowBuilder(backend storage.BackendType, table *storage.Table) *RowBuilder {
	return &RowBuilder{backend: backend, table: table, rec: make(storage.Record, len(table.Columns))}
}

// Set encodes v into column
func (b *RowBuilder) Set(column string, v any) *RowBuilder {
	if b.err != nil {
		return b
	}
	out, err := Encode(b.backend, b.table, column, v)
	if err != nil {
		b.err = err
		return b
	}
	if out != nil {
		b.rec[column] = out
	}
	return b
}

// Record returns the complete record. Every non-nullable column must have
// been set.
func (b *RowBuilder) Record() (storage.Record, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, c := range b.table.Columns {
		if _, ok := b.rec[c.Name]; !ok && !c.Nullable {
			return nil, &FieldError{Table: b.table.Name, Column: c.Name, Err: errMissing}
		}
	}
	return b.rec, nil
}

// Partial returns the columns set so far, for use as a filter
func (b *RowBuilder) Partial() (storage.Record, error) {
	return b.rec, b.err
}

// Convert rewrites a record read from one backend into the native form of
// another. Quirks of both backends are applied, so sentinels and widened
// columns survive the move.
func Convert(from, to storage.BackendType, table *storage.Table, rec storage.Record) (storage.Record, error) {
	b := NewRowBuilder(to, table)
	for _, c := range table.Columns {
		v, err := Decode(from, table, c.Name, rec[c.Name])
		if err != nil {
			return nil, err
		}
		b.Set(c.Name, v)
	}
	return b.Record()
}
