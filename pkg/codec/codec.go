package codec

import (
	"github.com/cuemby/layerstore/pkg/storage"
)

// Codec converts one entity between its flat spec struct and the records
// of its table. Every entity codec is an instance of this type; only the
// field lists differ.
type Codec[S any] struct {
	Table  *storage.Table
	encode func(b *RowBuilder, s *S)
	decode func(r *Row) S
	key    func(s *S) []any
}

// Encode builds the record of s for backend
func (c *Codec[S]) Encode(backend storage.BackendType, s *S) (storage.Record, error) {
	b := NewRowBuilder(backend, c.Table)
	c.encode(b, s)
	return b.Record()
}

// Decode parses a record read from backend
func (c *Codec[S]) Decode(backend storage.BackendType, rec storage.Record) (S, error) {
	r := NewRow(backend, c.Table, rec)
	s := c.decode(r)
	if err := r.Err(); err != nil {
		var zero S
		return zero, err
	}
	return s, nil
}

// Key encodes primary key values given in neutral form
func (c *Codec[S]) Key(backend storage.BackendType, values ...any) (storage.Key, error) {
	pks := c.Table.PKColumns()
	if len(values) != len(pks) {
		return nil, storage.NewImplementationError("table %s: %d key values for %d key columns", c.Table.Name, len(values), len(pks))
	}
	key := make(storage.Key, len(pks))
	for i, col := range pks {
		v, err := Encode(backend, c.Table, col.Name, values[i])
		if err != nil {
			return nil, err
		}
		key[i] = v
	}
	return key, nil
}

// KeyOf encodes the primary key of s
func (c *Codec[S]) KeyOf(backend storage.BackendType, s *S) (storage.Key, error) {
	return c.Key(backend, c.key(s)...)
}

// Match encodes a column filter for storage.Querier
func (c *Codec[S]) Match(backend storage.BackendType, columns map[string]any) (storage.Record, error) {
	b := NewRowBuilder(backend, c.Table)
	for col, v := range columns {
		b.Set(col, v)
	}
	return b.Partial()
}

// DecodeAll parses every record, stopping at the first failure
func (c *Codec[S]) DecodeAll(backend storage.BackendType, recs []storage.Record) ([]S, error) {
	out := make([]S, 0, len(recs))
	for _, rec := range recs {
		s, err := c.Decode(backend, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
