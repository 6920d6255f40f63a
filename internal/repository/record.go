package repository

import (
	"bytes"
	"encoding/json"
	"time"
)

// Record is an ordered name -> value projection of one result row.
// Column order follows the SQL result set; keys are column labels.
type Record struct {
	columns []string
	values  map[string]any
}

// NewRecord builds a record preserving the given column order
func NewRecord(columns []string, values []any) Record {
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		val := values[i]
		// Normalize driver types for JSON serialization
		switch v := val.(type) {
		case []byte:
			m[col] = string(v)
		case time.Time:
			m[col] = v.Format(time.RFC3339)
		default:
			m[col] = v
		}
	}
	return Record{columns: columns, values: m}
}

// Columns returns the column labels in result-set order
func (r Record) Columns() []string {
	return r.columns
}

// Get returns the value for a column label
func (r Record) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Len returns the number of columns
func (r Record) Len() int {
	return len(r.columns)
}

// MarshalJSON serializes the record as a JSON object preserving column order
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[col])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
