package types

import (
	"bytes"
	"encoding/json"
)

// Record is one result row. Keys keep the column order the engine returned.
type Record struct {
	Keys   []string
	Values []any
}

// NewRecord pairs keys with values. Missing values are nil.
func NewRecord(keys []string, values []any) Record {
	r := Record{Keys: append([]string(nil), keys...), Values: make([]any, len(keys))}
	copy(r.Values, values)
	return r
}

// Get returns the value for column key.
func (r Record) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// AsMap loses column order.
func (r Record) AsMap() map[string]any {
	m := make(map[string]any, len(r.Keys))
	for i, k := range r.Keys {
		m[k] = r.Values[i]
	}
	return m
}

// MarshalJSON writes the row as a JSON object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
