package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is a flat key/value row that remembers insertion order. Column
// order in every output format follows the order keys were first set,
// which for analytics records is the request's dimension order.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Set stores a value, appending the key on first use.
func (r *Record) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value for a key and whether it is present.
func (r *Record) Get(key string) (any, bool) {
	value, ok := r.values[key]
	return value, ok
}

// Keys returns the record's keys in insertion order.
func (r *Record) Keys() []string {
	return r.keys
}

// MarshalJSON emits the record as a JSON object preserving key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// formatCell renders one value for table and CSV output. Nil becomes the
// empty string; numbers keep their API representation.
func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
