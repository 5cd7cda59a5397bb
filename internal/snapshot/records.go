package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one row of a downloaded snapshot.
type Record map[string]interface{}

// DecodeRecords parses a snapshot download. It accepts a JSON array or
// newline-delimited objects, and drops the error rows that include_errors adds.
func DecodeRecords(raw json.RawMessage) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decode snapshot array: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		for dec.More() {
			var row json.RawMessage
			if err := dec.Decode(&row); err != nil {
				return nil, fmt.Errorf("decode snapshot row: %w", err)
			}
			raws = append(raws, row)
		}
	}

	// rows that are not objects (warnings, bare strings) are skipped
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var row Record
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		if row == nil || row.isError() {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r Record) isError() bool {
	if _, ok := r["error"]; ok {
		return true
	}
	_, ok := r["error_code"]
	return ok
}

// String returns the field as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the field as an int. Numeric strings are accepted; anything else is 0.
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
