package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// extractRecords locates the record list in a response body.
//
// An empty path means the body itself is the list. Otherwise the list
// lives under the named top-level field; an absent or null field yields
// zero records (benign, ends pagination gracefully), while a missing or
// unparseable body is an error.
func extractRecords(body []byte, path string) ([]Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	if path == "" {
		var records []Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("parse record list: %w", err)
		}
		return records, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse response body: %w", err)
	}

	raw, ok := envelope[path]
	if !ok || string(raw) == "null" {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %q records: %w", path, err)
	}
	return records, nil
}
