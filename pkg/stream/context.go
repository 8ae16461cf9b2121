package stream

import (
	"fmt"
	"sort"
	"strings"
)

// Context scopes a record source run to a parent record, e.g.
// {flow_id: <id>} for task runs under one flow run. A nil Context means
// a top-level run. Contexts are transient: one per parent record,
// discarded after the dependent source finishes.
type Context map[string]any

// Key generates a deterministic partition key string for bookmark
// storage and logging. Format: key1=val1:key2=val2 (sorted by key).
// A nil or empty context yields "".
func (c Context) Key() string {
	if len(c) == 0 {
		return ""
	}

	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c[k]))
	}
	return strings.Join(parts, ":")
}
