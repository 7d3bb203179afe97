// Package store is the persisted key/value store shared by every skim context.
//
// Values are raw JSON. Every committed change is fanned out to all
// subscribers of the store that observed it, including changes made by
// other processes when an SQLStore is watching the database directory.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
)

// Persisted keys.
const (
	KeyEnabled    = "enabled"
	KeyCredential = "credential"
	KeySummaries  = "summaries"
)

// Values maps keys to raw JSON values.
type Values map[string]json.RawMessage

// Change describes one committed key change. A nil value means absent.
type Change struct {
	Key      string          `json:"key"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

// Store is the persisted store contract.
//
// Set writes all keys of one call in one transaction. There is no atomicity
// across separate calls. Failures are STORE_ERROR.
type Store interface {
	Get(ctx context.Context, keys ...string) (Values, error)
	Set(ctx context.Context, values Values) error
	Remove(ctx context.Context, keys ...string) error

	// Subscribe returns a stream of changes and a function that
	// unsubscribes and closes the stream.
	Subscribe() (<-chan Change, func())
}

// diff returns the changes between before and after for keys, sorted by key.
// Keys whose bytes are equal produce no change.
func diff(before, after map[string][]byte, keys []string) []Change {
	sort.Strings(keys)
	var changes []Change
	for _, key := range keys {
		oldVal, hadOld := before[key]
		newVal, hasNew := after[key]
		if hadOld == hasNew && bytes.Equal(oldVal, newVal) {
			continue
		}
		c := Change{Key: key}
		if hadOld {
			c.OldValue = json.RawMessage(oldVal)
		}
		if hasNew {
			c.NewValue = json.RawMessage(newVal)
		}
		changes = append(changes, c)
	}
	return changes
}

// unionKeys returns the distinct keys of a and b.
func unionKeys(a, b map[string][]byte) []string {
	seen := make(map[string]bool, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []map[string][]byte{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func toBytes(values Values) map[string][]byte {
	out := make(map[string][]byte, len(values))
	for k, v := range values {
		out[k] = []byte(v)
	}
	return out
}

func toValues(raw map[string][]byte) Values {
	out := make(Values, len(raw))
	for k, v := range raw {
		out[k] = json.RawMessage(v)
	}
	return out
}
