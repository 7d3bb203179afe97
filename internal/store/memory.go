package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hpungsan/skim/internal/errors"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)

// Memory is an in-memory Store with the same change semantics as SQLStore.
// It is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  map[Op]error
	calls map[Op]int
	bc    *broadcaster
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string][]byte),
		fail:  make(map[Op]error),
		calls: make(map[Op]int),
		bc:    newBroadcaster(),
	}
}

// FailNext makes the next call of op fail with a STORE_ERROR wrapping err.
func (m *Memory) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

// Calls returns how many times op has been invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// takeFailure must be called with m.mu held.
func (m *Memory) takeFailure(op Op) error {
	m.calls[op]++
	err, ok := m.fail[op]
	if !ok {
		return nil
	}
	delete(m.fail, op)
	return errors.NewStore(string(op), err)
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, keys ...string) (Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStore(string(OpGet), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(OpGet); err != nil {
		return nil, err
	}
	out := make(Values, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, values Values) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStore(string(OpSet), err)
	}
	if err := validate(values); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(OpSet); err != nil {
		return err
	}

	before := make(map[string][]byte, len(values))
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
		if v, ok := m.data[k]; ok {
			before[k] = v
		}
	}
	after := toBytes(values)
	for k, v := range after {
		m.data[k] = append([]byte(nil), v...)
	}
	m.bc.publish(diff(before, after, keys))
	return nil
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStore(string(OpRemove), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(OpRemove); err != nil {
		return err
	}

	before := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			before[k] = v
			delete(m.data, k)
		}
	}
	m.bc.publish(diff(before, nil, append([]string(nil), keys...)))
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe() (<-chan Change, func()) {
	return m.bc.subscribe()
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.bc.closeAll()
	return nil
}

// validate rejects values that are not valid JSON.
func validate(values Values) error {
	for k, v := range values {
		if k == "" {
			return errors.NewInvalidRequest("store key must not be empty")
		}
		if !json.Valid(v) {
			return errors.NewInvalidRequest(fmt.Sprintf("value for %q is not valid JSON", k))
		}
	}
	return nil
}
