package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/skim/internal/db"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/summary"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "change stream closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func requireQuiet(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

// storeFactories runs a test against both implementations.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			m := NewMemory()
			t.Cleanup(func() { m.Close() })
			return m
		},
		"sql": func(t *testing.T) Store {
			dir := t.TempDir()
			database, err := db.Init(dir)
			require.NoError(t, err)
			s, err := NewSQLStore(context.Background(), database, dir, nil)
			require.NoError(t, err)
			t.Cleanup(func() {
				s.Close()
				database.Close()
			})
			return s
		},
	}
}

func TestStore_GetSetRemove(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Set(ctx, Values{
				KeyEnabled:    json.RawMessage(`false`),
				KeyCredential: json.RawMessage(`"sk-abc"`),
			}))

			got, err := s.Get(ctx, KeyEnabled, KeyCredential, KeySummaries)
			require.NoError(t, err)
			require.JSONEq(t, `false`, string(got[KeyEnabled]))
			require.JSONEq(t, `"sk-abc"`, string(got[KeyCredential]))
			require.NotContains(t, got, KeySummaries)

			require.NoError(t, s.Remove(ctx, KeyCredential))
			got, err = s.Get(ctx, KeyCredential)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestStore_ChangesFanOut(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			ch1, cancel1 := s.Subscribe()
			defer cancel1()
			ch2, cancel2 := s.Subscribe()
			defer cancel2()

			require.NoError(t, s.Set(ctx, Values{KeyEnabled: json.RawMessage(`true`)}))

			for _, ch := range []<-chan Change{ch1, ch2} {
				c := recv(t, ch)
				require.Equal(t, KeyEnabled, c.Key)
				require.Nil(t, c.OldValue)
				require.JSONEq(t, `true`, string(c.NewValue))
			}

			require.NoError(t, s.Set(ctx, Values{KeyEnabled: json.RawMessage(`false`)}))
			c := recv(t, ch1)
			require.JSONEq(t, `true`, string(c.OldValue))
			require.JSONEq(t, `false`, string(c.NewValue))
			recv(t, ch2)

			require.NoError(t, s.Remove(ctx, KeyEnabled))
			c = recv(t, ch1)
			require.Equal(t, KeyEnabled, c.Key)
			require.Nil(t, c.NewValue)
		})
	}
}

func TestStore_NoChangeForIdenticalWrite(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, SetEnabled(ctx, s, false))

			ch, cancel := s.Subscribe()
			defer cancel()

			require.NoError(t, SetEnabled(ctx, s, false))
			require.NoError(t, s.Remove(ctx, KeyCredential))
			requireQuiet(t, ch)

			enabled, err := Enabled(ctx, s)
			require.NoError(t, err)
			require.False(t, enabled)
		})
	}
}

func TestStore_SlowSubscriberDoesNotBlockWriter(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		require.NoError(t, s.Set(ctx, Values{"n": json.RawMessage(fmt.Sprintf("%d", i))}))
	}
	for i := 0; i < 200; i++ {
		c := recv(t, ch)
		require.Equal(t, fmt.Sprintf("%d", i), string(c.NewValue))
	}
}

func TestStore_UnsubscribeClosesStream(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	ch, cancel := s.Subscribe()
	require.NoError(t, s.Set(context.Background(), Values{"k": json.RawMessage(`1`)}))
	cancel()
	cancel()

	// Pending changes may or may not be drained; the stream must end.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after unsubscribe")
		}
	}
}

func TestStore_RejectsInvalidJSON(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	err := s.Set(context.Background(), Values{KeyEnabled: json.RawMessage(`{nope`)})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestMemory_FailNext(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	s.FailNext(OpSet, fmt.Errorf("quota exceeded"))
	err := SetEnabled(ctx, s, false)
	require.True(t, errors.Is(err, errors.ErrStore))

	// Failure is one-shot and the failed write did not apply
	enabled, err := Enabled(ctx, s)
	require.NoError(t, err)
	require.True(t, enabled)
	require.NoError(t, SetEnabled(ctx, s, false))
	require.Equal(t, 2, s.Calls(OpSet))

	s.FailNext(OpGet, fmt.Errorf("unavailable"))
	_, err = Summaries(ctx, s)
	require.True(t, errors.Is(err, errors.ErrStore))
}

func TestSQLStore_RefreshSeesOtherProcess(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dbA, err := db.Init(dir)
	require.NoError(t, err)
	defer dbA.Close()
	dbB, err := db.Init(dir)
	require.NoError(t, err)
	defer dbB.Close()

	a, err := NewSQLStore(ctx, dbA, dir, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLStore(ctx, dbB, dir, nil)
	require.NoError(t, err)
	defer b.Close()

	ch, cancel := a.Subscribe()
	defer cancel()

	require.NoError(t, SetCredential(ctx, b, "sk-from-b"))
	require.NoError(t, a.Refresh(ctx))

	c := recv(t, ch)
	require.Equal(t, KeyCredential, c.Key)
	require.JSONEq(t, `"sk-from-b"`, string(c.NewValue))

	// A second refresh has nothing new to report
	require.NoError(t, a.Refresh(ctx))
	requireQuiet(t, ch)
}

func TestSQLStore_OwnWritesReportedOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := db.Init(dir)
	require.NoError(t, err)
	defer database.Close()

	s, err := NewSQLStore(ctx, database, dir, nil)
	require.NoError(t, err)
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, SetEnabled(ctx, s, false))
	recv(t, ch)
	require.NoError(t, s.Refresh(ctx))
	requireQuiet(t, ch)
}

func TestSQLStore_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()

	dbA, err := db.Init(dir)
	require.NoError(t, err)
	defer dbA.Close()
	dbB, err := db.Init(dir)
	require.NoError(t, err)
	defer dbB.Close()

	a, err := NewSQLStore(ctx, dbA, dir, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLStore(ctx, dbB, dir, nil)
	require.NoError(t, err)
	defer b.Close()

	ch, unsubscribe := a.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()
	// Let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, SetEnabled(context.Background(), b, false))

	c := recv(t, ch)
	require.Equal(t, KeyEnabled, c.Key)
	require.JSONEq(t, `false`, string(c.NewValue))

	cancel()
	require.NoError(t, <-done)
}

func TestTyped_Defaults(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	enabled, err := Enabled(ctx, s)
	require.NoError(t, err)
	require.True(t, enabled, "absent toggle reads as enabled")

	_, ok, err := Credential(ctx, s)
	require.NoError(t, err)
	require.False(t, ok)

	c, err := Summaries(ctx, s)
	require.NoError(t, err)
	require.Empty(t, c)

	before := s.Calls(OpGet)
	snap, err := ReadSnapshot(ctx, s)
	require.NoError(t, err)
	require.True(t, snap.Enabled)
	require.False(t, snap.HasCredential)
	require.Empty(t, snap.Summaries)
	require.Equal(t, before+1, s.Calls(OpGet), "snapshot is one batch read")
}

func TestTyped_Credential(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	err := SetCredential(ctx, s, "   ")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	require.Equal(t, 0, s.Calls(OpSet))

	require.NoError(t, SetCredential(ctx, s, "  sk-secret-1234 "))
	cred, ok, err := Credential(ctx, s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sk-secret-1234", cred)

	require.NoError(t, RemoveCredential(ctx, s))
	_, ok, err = Credential(ctx, s)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTyped_Summaries(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	item, err := summary.New("text", "https://example.com", "Example", time.Now())
	require.NoError(t, err)
	require.NoError(t, PutSummaries(ctx, s, summary.Collection{item}))

	got, err := Summaries(ctx, s)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, item.ID, got[0].ID)

	require.NoError(t, s.Set(ctx, Values{KeySummaries: json.RawMessage(`{"not":"a list"}`)}))
	_, err = Summaries(ctx, s)
	require.True(t, errors.Is(err, errors.ErrStore))
}

func TestMaskCredential(t *testing.T) {
	require.Equal(t, "****", MaskCredential("abc"))
	require.Equal(t, "****", MaskCredential("abcd"))
	require.Equal(t, "****6789", MaskCredential("sk-123456789"))
}
