package telemetry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheImpls(t *testing.T, capacity int) map[string]EventCache {
	t.Helper()
	mem, err := NewMemoryCache(capacity)
	require.NoError(t, err)

	sq, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "events.db"), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]EventCache{"memory": mem, "sqlite": sq}
}

func commands(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Properties.Command)
	}
	return out
}

func TestEventCache_AppendGetClear(t *testing.T) {
	for name, c := range cacheImpls(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, c.AppendEvents(ctx, []Event{event("a"), event("b")}))
			require.NoError(t, c.AppendEvents(ctx, []Event{event("c")}))

			got, err := c.GetEvents(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, commands(got))
			assert.Equal(t, event("a"), got[0])

			n, err := c.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			require.NoError(t, c.ClearEvents(ctx))
			got, err = c.GetEvents(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestEventCache_EvictsOldest(t *testing.T) {
	for name, c := range cacheImpls(t, 3) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, c.AppendEvents(ctx, []Event{event("a"), event("b")}))
			require.NoError(t, c.AppendEvents(ctx, []Event{event("c"), event("d"), event("e")}))

			got, err := c.GetEvents(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d", "e"}, commands(got))
		})
	}
}

func TestEventCache_ConcurrentAppends(t *testing.T) {
	for name, c := range cacheImpls(t, 1000) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, c.AppendEvents(ctx, []Event{event(fmt.Sprintf("cmd-%d", i))}))
				}(i)
			}
			wg.Wait()

			n, err := c.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 10, n)
		})
	}
}

func TestNewMemoryCache_InvalidCapacity(t *testing.T) {
	_, err := NewMemoryCache(0)
	assert.Error(t, err)
}

func TestSQLiteCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	ctx := context.Background()

	c, err := OpenSQLiteCache(path, 10)
	require.NoError(t, err)
	require.NoError(t, c.AppendEvents(ctx, []Event{event("find")}))
	require.NoError(t, c.Close())

	c, err = OpenSQLiteCache(path, 10)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Event{event("find")}, got)
}

func TestOpenSQLiteCache_Errors(t *testing.T) {
	_, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "events.db"), 0)
	assert.Error(t, err)
}

func TestMustMemoryCache(t *testing.T) {
	assert.NotNil(t, mustMemoryCache(1))
	assert.Panics(t, func() { mustMemoryCache(0) })
}
