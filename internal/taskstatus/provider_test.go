package taskstatus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digwatch/internal/objectstore"
	"digwatch/internal/taskstatus"
)

func TestNormalize(t *testing.T) {
	tests := map[string]struct {
		raw string
		exp taskstatus.Status
	}{
		"running":      {raw: "running", exp: taskstatus.StatusRunning},
		"in progress":  {raw: " IN_PROGRESS ", exp: taskstatus.StatusRunning},
		"completed":    {raw: "completed", exp: taskstatus.StatusCompleted},
		"done":         {raw: "Done", exp: taskstatus.StatusCompleted},
		"other passes": {raw: "Failed", exp: taskstatus.Status("failed")},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, taskstatus.Normalize(test.raw))
		})
	}
}

func TestStatic(t *testing.T) {
	s := taskstatus.NewStatic()
	s.Set("T1", taskstatus.StatusRunning)

	st, ok, err := s.Status(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, taskstatus.StatusRunning, st)

	s.Set(" T2 ", "Done")
	st, ok, err = s.Status(context.Background(), "T2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, taskstatus.StatusCompleted, st)

	s.Delete("T1")
	_, ok, err = s.Status(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChain(t *testing.T) {
	boom := errors.New("registry down")
	failing := taskstatus.ProviderFunc(func(context.Context, string) (taskstatus.Status, bool, error) {
		return "", false, boom
	})
	unknown := taskstatus.ProviderFunc(func(context.Context, string) (taskstatus.Status, bool, error) {
		return "", false, nil
	})
	completed := taskstatus.ProviderFunc(func(context.Context, string) (taskstatus.Status, bool, error) {
		return taskstatus.StatusCompleted, true, nil
	})

	tests := map[string]struct {
		chain     taskstatus.Chain
		expStatus taskstatus.Status
		expOK     bool
		expErr    error
	}{
		"first answer wins after a failure": {
			chain:     taskstatus.Chain{failing, unknown, completed},
			expStatus: taskstatus.StatusCompleted,
			expOK:     true,
		},
		"nobody knows": {
			chain: taskstatus.Chain{unknown, nil},
		},
		"only failures surface the error": {
			chain:  taskstatus.Chain{failing, unknown},
			expErr: boom,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			st, ok, err := test.chain.Status(context.Background(), "T1")
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, test.expOK, ok)
			assert.Equal(t, test.expStatus, st)
		})
	}
}

func TestDefinitionLoader(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	require.NoError(t, store.Put(objectstore.TaskDefinitionKey("T1"),
		[]byte(`{"id":"T1","status":"processing","grid_rows":3,"grid_cols":4}`), time.Now()))

	loader, err := taskstatus.NewDefinitionLoader(store, time.Minute)
	require.NoError(t, err)

	st, ok, err := loader.Status(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, taskstatus.StatusRunning, st)

	rows, cols, ok, err := loader.Grid(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)

	assert.Equal(t, 1, store.Fetches(objectstore.TaskDefinitionKey("T1")), "definition is cached")

	_, ok, err = loader.Status(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, _ = loader.Load(ctx, "missing")
	assert.Equal(t, 1, store.Fetches(objectstore.TaskDefinitionKey("missing")), "misses are cached too")
}

func TestDefinitionLoaderSeesUpdatesThroughCachedStore(t *testing.T) {
	ctx := context.Background()
	origin := objectstore.NewMemoryStore()
	key := objectstore.TaskDefinitionKey("T1")
	require.NoError(t, origin.Put(key, []byte(`{"status":"running","grid_rows":2,"grid_cols":2}`), time.Now()))

	cached, err := objectstore.NewCachedStore(origin, 16)
	require.NoError(t, err)
	loader, err := taskstatus.NewDefinitionLoader(cached, time.Millisecond)
	require.NoError(t, err)

	st, _, err := loader.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, taskstatus.StatusRunning, st)

	require.NoError(t, origin.Put(key, []byte(`{"status":"completed","grid_rows":6,"grid_cols":6}`), time.Now()))
	time.Sleep(10 * time.Millisecond)

	st, _, err = loader.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, taskstatus.StatusCompleted, st)
	rows, cols, ok, err := loader.Grid(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, rows)
	assert.Equal(t, 6, cols)
}

func TestDefinitionLoaderErrors(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	require.NoError(t, store.Put(objectstore.TaskDefinitionKey("bad"), []byte(`{`), time.Now()))
	store.FailWith(objectstore.TaskDefinitionKey("flaky"), errors.New("reset"))

	loader, err := taskstatus.NewDefinitionLoader(store, time.Minute)
	require.NoError(t, err)

	_, _, err = loader.Load(ctx, "bad")
	assert.Error(t, err)

	_, ok, err := loader.Status(ctx, "flaky")
	assert.Error(t, err)
	assert.False(t, ok)

	_, _, ok, err = loader.Grid(ctx, "flaky")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDefinitionLoaderWithoutGrid(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	require.NoError(t, store.Put(objectstore.TaskDefinitionKey("T9"), []byte(`{"status":""}`), time.Now()))

	loader, err := taskstatus.NewDefinitionLoader(store, time.Minute)
	require.NoError(t, err)

	_, _, ok, err := loader.Grid(ctx, "T9")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = loader.Status(ctx, "T9")
	require.NoError(t, err)
	assert.False(t, ok, "empty status is not an answer")
}
