package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// setupTestStores opens one store per driver and closes them on cleanup.
func setupTestStores(t *testing.T) map[string]Store {
	t.Helper()
	logger := log.NewTestLogger()

	badgerStore := NewBadgerStore(logger)
	require.NoError(t, badgerStore.Open(""))

	sqliteStore := NewSQLiteStore(logger)
	require.NoError(t, sqliteStore.Open(filepath.Join(t.TempDir(), "master.db")))

	stores := map[string]Store{
		DriverMemory: NewMemoryStore(),
		DriverBadger: badgerStore,
		DriverSQLite: sqliteStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func newTestUnit(id, name string) *types.BuildUnit {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &types.BuildUnit{
		ID:        id,
		Name:      name,
		BuildUser: name,
		BuildDir:  "/build/" + name,
		SourceURL: "https://github.com/bloomberg/chef-bcpc",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	for driver, s := range setupTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			unit := newTestUnit("4f8a6c2e-0b5d-4f61-9a2e-6d2b1f3c7a10", "bcpc-crud")
			require.NoError(t, s.Create(ctx, unit))

			got, err := s.Get(ctx, unit.ID)
			require.NoError(t, err)
			assert.True(t, unit.Equal(got))
			assert.True(t, unit.CreatedAt.Equal(got.CreatedAt))

			byName, err := s.GetByName(ctx, "bcpc-crud")
			require.NoError(t, err)
			assert.Equal(t, unit.ID, byName.ID)

			unit.BuildState = types.StateProvisioning
			unit.Description = "retry"
			require.NoError(t, s.Update(ctx, unit))

			got, err = s.Get(ctx, unit.ID)
			require.NoError(t, err)
			assert.Equal(t, types.StateProvisioning, got.BuildState)
			assert.Equal(t, "retry", got.Description)

			history, err := s.History(ctx, unit.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, types.StateProvisioning, history[0].Unit.BuildState)
			assert.Equal(t, types.StateNone, history[1].Unit.BuildState)

			units, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, units, 1)

			require.NoError(t, s.Delete(ctx, unit.ID))
			_, err = s.Get(ctx, unit.ID)
			assert.True(t, IsNotFoundError(err))
			_, err = s.GetByName(ctx, unit.Name)
			assert.True(t, IsNotFoundError(err))
			assert.True(t, IsNotFoundError(s.Delete(ctx, unit.ID)))
		})
	}
}

func TestStore_DuplicateName(t *testing.T) {
	ctx := context.Background()
	for driver, s := range setupTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			first := newTestUnit("0d9f3b52-8c34-4a8e-b7a1-1f0a2c3d4e51", "tag.1")
			second := newTestUnit("9e1c7a44-2b6f-4d3a-8f5e-7c6b5a4d3e21", "tag.1")

			require.NoError(t, s.Create(ctx, first))
			err := s.Create(ctx, second)
			require.Error(t, err)
			assert.True(t, IsNameConflictError(err))

			_, err = s.Get(ctx, second.ID)
			assert.True(t, IsNotFoundError(err), "a rejected create must not leave a record behind")
		})
	}
}

func TestStore_UpdateRenameConflict(t *testing.T) {
	ctx := context.Background()
	for driver, s := range setupTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			a := newTestUnit("11111111-1111-4111-8111-111111111111", "a")
			b := newTestUnit("22222222-2222-4222-8222-222222222222", "b")
			require.NoError(t, s.Create(ctx, a))
			require.NoError(t, s.Create(ctx, b))

			b.Name = "a"
			assert.True(t, IsNameConflictError(s.Update(ctx, b)))

			b.Name = "c"
			require.NoError(t, s.Update(ctx, b))
			got, err := s.GetByName(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, b.ID, got.ID)
			_, err = s.GetByName(ctx, "b")
			assert.True(t, IsNotFoundError(err))
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	ctx := context.Background()
	for driver, s := range setupTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			err := s.Update(ctx, newTestUnit("33333333-3333-4333-8333-333333333333", "ghost"))
			assert.True(t, IsNotFoundError(err))
		})
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New("postgres", nil)
	assert.Error(t, err)

	s, err := New("", nil)
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
}
