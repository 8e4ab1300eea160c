package repos

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcpc-build/bcpc-build/pkg/store"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

func newUnit(name string) *types.BuildUnit {
	return &types.BuildUnit{
		Name:      name,
		BuildUser: name,
		BuildDir:  "/build/" + name,
		SourceURL: "https://github.com/bloomberg/chef-bcpc",
	}
}

func TestBuildUnitRepo_CreateAssignsIdentity(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	ctx := context.Background()

	u := newUnit("bcpc-0a1b2c3d")
	require.NoError(t, repo.Create(ctx, u))

	_, err := uuid.Parse(u.ID)
	assert.NoError(t, err)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Equal(t, u.CreatedAt, u.UpdatedAt)
	assert.Equal(t, types.StateNone, u.BuildState)
}

func TestBuildUnitRepo_DuplicateName(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUnit("tag.1")))
	err := repo.Create(ctx, newUnit("tag.1"))

	var dup *types.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "tag.1", dup.Name)
}

func TestBuildUnitRepo_FindByIDOrName(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	ctx := context.Background()

	u := newUnit("bcpc-find")
	require.NoError(t, repo.Create(ctx, u))

	byID, err := repo.FindByIDOrName(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, u.Equal(byID))

	byName, err := repo.FindByIDOrName(ctx, "bcpc-find")
	require.NoError(t, err)
	assert.True(t, u.Equal(byName))

	_, err = repo.FindByIDOrName(ctx, "nope")
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Token)

	_, err = repo.FindByIDOrName(ctx, uuid.NewString())
	assert.True(t, types.IsNotFound(err))
}

func TestBuildUnitRepo_FindByIDOrName_UUIDShapedName(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	ctx := context.Background()

	name := uuid.NewString()
	u := newUnit(name)
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.FindByIDOrName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestBuildUnitRepo_SetState(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	ctx := context.Background()

	u := newUnit("bcpc-state")
	require.NoError(t, repo.Create(ctx, u))
	before := u.UpdatedAt

	require.NoError(t, repo.SetState(ctx, u, types.StateProvisioning))
	assert.Equal(t, types.StateProvisioning, u.BuildState)
	assert.False(t, u.UpdatedAt.Before(before))

	stored, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateProvisioning, stored.BuildState)

	err = repo.SetState(ctx, u, types.BuildState("melted"))
	assert.True(t, types.IsValidationError(err))
	assert.Equal(t, types.StateProvisioning, u.BuildState, "rejected state must not leak into the unit")
}

func TestBuildUnitRepo_SetStateMissingUnit(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	u := newUnit("ghost")
	u.ID = uuid.NewString()

	err := repo.SetState(context.Background(), u, types.StateDone)
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, types.StateNone, u.BuildState)
}

func TestBuildUnitRepo_ListOrdered(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	ctx := context.Background()

	for _, n := range []string{"tag.3", "tag.10", "tag.2"} {
		require.NoError(t, repo.Create(ctx, newUnit(n)))
	}

	units, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "tag.2", units[0].Name)
	assert.Equal(t, "tag.3", units[1].Name)
	assert.Equal(t, "tag.10", units[2].Name)
}

func TestBuildUnitRepo_DumpRestore(t *testing.T) {
	ctx := context.Background()
	src := NewBuildUnitRepo(store.NewMemoryStore())
	for _, n := range []string{"tag.1", "tag.2"} {
		u := newUnit(n)
		require.NoError(t, src.Create(ctx, u))
		require.NoError(t, src.SetState(ctx, u, types.StateDone))
	}

	var buf bytes.Buffer
	n, err := src.Dump(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := NewBuildUnitRepo(store.NewMemoryStore())
	n, err = dst.Restore(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want, err := src.List(ctx)
	require.NoError(t, err)
	got, err := dst.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "unit %s differs after restore", want[i].Name)
	}

	// restoring again replaces in place
	n, err = dst.Restore(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBuildUnitRepo_DeleteMissing(t *testing.T) {
	repo := NewBuildUnitRepo(store.NewMemoryStore())
	assert.True(t, types.IsNotFound(repo.Delete(context.Background(), uuid.NewString())))
}
