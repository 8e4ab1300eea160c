package repos

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/bcpc-build/bcpc-build/pkg/store"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// BuildUnitRepo layers identity, uniqueness and state rules over a Store.
type BuildUnitRepo struct {
	st  store.Store
	now func() time.Time
}

func NewBuildUnitRepo(st store.Store) *BuildUnitRepo {
	return &BuildUnitRepo{st: st, now: time.Now}
}

// Create assigns an id and timestamps when missing and persists the unit.
// A taken name yields *types.DuplicateNameError.
func (r *BuildUnitRepo) Create(ctx context.Context, u *types.BuildUnit) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if err := u.Validate(); err != nil {
		return err
	}
	if err := r.st.Create(ctx, u); err != nil {
		if store.IsNameConflictError(err) {
			return &types.DuplicateNameError{Name: u.Name}
		}
		return err
	}
	return nil
}

func (r *BuildUnitRepo) Get(ctx context.Context, id string) (*types.BuildUnit, error) {
	u, err := r.st.Get(ctx, id)
	if store.IsNotFoundError(err) {
		return nil, &types.NotFoundError{Token: id}
	}
	return u, err
}

func (r *BuildUnitRepo) GetByName(ctx context.Context, name string) (*types.BuildUnit, error) {
	u, err := r.st.GetByName(ctx, name)
	if store.IsNotFoundError(err) {
		return nil, &types.NotFoundError{Token: name}
	}
	return u, err
}

// Exists reports whether a unit with the given name is persisted.
func (r *BuildUnitRepo) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.GetByName(ctx, name)
	if types.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// FindByIDOrName tries an id lookup when token parses as a UUID, then falls
// back to a name lookup.
func (r *BuildUnitRepo) FindByIDOrName(ctx context.Context, token string) (*types.BuildUnit, error) {
	if _, err := uuid.Parse(token); err == nil {
		u, err := r.st.Get(ctx, token)
		if err == nil {
			return u, nil
		}
		if !store.IsNotFoundError(err) {
			return nil, err
		}
	}
	u, err := r.st.GetByName(ctx, token)
	if store.IsNotFoundError(err) {
		return nil, &types.NotFoundError{Token: token}
	}
	return u, err
}

// List returns all units in display order.
func (r *BuildUnitRepo) List(ctx context.Context) ([]*types.BuildUnit, error) {
	units, err := r.st.List(ctx)
	if err != nil {
		return nil, err
	}
	types.SortBuildUnits(units)
	return units, nil
}

// Update persists non-state changes and refreshes updated_at.
func (r *BuildUnitRepo) Update(ctx context.Context, u *types.BuildUnit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	u.UpdatedAt = r.now().UTC()
	err := r.st.Update(ctx, u)
	switch {
	case store.IsNotFoundError(err):
		return &types.NotFoundError{Token: u.ID}
	case store.IsNameConflictError(err):
		return &types.DuplicateNameError{Name: u.Name}
	}
	return err
}

// SetState is the single entry point for state changes. The in-memory unit
// is only modified once the new state is persisted.
func (r *BuildUnitRepo) SetState(ctx context.Context, u *types.BuildUnit, state types.BuildState) error {
	if !state.Valid() {
		return types.NewValidationError(fmt.Sprintf("invalid build state %q", state))
	}
	next := u.Clone()
	next.BuildState = state
	if err := r.Update(ctx, next); err != nil {
		return fmt.Errorf("failed to set state %s on %s: %w", state, u.Name, err)
	}
	*u = *next
	return nil
}

func (r *BuildUnitRepo) Delete(ctx context.Context, id string) error {
	err := r.st.Delete(ctx, id)
	if store.IsNotFoundError(err) {
		return &types.NotFoundError{Token: id}
	}
	return err
}

func (r *BuildUnitRepo) History(ctx context.Context, id string) ([]store.HistoricalVersion, error) {
	return r.st.History(ctx, id)
}

// Dump writes every unit as one JSON document per line.
func (r *BuildUnitRepo) Dump(ctx context.Context, w io.Writer) (int, error) {
	units, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for i, u := range units {
		if err := enc.Encode(u); err != nil {
			return i, fmt.Errorf("failed to write %s: %w", u.Name, err)
		}
	}
	return len(units), nil
}

// Restore reads units written by Dump. Units whose id already exists are
// replaced; new ones are created with their original ids and timestamps.
func (r *BuildUnitRepo) Restore(ctx context.Context, rd io.Reader) (int, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var u types.BuildUnit
		if err := json.Unmarshal(line, &u); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		if err := u.Validate(); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		if _, err := r.st.Get(ctx, u.ID); err == nil {
			err = r.st.Update(ctx, &u)
			if err != nil {
				return n, err
			}
		} else if store.IsNotFoundError(err) {
			if err := r.st.Create(ctx, &u); err != nil {
				if store.IsNameConflictError(err) {
					return n, &types.DuplicateNameError{Name: u.Name}
				}
				return n, err
			}
		} else {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}
