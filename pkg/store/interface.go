// Package store persists build units. Drivers implement Store; the
// repository in store/repos layers the engine's semantics on top.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bcpc-build/bcpc-build/pkg/types"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("build unit not found")

	// ErrNameConflict is returned when a name is already taken.
	ErrNameConflict = errors.New("build unit name already in use")
)

// Store is the persistence interface for the build_unit table.
type Store interface {
	// Open opens the store at path. Drivers may treat path as a directory
	// (badger) or a file (sqlite).
	Open(path string) error

	// Close releases the store.
	Close() error

	// Create inserts a unit. The name uniqueness check and the insert happen
	// atomically; a taken name yields ErrNameConflict.
	Create(ctx context.Context, unit *types.BuildUnit) error

	// Get returns the unit with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*types.BuildUnit, error)

	// GetByName returns the unit with the given name or ErrNotFound.
	GetByName(ctx context.Context, name string) (*types.BuildUnit, error)

	// Update replaces an existing unit, keyed by id.
	Update(ctx context.Context, unit *types.BuildUnit) error

	// Delete removes the unit with the given id.
	Delete(ctx context.Context, id string) error

	// List returns every unit in no particular order.
	List(ctx context.Context) ([]*types.BuildUnit, error)

	// History returns recorded versions of a unit, newest first.
	History(ctx context.Context, id string) ([]HistoricalVersion, error)
}

// HistoricalVersion is a snapshot of a unit taken on create or update.
type HistoricalVersion struct {
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Unit      *types.BuildUnit `json:"unit"`
}

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNameConflictError reports whether err is or wraps ErrNameConflict.
func IsNameConflictError(err error) bool {
	return errors.Is(err, ErrNameConflict)
}
