package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// Validate that BadgerStore implements the Store interface
var _ Store = &BadgerStore{}

// BadgerStore implements the Store interface using BadgerDB. Each unit is a
// JSON document under its id key with a name index entry pointing back to
// the id; both are written in one transaction.
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger log.Logger
}

// NewBadgerStore creates a new BadgerDB-backed store.
func NewBadgerStore(logger log.Logger) *BadgerStore {
	return &BadgerStore{
		logger: log.OrDefault(logger).WithComponent("store"),
	}
}

// Open opens the BadgerDB database in directory path. An empty path opens
// an in-memory database.
func (s *BadgerStore) Open(path string) error {
	s.path = path

	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = log.Printf(s.logger, "badger: ")

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open badger db: %w", err)
	}
	s.db = db

	s.logger.Debug("Store opened", log.Str("driver", DriverBadger), log.Str("path", path))
	return nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("Closing store", log.Str("path", s.path))
	err := s.db.Close()
	s.db = nil
	return err
}

// Create stores a new unit and its name index entry.
func (s *BadgerStore) Create(ctx context.Context, unit *types.BuildUnit) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to serialize build unit: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if _, err := txn.Get(MakeNameKey(unit.Name)); err == nil {
		return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to check name index: %w", err)
	}
	if _, err := txn.Get(MakeIDKey(unit.ID)); err == nil {
		return fmt.Errorf("build unit %s already exists", unit.ID)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to check existing build unit: %w", err)
	}

	if err := txn.Set(MakeIDKey(unit.ID), data); err != nil {
		return fmt.Errorf("failed to store build unit: %w", err)
	}
	if err := txn.Set(MakeNameKey(unit.Name), []byte(unit.ID)); err != nil {
		return fmt.Errorf("failed to store name index: %w", err)
	}
	if err := s.setVersion(txn, unit); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		// a concurrent writer claimed the same name key first
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get retrieves a unit by id.
func (s *BadgerStore) Get(ctx context.Context, id string) (*types.BuildUnit, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return getUnit(txn, id)
}

// GetByName resolves the name index and retrieves the unit.
func (s *BadgerStore) GetByName(ctx context.Context, name string) (*types.BuildUnit, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(MakeNameKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read name index: %w", err)
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read name index: %w", err)
	}
	return getUnit(txn, string(id))
}

// Update replaces an existing unit. A changed name moves the index entry.
func (s *BadgerStore) Update(ctx context.Context, unit *types.BuildUnit) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to serialize build unit: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	current, err := getUnit(txn, unit.ID)
	if err != nil {
		return err
	}
	if current.Name != unit.Name {
		if _, err := txn.Get(MakeNameKey(unit.Name)); err == nil {
			return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
		}
		if err := txn.Delete(MakeNameKey(current.Name)); err != nil {
			return fmt.Errorf("failed to drop name index: %w", err)
		}
		if err := txn.Set(MakeNameKey(unit.Name), []byte(unit.ID)); err != nil {
			return fmt.Errorf("failed to store name index: %w", err)
		}
	}

	if err := txn.Set(MakeIDKey(unit.ID), data); err != nil {
		return fmt.Errorf("failed to store build unit: %w", err)
	}
	if err := s.setVersion(txn, unit); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes a unit, its name index entry and its history.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	current, err := getUnit(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(MakeIDKey(id)); err != nil {
		return fmt.Errorf("failed to delete build unit: %w", err)
	}
	if err := txn.Delete(MakeNameKey(current.Name)); err != nil {
		return fmt.Errorf("failed to delete name index: %w", err)
	}

	var versionKeys [][]byte
	prefix := MakeVersionPrefix(id)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		versionKeys = append(versionKeys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range versionKeys {
		if err := txn.Delete(k); err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns every stored unit.
func (s *BadgerStore) List(ctx context.Context) ([]*types.BuildUnit, error) {
	var units []*types.BuildUnit
	prefix := MakeIDPrefix()

	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			var unit types.BuildUnit
			if err := json.Unmarshal(val, &unit); err != nil {
				return fmt.Errorf("failed to deserialize build unit: %w", err)
			}
			units = append(units, &unit)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("Listed build units", log.Int("count", len(units)))
	return units, nil
}

// History returns the recorded snapshots of a unit, newest first.
func (s *BadgerStore) History(ctx context.Context, id string) ([]HistoricalVersion, error) {
	var versions []HistoricalVersion
	prefix := MakeVersionPrefix(id)

	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			var v HistoricalVersion
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("failed to deserialize version: %w", err)
			}
			versions = append(versions, v)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return versions, nil
}

func (s *BadgerStore) setVersion(txn *badger.Txn, unit *types.BuildUnit) error {
	now := time.Now()
	v := HistoricalVersion{
		Version:   newVersionID(now),
		Timestamp: now,
		Unit:      unit,
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize version: %w", err)
	}
	if err := txn.Set(MakeVersionKey(unit.ID, v.Version), data); err != nil {
		return fmt.Errorf("failed to store version: %w", err)
	}
	return nil
}

func getUnit(txn *badger.Txn, id string) (*types.BuildUnit, error) {
	item, err := txn.Get(MakeIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get build unit: %w", err)
	}

	var unit types.BuildUnit
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &unit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize build unit: %w", err)
	}
	return &unit, nil
}
