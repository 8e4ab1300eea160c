package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

var _ Store = &SQLiteStore{}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS build_unit (
	id          TEXT NOT NULL PRIMARY KEY,
	build_dir   TEXT,
	build_user  TEXT,
	description TEXT,
	name        TEXT NOT NULL UNIQUE,
	source_url  TEXT NOT NULL,
	build_state TEXT CHECK (build_state IN (
		'provisioned', 'provisioning', 'configuring', 'configured',
		'building', 'done', 'failed', 'failed:provision', 'failed:build')),
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS build_unit_history (
	unit_id    TEXT NOT NULL,
	version    TEXT NOT NULL,
	recorded   TEXT NOT NULL,
	document   TEXT NOT NULL,
	PRIMARY KEY (unit_id, version)
);
`

const unitColumns = `id, build_dir, build_user, description, name, source_url, build_state, created_at, updated_at`

// SQLiteStore keeps units in a build_unit table inside a single SQLite file.
// Name uniqueness is the table's UNIQUE constraint.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	path   string
	logger log.Logger
}

// NewSQLiteStore creates an unopened SQLite store.
func NewSQLiteStore(logger log.Logger) *SQLiteStore {
	return &SQLiteStore{
		logger: log.OrDefault(logger).WithComponent("store"),
	}
}

// Open opens (creating if needed) the database file at path and applies the
// schema.
func (s *SQLiteStore) Open(path string) error {
	if path == "" {
		return fmt.Errorf("sqlite store requires a database path")
	}
	s.path = path

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 2,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA busy_timeout=5000",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite db %s: %w", path, err)
	}
	s.pool = pool

	s.logger.Debug("Store opened", log.Str("driver", DriverSQLite), log.Str("path", path))
	return nil
}

// Close closes every pooled connection.
func (s *SQLiteStore) Close() error {
	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, unit *types.BuildUnit) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO build_unit (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: unitArgs(unit)})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
		}
		return fmt.Errorf("failed to insert build unit: %w", err)
	}
	return s.recordVersion(conn, unit)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.BuildUnit, error) {
	return s.queryOne(ctx, `SELECT `+unitColumns+` FROM build_unit WHERE id = ?`, id)
}

func (s *SQLiteStore) GetByName(ctx context.Context, name string) (*types.BuildUnit, error) {
	return s.queryOne(ctx, `SELECT `+unitColumns+` FROM build_unit WHERE name = ?`, name)
}

func (s *SQLiteStore) Update(ctx context.Context, unit *types.BuildUnit) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	args := unitArgs(unit)
	// id moves to the WHERE clause
	args = append(args[1:], unit.ID)
	err = sqlitex.Execute(conn,
		`UPDATE build_unit SET build_dir = ?, build_user = ?, description = ?, name = ?,
			source_url = ?, build_state = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return fmt.Errorf("%w: %s", ErrNameConflict, unit.Name)
		}
		return fmt.Errorf("failed to update build unit: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, unit.ID)
	}
	return s.recordVersion(conn, unit)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, `DELETE FROM build_unit WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("failed to delete build unit: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM build_unit_history WHERE unit_id = ?`, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*types.BuildUnit, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var units []*types.BuildUnit
	err = sqlitex.Execute(conn, `SELECT `+unitColumns+` FROM build_unit`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			u, err := scanUnit(stmt)
			if err != nil {
				return err
			}
			units = append(units, u)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list build units: %w", err)
	}
	return units, nil
}

func (s *SQLiteStore) History(ctx context.Context, id string) ([]HistoricalVersion, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var versions []HistoricalVersion
	err = sqlitex.Execute(conn,
		`SELECT document FROM build_unit_history WHERE unit_id = ? ORDER BY version DESC`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var v HistoricalVersion
				if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &v); err != nil {
					return fmt.Errorf("failed to deserialize version: %w", err)
				}
				versions = append(versions, v)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, arg string) (*types.BuildUnit, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var unit *types.BuildUnit
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			u, err := scanUnit(stmt)
			unit = u
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get build unit: %w", err)
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	return unit, nil
}

func (s *SQLiteStore) recordVersion(conn *sqlite.Conn, unit *types.BuildUnit) error {
	now := time.Now()
	v := HistoricalVersion{Version: newVersionID(now), Timestamp: now, Unit: unit}
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize version: %w", err)
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO build_unit_history (unit_id, version, recorded, document) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{unit.ID, v.Version, formatTime(now), string(doc)}})
	if err != nil {
		return fmt.Errorf("failed to store version: %w", err)
	}
	return nil
}

func unitArgs(u *types.BuildUnit) []any {
	return []any{
		u.ID,
		u.BuildDir,
		u.BuildUser,
		nullable(u.Description),
		u.Name,
		u.SourceURL,
		nullable(string(u.BuildState)),
		formatTime(u.CreatedAt),
		formatTime(u.UpdatedAt),
	}
}

func scanUnit(stmt *sqlite.Stmt) (*types.BuildUnit, error) {
	created, err := parseTime(stmt.ColumnText(7))
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(stmt.ColumnText(8))
	if err != nil {
		return nil, err
	}
	return &types.BuildUnit{
		ID:          stmt.ColumnText(0),
		BuildDir:    stmt.ColumnText(1),
		BuildUser:   stmt.ColumnText(2),
		Description: stmt.ColumnText(3),
		Name:        stmt.ColumnText(4),
		SourceURL:   stmt.ColumnText(5),
		BuildState:  types.BuildState(stmt.ColumnText(6)),
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
