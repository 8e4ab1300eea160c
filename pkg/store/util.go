package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/bcpc-build/bcpc-build/pkg/log"
)

const (
	tableBuildUnit = "build_unit"

	// DriverBadger selects the embedded key/value store.
	DriverBadger = "badger"
	// DriverSQLite selects the single-file SQL store.
	DriverSQLite = "sqlite"
	// DriverMemory selects a volatile in-process store.
	DriverMemory = "memory"
)

// MakeIDKey returns the key holding a unit's JSON document.
func MakeIDKey(id string) []byte {
	return []byte(fmt.Sprintf("%s/id/%s", tableBuildUnit, id))
}

// MakeNameKey returns the key of the name index entry.
func MakeNameKey(name string) []byte {
	return []byte(fmt.Sprintf("%s/name/%s", tableBuildUnit, name))
}

// MakeIDPrefix returns the prefix shared by every unit document.
func MakeIDPrefix() []byte {
	return []byte(tableBuildUnit + "/id/")
}

// MakeVersionKey returns the key of one history snapshot.
func MakeVersionKey(id, version string) []byte {
	return []byte(fmt.Sprintf("%s-versions/%s/%s", tableBuildUnit, id, version))
}

// MakeVersionPrefix returns the prefix of a unit's history.
func MakeVersionPrefix(id string) []byte {
	return []byte(fmt.Sprintf("%s-versions/%s/", tableBuildUnit, id))
}

// newVersionID returns a sortable version identifier.
func newVersionID(now time.Time) string {
	return fmt.Sprintf("v%020d", now.UnixNano())
}

// New returns an unopened store for the named driver.
func New(driver string, logger log.Logger) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverBadger, "":
		return NewBadgerStore(logger), nil
	case DriverSQLite, "sqlite3":
		return NewSQLiteStore(logger), nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
