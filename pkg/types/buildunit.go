package types

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// BuildUnit is one allocated build sandbox: an OS account, its directory
// tree, the checked out sources and the lifecycle state.
type BuildUnit struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id" yaml:"id"`

	// Name is unique and by convention equals BuildUser.
	Name string `json:"name" yaml:"name"`

	// BuildUser owns every file and process of the sandbox.
	BuildUser string `json:"build_user" yaml:"build_user"`

	// BuildDir is the absolute sandbox root, normally the user's home.
	BuildDir string `json:"build_dir" yaml:"build_dir"`

	// SourceURL may select a ref with a /tree/<ref> path segment.
	SourceURL string `json:"source_url" yaml:"source_url"`

	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	BuildState  BuildState `json:"build_state" yaml:"build_state"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the fields required before a unit can be persisted.
func (u *BuildUnit) Validate() error {
	if u == nil {
		return NewValidationError("build unit cannot be nil")
	}
	if u.Name == "" {
		return NewValidationError("build unit name is required")
	}
	if u.SourceURL == "" {
		return NewValidationError("build unit source_url is required")
	}
	if !u.BuildState.Valid() {
		return NewValidationError("invalid build state " + string(u.BuildState))
	}
	return nil
}

// Equal compares the externally visible attributes of two units.
// Timestamps and description are not part of identity.
func (u *BuildUnit) Equal(other *BuildUnit) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.ID == other.ID &&
		u.Name == other.Name &&
		u.SourceURL == other.SourceURL &&
		u.BuildUser == other.BuildUser &&
		u.BuildDir == other.BuildDir &&
		u.BuildState == other.BuildState
}

// Less orders units by name prefix (the text before the last '.'), then
// by numeric suffix, then by full name and build user. Within a prefix,
// suffixed names come before names without one.
func (u *BuildUnit) Less(other *BuildUnit) bool {
	ap, a, aok := splitName(u.Name)
	bp, b, bok := splitName(other.Name)
	if ap != bp {
		return ap < bp
	}
	if aok != bok {
		return aok
	}
	if a != b {
		return a < b
	}
	if u.Name != other.Name {
		return u.Name < other.Name
	}
	return u.BuildUser < other.BuildUser
}

// Clone returns a copy of u.
func (u *BuildUnit) Clone() *BuildUnit {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// splitName splits name at its last '.' when the text after it is an
// integer. Otherwise the whole name is the prefix.
func splitName(name string) (prefix string, suffix int64, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return name, 0, false
	}
	n, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return name, 0, false
	}
	return name[:i], n, true
}

// SortBuildUnits sorts units in place using BuildUnit.Less.
func SortBuildUnits(units []*BuildUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Less(units[j])
	})
}
