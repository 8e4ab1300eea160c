package types

import (
	"fmt"
	"strings"
)

// BuildState is the persisted lifecycle state of a build unit. The string
// values are stored as-is and must stay stable.
type BuildState string

const (
	// StateNone means the unit has been allocated but population has not begun.
	StateNone            BuildState = ""
	StateProvisioning    BuildState = "provisioning"
	StateProvisioned     BuildState = "provisioned"
	StateConfiguring     BuildState = "configuring"
	StateConfigured      BuildState = "configured"
	StateBuilding        BuildState = "building"
	StateDone            BuildState = "done"
	StateFailed          BuildState = "failed"
	StateFailedProvision BuildState = "failed:provision"
	StateFailedBuild     BuildState = "failed:build"
)

// BuildStates lists every non-empty state in lifecycle order.
var BuildStates = []BuildState{
	StateProvisioning,
	StateProvisioned,
	StateConfiguring,
	StateConfigured,
	StateBuilding,
	StateDone,
	StateFailed,
	StateFailedProvision,
	StateFailedBuild,
}

// Valid reports whether s is a legal state. The empty state is legal.
func (s BuildState) Valid() bool {
	if s == StateNone {
		return true
	}
	for _, known := range BuildStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s BuildState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateFailedProvision, StateFailedBuild:
		return true
	}
	return false
}

// Failed reports whether s is one of the failure states.
func (s BuildState) Failed() bool {
	return s == StateFailed || s == StateFailedProvision || s == StateFailedBuild
}

func (s BuildState) String() string {
	return string(s)
}

// ParseBuildState parses a state name. Both the persisted form
// ("failed:build") and the underscore form ("failed_build") are accepted.
func ParseBuildState(value string) (BuildState, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	v = strings.Replace(v, "_", ":", 1)
	s := BuildState(v)
	if !s.Valid() {
		return StateNone, NewValidationError(fmt.Sprintf("invalid build state %q", value))
	}
	return s, nil
}
