// Package component knows the configuration files of each build component
// and the network identifiers they reference.
package component

import (
	"fmt"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/bcpc-build/bcpc-build/pkg/configfile"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// Component names.
const (
	ChefBCPC    = "chef-bcpc"
	LeafySpines = "leafy-spines"
)

// Context is what a handler needs to find a build's files.
type Context struct {
	BuildDir string
	Logger   log.Logger
}

func (c Context) logger() log.Logger {
	return log.OrDefault(c.Logger).WithComponent("component")
}

// resolve joins rel onto the build directory without letting symlinks
// escape it.
func (c Context) resolve(rel string) (string, error) {
	p, err := securejoin.SecureJoin(c.BuildDir, rel)
	if err != nil {
		return "", fmt.Errorf("resolving %s in %s: %w", rel, c.BuildDir, err)
	}
	return p, nil
}

// Handler enumerates one component's configuration.
type Handler interface {
	Component() string
	ConfigFiles(ctx Context) (map[string]*configfile.ConfigFile, error)
	NetworkIDs(ctx Context) ([]string, error)
}

var handlers = map[string]Handler{
	ChefBCPC:    chefBCPC{},
	LeafySpines: leafySpines{},
}

// Lookup returns the handler for name.
func Lookup(name string) (Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// Names lists the known components.
func Names() []string {
	names := make([]string, 0, len(handlers))
	for n := range handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConfigFiles returns the configuration files of component. Unknown
// components have none.
func ConfigFiles(ctx Context, component string) (map[string]*configfile.ConfigFile, error) {
	h, ok := Lookup(component)
	if !ok {
		return map[string]*configfile.ConfigFile{}, nil
	}
	return h.ConfigFiles(ctx)
}

// NetworkIDs returns the sorted, de-duplicated network identifiers that
// component references. Unknown components reference none.
func NetworkIDs(ctx Context, component string) ([]string, error) {
	h, ok := Lookup(component)
	if !ok {
		ctx.logger().Debug("No handler for component", log.Str("component", component))
		return nil, nil
	}
	return h.NetworkIDs(ctx)
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func schemaError(file, format string, args ...any) error {
	return &types.ConfigurationError{File: file, Err: fmt.Errorf(format, args...)}
}
