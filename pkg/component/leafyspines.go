package component

import (
	"github.com/bcpc-build/bcpc-build/pkg/configfile"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// HostsFile is the leafy-spines host inventory, relative to the build
// directory.
const HostsFile = "leafy-spines/hosts.json"

type leafySpines struct{}

func (leafySpines) Component() string { return LeafySpines }

func (l leafySpines) ConfigFiles(ctx Context) (map[string]*configfile.ConfigFile, error) {
	cf, err := l.hosts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]*configfile.ConfigFile{cf.Name: cf}, nil
}

// NetworkIDs returns every network listed by any host.
func (l leafySpines) NetworkIDs(ctx Context) ([]string, error) {
	cf, err := l.hosts(ctx)
	if err != nil {
		return nil, err
	}

	hosts, ok := cf.Contents().([]any)
	if !ok {
		return nil, schemaError(cf.Filename, "host inventory is not a list")
	}
	var ids []string
	for i, h := range hosts {
		host, ok := h.(map[string]any)
		if !ok {
			return nil, schemaError(cf.Filename, "hosts[%d] is not a mapping", i)
		}
		networks, ok := host["networks"].([]any)
		if !ok {
			return nil, schemaError(cf.Filename, "hosts[%d] has no 'networks' list", i)
		}
		for j, n := range networks {
			name, ok := n.(string)
			if !ok {
				return nil, schemaError(cf.Filename, "hosts[%d].networks[%d] is not a string", i, j)
			}
			ids = append(ids, name)
		}
	}
	return uniqueSorted(ids), nil
}

func (leafySpines) hosts(ctx Context) (*configfile.ConfigFile, error) {
	path, err := ctx.resolve(HostsFile)
	if err != nil {
		return nil, err
	}
	cf, err := configfile.Open("hosts.json", path, configfile.WithLogger(ctx.Logger))
	if err != nil {
		return nil, &types.ConfigurationError{File: path, Err: err}
	}
	return cf, nil
}
