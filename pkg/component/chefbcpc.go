package component

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bcpc-build/bcpc-build/pkg/configfile"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

const (
	// TopologyDir holds the chef-bcpc virtual topology, relative to the
	// build directory.
	TopologyDir = "chef-bcpc/virtual/topology"
	// TopologyFile is the key of the topology description in TopologyDir.
	TopologyFile = "topology.yml"
)

type chefBCPC struct{}

func (chefBCPC) Component() string { return ChefBCPC }

// ConfigFiles returns every yaml and json file under the topology directory,
// keyed by path relative to it.
func (chefBCPC) ConfigFiles(ctx Context) (map[string]*configfile.ConfigFile, error) {
	root, err := ctx.resolve(TopologyDir)
	if err != nil {
		return nil, err
	}

	files := make(map[string]*configfile.ConfigFile)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml", ".json":
		default:
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		cf, err := configfile.Open(rel, path, configfile.WithLogger(ctx.Logger))
		if err != nil {
			return &types.ConfigurationError{File: path, Err: err}
		}
		files[rel] = cf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// NetworkIDs returns the neighbor name of every transit interface in the
// topology.
func (c chefBCPC) NetworkIDs(ctx Context) ([]string, error) {
	cf, err := c.Topology(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = walkNeighbors(cf, func(neighbor map[string]any) error {
		ids = append(ids, neighbor["name"].(string))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uniqueSorted(ids), nil
}

// Topology opens the topology description.
func (chefBCPC) Topology(ctx Context) (*configfile.ConfigFile, error) {
	path, err := ctx.resolve(filepath.Join(TopologyDir, TopologyFile))
	if err != nil {
		return nil, err
	}
	cf, err := configfile.Open(TopologyFile, path, configfile.WithLogger(ctx.Logger))
	if err != nil {
		return nil, &types.ConfigurationError{File: path, Err: err}
	}
	return cf, nil
}

// OpenTopology opens the chef-bcpc topology of the build in ctx.
func OpenTopology(ctx Context) (*configfile.ConfigFile, error) {
	return chefBCPC{}.Topology(ctx)
}

// RewriteNeighbors replaces every transit neighbor name found in mapping
// with its mapped value and writes the topology back, keeping a backup when
// asked. Names absent from mapping are left alone. It returns how many
// references were rewritten.
func RewriteNeighbors(cf *configfile.ConfigFile, mapping map[string]string, backup bool, logger log.Logger) (int, error) {
	logger = log.OrDefault(logger).WithComponent("component")

	// validate before touching the file
	if err := walkNeighbors(cf, func(map[string]any) error { return nil }); err != nil {
		return 0, err
	}

	count := 0
	err := cf.Edit(backup, func(contents any) (any, error) {
		count = 0
		err := walkTree(cf.Filename, contents, func(neighbor map[string]any) error {
			name := neighbor["name"].(string)
			if id, ok := mapping[name]; ok {
				neighbor["name"] = id
				count++
			}
			return nil
		})
		return contents, err
	})
	if err != nil {
		var ce *types.ConfigurationError
		if errors.As(err, &ce) {
			return 0, err
		}
		return 0, &types.ConfigurationError{File: cf.Filename, Err: err}
	}
	logger.Info("Rewrote topology neighbors", log.Str("file", cf.Filename), log.Int("count", count))
	return count, nil
}

func walkNeighbors(cf *configfile.ConfigFile, fn func(neighbor map[string]any) error) error {
	return walkTree(cf.Filename, cf.Contents(), fn)
}

// walkTree calls fn with every nodes[].transit[].neighbor mapping. Nodes
// without transit interfaces are skipped.
func walkTree(file string, contents any, fn func(neighbor map[string]any) error) error {
	root, ok := contents.(map[string]any)
	if !ok {
		return schemaError(file, "topology root is not a mapping")
	}
	nodes, ok := root["nodes"].([]any)
	if !ok {
		return schemaError(file, "missing or invalid 'nodes' list")
	}
	for i, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			return schemaError(file, "nodes[%d] is not a mapping", i)
		}
		raw, present := node["transit"]
		if !present || raw == nil {
			continue
		}
		transit, ok := raw.([]any)
		if !ok {
			return schemaError(file, "nodes[%d].transit is not a list", i)
		}
		for j, t := range transit {
			iface, ok := t.(map[string]any)
			if !ok {
				return schemaError(file, "nodes[%d].transit[%d] is not a mapping", i, j)
			}
			neighbor, ok := iface["neighbor"].(map[string]any)
			if !ok {
				return schemaError(file, "nodes[%d].transit[%d] has no neighbor", i, j)
			}
			if _, ok := neighbor["name"].(string); !ok {
				return schemaError(file, "nodes[%d].transit[%d].neighbor has no name", i, j)
			}
			if err := fn(neighbor); err != nil {
				return err
			}
		}
	}
	return nil
}
