package component

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcpc-build/bcpc-build/pkg/configfile"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

const testTopology = `nodes:
  - host: r1n0
    transit:
      - interface: eth1
        neighbor:
          name: storage1
      - interface: eth2
        neighbor:
          name: mgmt
  - host: r1n1
    transit:
      - interface: eth1
        neighbor:
          name: storage1
  - host: bootstrap
`

const testHosts = `[
  {"name": "spine1", "networks": ["storage1", "mgmt"]},
  {"name": "leaf1", "networks": ["storage1", "storage2"]}
]`

func buildTree(t *testing.T, files map[string]string) Context {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}
	return Context{BuildDir: dir, Logger: log.NewTestLogger()}
}

func TestChefBCPC_ConfigFiles(t *testing.T) {
	ctx := buildTree(t, map[string]string{
		"chef-bcpc/virtual/topology/topology.yml":      testTopology,
		"chef-bcpc/virtual/topology/hardware.yaml":     "profiles: []\n",
		"chef-bcpc/virtual/topology/extra/ranges.json": `{"ranges": [1, 2]}`,
		"chef-bcpc/virtual/topology/README.md":         "# not config\n",
	})

	files, err := ConfigFiles(ctx, ChefBCPC)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"topology.yml", "hardware.yaml", filepath.Join("extra", "ranges.json")},
		keys(files))
	assert.Equal(t, "json", files[filepath.Join("extra", "ranges.json")].Format())
}

func TestChefBCPC_NetworkIDs(t *testing.T) {
	ctx := buildTree(t, map[string]string{"chef-bcpc/virtual/topology/topology.yml": testTopology})

	ids, err := NetworkIDs(ctx, ChefBCPC)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgmt", "storage1"}, ids)
}

func TestChefBCPC_SchemaErrors(t *testing.T) {
	tests := map[string]string{
		"no nodes":         "hosts: []\n",
		"node not a map":   "nodes:\n  - just-a-name\n",
		"transit not list": "nodes:\n  - transit: eth1\n",
		"no neighbor":      "nodes:\n  - transit:\n      - interface: eth1\n",
		"unnamed neighbor": "nodes:\n  - transit:\n      - neighbor: {ip: 10.0.0.1}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := buildTree(t, map[string]string{"chef-bcpc/virtual/topology/topology.yml": body})
			_, err := NetworkIDs(ctx, ChefBCPC)
			var ce *types.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Contains(t, ce.File, "topology.yml")
		})
	}
}

func TestLeafySpines(t *testing.T) {
	ctx := buildTree(t, map[string]string{"leafy-spines/hosts.json": testHosts})

	files, err := ConfigFiles(ctx, LeafySpines)
	require.NoError(t, err)
	assert.Equal(t, []string{"hosts.json"}, keys(files))

	ids, err := NetworkIDs(ctx, LeafySpines)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgmt", "storage1", "storage2"}, ids)
}

func TestLeafySpines_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		ctx := buildTree(t, nil)
		_, err := NetworkIDs(ctx, LeafySpines)
		var ce *types.ConfigurationError
		assert.True(t, errors.As(err, &ce))
	})

	t.Run("missing networks", func(t *testing.T) {
		ctx := buildTree(t, map[string]string{"leafy-spines/hosts.json": `[{"name": "spine1"}]`})
		_, err := NetworkIDs(ctx, LeafySpines)
		var ce *types.ConfigurationError
		require.True(t, errors.As(err, &ce))
		assert.Contains(t, ce.Error(), "networks")
	})
}

func TestUnknownComponent(t *testing.T) {
	ctx := buildTree(t, nil)

	ids, err := NetworkIDs(ctx, "core-topology")
	require.NoError(t, err)
	assert.Empty(t, ids)

	files, err := ConfigFiles(ctx, "core-topology")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResolveStaysInBuildDir(t *testing.T) {
	ctx := buildTree(t, nil)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "hosts.json"), []byte(testHosts), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(ctx.BuildDir, "leafy-spines")))

	path, err := ctx.resolve(HostsFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, ctx.BuildDir+string(os.PathSeparator)), path)
	assert.NotEqual(t, filepath.Join(outside, "hosts.json"), path)
}

func TestRewriteNeighbors(t *testing.T) {
	ctx := buildTree(t, map[string]string{"chef-bcpc/virtual/topology/topology.yml": testTopology})
	cf, err := OpenTopology(ctx)
	require.NoError(t, err)

	n, err := RewriteNeighbors(cf, map[string]string{"storage1": "storage1-ab12cd"}, true, ctx.Logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reread, err := OpenTopology(ctx)
	require.NoError(t, err)
	ids, err := NetworkIDs(ctx, ChefBCPC)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgmt", "storage1-ab12cd"}, ids)
	assert.Equal(t, cf.Contents(), reread.Contents())

	backup, err := configfile.Load(cf.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, "storage1", neighborName(t, backup.Contents(), 0, 0))
}

func TestRewriteNeighbors_InvalidTopologyUntouched(t *testing.T) {
	body := "nodes:\n  - transit:\n      - interface: eth1\n"
	ctx := buildTree(t, map[string]string{"chef-bcpc/virtual/topology/topology.yml": body})
	cf, err := OpenTopology(ctx)
	require.NoError(t, err)

	_, err = RewriteNeighbors(cf, map[string]string{"a": "b"}, true, nil)
	var ce *types.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.NoFileExists(t, cf.BackupPath())
}

func keys(m map[string]*configfile.ConfigFile) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func neighborName(t *testing.T, contents any, node, iface int) string {
	t.Helper()
	nodes := contents.(map[string]any)["nodes"].([]any)
	transit := nodes[node].(map[string]any)["transit"].([]any)
	return transit[iface].(map[string]any)["neighbor"].(map[string]any)["name"].(string)
}
