package allocator

import (
	"sort"

	"github.com/bcpc-build/bcpc-build/pkg/component"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// DefaultSourceURL is where chef-bcpc is cloned from unless told otherwise.
const DefaultSourceURL = "https://github.com/bloomberg/chef-bcpc"

// DefaultStrategy is used when no strategy is named.
const DefaultStrategy = "v8"

// StrategyPolicy is everything that differs between build strategies.
type StrategyPolicy struct {
	Name             string
	DefaultSourceURL string
	// Dependencies maps a checkout directory to its source URL; they are
	// cloned before the primary source.
	Dependencies map[string]string
	// TemplatePath is where the rendered Template is written, relative to
	// the build directory.
	TemplatePath string
	Template     string
	// BuildCommand is a shell-style command line run from the primary
	// checkout.
	BuildCommand string
	// PrimaryComponent is the directory the primary source is cloned into
	// and the build runs from.
	PrimaryComponent string
	// NetIDSource names the component whose network ids are derived and
	// rewritten into the primary topology; empty for none.
	NetIDSource string
}

const v7Template = `export BCPC_VM_DIR=${build_dir}/bcpc-vms
export BCPC_HYPERVISOR_DOMAIN=hypervisor-bcpc.example.com
export BOOTSTRAP_ADDITIONAL_CACERTS_DIR=${build_dir}/cacerts
export BOOTSTRAP_APT_MIRROR=
export BOOTSTRAP_CACHE_DIR=${build_dir}/.bcpc-cache
export BOOTSTRAP_CHEF_DO_CONVERGE=1
export BOOTSTRAP_CHEF_ENV=Test-Laptop-Vagrant
export BOOTSTRAP_HTTP_PROXY_URL=${http_proxy_url}
export BOOTSTRAP_HTTPS_PROXY_URL=${https_proxy_url}
export BOOTSTRAP_VM_CPUS=2
export BOOTSTRAP_VM_DRIVE_SIZE=20480
export BOOTSTRAP_VM_MEM=2048
export CLUSTER_VM_CPUS=2
export CLUSTER_VM_DRIVE_SIZE=20480
export CLUSTER_VM_MEM=3072
export FILECACHE_MOUNT_POINT=/chef-bcpc-files
export MONITORING_NODES=0
export REPO_MOUNT_POINT=/chef-bcpc-host
export VM_SWAP_SIZE=8192
`

const v8Template = `export BCPC_VM_DIR=${build_dir}/bcpc-vms
export BOOTSTRAP_ADDITIONAL_CACERTS_DIR=${build_dir}/cacerts
export BOOTSTRAP_CACHE_DIR=${build_dir}/.bcpc-cache
export BOOTSTRAP_HTTP_PROXY_URL=${http_proxy_url}
export BOOTSTRAP_HTTPS_PROXY_URL=${https_proxy_url}
export LEAFY_SPINES_DIR=${build_dir}/leafy-spines
export VAGRANT_DEFAULT_PROVIDER=virtualbox
export VAGRANT_HOME=${build_dir}/.vagrant.d
export VAGRANT_VM_CPUS=2
export VAGRANT_VM_MEM=3072
`

var strategies = map[string]StrategyPolicy{
	"v7": {
		Name:             "v7",
		DefaultSourceURL: DefaultSourceURL,
		TemplatePath:     "chef-bcpc/bootstrap/config/bootstrap_config.sh.overrides",
		Template:         v7Template,
		BuildCommand:     "./bootstrap/vagrant_scripts/BOOT_GO.sh",
		PrimaryComponent: component.ChefBCPC,
	},
	"v8": {
		Name:             "v8",
		DefaultSourceURL: DefaultSourceURL,
		Dependencies: map[string]string{
			component.LeafySpines: "https://github.com/bloomberg/leafy-spines",
		},
		TemplatePath:     "chef-bcpc/virtual/vagrantbox.env",
		Template:         v8Template,
		BuildCommand:     "make create all",
		PrimaryComponent: component.ChefBCPC,
		NetIDSource:      component.LeafySpines,
	},
}

// LookupStrategy returns the named strategy.
func LookupStrategy(name string) (StrategyPolicy, error) {
	s, ok := strategies[name]
	if !ok {
		return StrategyPolicy{}, &types.UnsupportedStrategyError{Name: name}
	}
	return s, nil
}

// StrategyNames lists the known strategies.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for n := range strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
