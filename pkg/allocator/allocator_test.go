package allocator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcpc-build/bcpc-build/pkg/identity"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/netid"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
	"github.com/bcpc-build/bcpc-build/pkg/store"
	"github.com/bcpc-build/bcpc-build/pkg/store/repos"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// ghostUID belongs to no process on the test host.
const ghostUID = 4000000

type fixture struct {
	alloc    *Allocator
	repo     *repos.BuildUnitRepo
	runner   *process.FakeRunner
	accounts map[string]*identity.Account
	home     string
	logger   *log.TestLogger
}

// newFixture wires an allocator to an in-memory store and a fake runner.
// Accounts created through useradd get the caller's own uid and gid so that
// ownership changes and impersonation work unprivileged.
func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()
	f := &fixture{
		repo:     repos.NewBuildUnitRepo(store.NewMemoryStore()),
		runner:   process.NewFakeRunner(),
		accounts: map[string]*identity.Account{},
		home:     filepath.Join(t.TempDir(), "build"),
		logger:   log.NewTestLogger(),
	}
	f.runner.Hook = func(cmd process.Command) {
		switch cmd.Path {
		case "useradd":
			name := cmd.Args[len(cmd.Args)-1]
			f.accounts[name] = &identity.Account{
				Name: name,
				UID:  os.Getuid(),
				GID:  os.Getgid(),
				Home: filepath.Join(f.home, name),
			}
		case "userdel":
			delete(f.accounts, cmd.Args[len(cmd.Args)-1])
		}
	}
	lookup := func(name string) (*identity.Account, error) {
		if a, ok := f.accounts[name]; ok {
			return a, nil
		}
		return nil, user.UnknownUserError(name)
	}
	ids := identity.NewManager(f.runner, f.logger, identity.WithLookup(lookup))

	cfg := DefaultConfig()
	cfg.BuildHome = f.home
	cfg.CertsDir = filepath.Join(t.TempDir(), "no-certs")
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.HTTPProxy = "http://proxy:3128"
	cfg.HTTPSProxy = "http://proxy:3129"

	alloc, err := New(strategy, f.repo, f.runner, ids, cfg, f.logger)
	require.NoError(t, err)
	require.NoError(t, alloc.Setup(context.Background()))
	f.alloc = alloc
	return f
}

func (f *fixture) state(t *testing.T, unit *types.BuildUnit) types.BuildState {
	t.Helper()
	got, err := f.repo.Get(context.Background(), unit.ID)
	require.NoError(t, err)
	return got.BuildState
}

func (f *fixture) allocate(t *testing.T, name string) *types.BuildUnit {
	t.Helper()
	unit, err := f.alloc.Allocate(context.Background(), AllocateRequest{Name: name})
	require.NoError(t, err)
	return unit
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}
}

func TestNew_UnsupportedStrategy(t *testing.T) {
	runner := process.NewFakeRunner()
	_, err := New("v9", repos.NewBuildUnitRepo(store.NewMemoryStore()), runner,
		identity.NewManager(runner, nil), DefaultConfig(), nil)

	var unsupported *types.UnsupportedStrategyError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "v9", unsupported.Name)
	assert.Empty(t, runner.Calls())
}

func TestAllocate(t *testing.T) {
	ctx := context.Background()

	t.Run("generated name", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit, err := f.alloc.Allocate(ctx, AllocateRequest{Description: "nightly"})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(unit.Name, UserTag))
		assert.Len(t, unit.Name, len(UserTag)+userSuffixLen)
		assert.Equal(t, unit.Name, unit.BuildUser)
		assert.Equal(t, filepath.Join(f.home, unit.Name), unit.BuildDir)
		assert.Equal(t, DefaultSourceURL, unit.SourceURL)
		assert.Equal(t, types.StateNone, f.state(t, unit))

		info, err := os.Stat(unit.BuildDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.NotZero(t, info.Mode()&os.ModeSetgid)
	})

	t.Run("pre-existing account keeps its home", func(t *testing.T) {
		f := newFixture(t, "v8")
		home := t.TempDir()
		f.accounts["ops"] = &identity.Account{Name: "ops", UID: os.Getuid(), GID: os.Getgid(), Home: home}

		unit := f.allocate(t, "ops")
		assert.Equal(t, home, unit.BuildDir)
		assert.Empty(t, f.runner.Calls())
	})

	t.Run("duplicate name has no side effects", func(t *testing.T) {
		f := newFixture(t, "v8")
		f.allocate(t, "bcpc-taken")
		calls := len(f.runner.Calls())

		_, err := f.alloc.Allocate(ctx, AllocateRequest{Name: "bcpc-taken"})
		var alloc *types.AllocationError
		require.ErrorAs(t, err, &alloc)
		assert.True(t, types.IsDuplicateName(err))
		assert.Len(t, f.runner.Calls(), calls)
	})

	t.Run("invalid name", func(t *testing.T) {
		f := newFixture(t, "v8")
		_, err := f.alloc.Allocate(ctx, AllocateRequest{Name: "Not A User"})
		assert.True(t, types.IsValidationError(err))
		assert.Empty(t, f.runner.Calls())
	})

	t.Run("useradd failure", func(t *testing.T) {
		f := newFixture(t, "v8")
		f.runner.Hook = nil
		f.runner.On("useradd", process.FakeResult{Err: &types.NonZeroExitError{Code: 1, Output: "permission denied"}})

		_, err := f.alloc.Allocate(ctx, AllocateRequest{Name: "bcpc-denied"})
		var uce *types.UserCreationError
		require.ErrorAs(t, err, &uce)
		units, err := f.repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, units)
	})
}

func TestProvision_ClonesTreeRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v7")
	unit, err := f.alloc.Allocate(ctx, AllocateRequest{
		Name:      "bcpc-ref",
		SourceURL: "https://github.com/bloomberg/chef-bcpc/tree/release-7",
	})
	require.NoError(t, err)

	require.NoError(t, f.alloc.Provision(ctx, unit, ProvisionOptions{}))
	assert.Equal(t, types.StateProvisioned, f.state(t, unit))

	dir := unit.BuildDir
	checkout := filepath.Join(dir, "chef-bcpc")
	assert.Equal(t, []string{
		"useradd -m -r -U -s /bin/bash -d " + dir + " bcpc-ref",
		"git -C " + dir + " clone --no-checkout https://github.com/bloomberg/chef-bcpc chef-bcpc",
		"git -C " + checkout + " fetch origin release-7",
		"git -C " + checkout + " checkout FETCH_HEAD",
	}, f.runner.CommandLines())

	for _, cmd := range f.runner.Calls()[1:] {
		assert.Equal(t, "bcpc-ref", cmd.User)
	}
}

func TestProvision_DependenciesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v8")
	unit := f.allocate(t, "bcpc-deps")

	err := f.alloc.Provision(ctx, unit, ProvisionOptions{
		Dependencies: map[string]string{"aardvark": "https://example.com/aardvark.git"},
	})
	require.NoError(t, err)

	lines := f.runner.CommandLines()[1:]
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "clone https://example.com/aardvark.git aardvark")
	assert.Contains(t, lines[1], "clone https://github.com/bloomberg/leafy-spines leafy-spines")
	assert.Contains(t, lines[2], "clone "+DefaultSourceURL+" chef-bcpc")
}

func TestProvision_NonDefaultSourceURLUsesPrimaryComponentDir(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v8")
	unit, err := f.alloc.Allocate(ctx, AllocateRequest{
		Name:      "bcpc-fork",
		SourceURL: "https://example.com/org/repo/tree/release-2",
	})
	require.NoError(t, err)

	checkouts := map[string]map[string]string{
		"leafy-spines": {"hosts.json": `[{"name": "spine1", "networks": ["storage1"]}]`},
		"chef-bcpc":    {"virtual/topology/topology.yml": "nodes:\n  - transit:\n      - neighbor:\n          name: storage1\n"},
	}
	accounts := f.runner.Hook
	f.runner.Hook = func(cmd process.Command) {
		accounts(cmd)
		if cmd.Path != "git" || !slices.Contains(cmd.Args, "clone") {
			return
		}
		dest := cmd.Args[len(cmd.Args)-1]
		writeTree(t, filepath.Join(cmd.Args[1], dest), checkouts[dest])
	}
	f.runner.On("VBoxManage list systemproperties", process.FakeResult{
		Output: "Default machine folder:          /home/bcpc/VirtualBox VMs\n",
	})

	require.NoError(t, f.alloc.Provision(ctx, unit, ProvisionOptions{Configure: true}))
	assert.Equal(t, types.StateConfigured, f.state(t, unit))

	assert.Contains(t, f.runner.CommandLines(),
		"git -C "+unit.BuildDir+" clone --no-checkout https://example.com/org/repo chef-bcpc")
	assert.NoDirExists(t, filepath.Join(unit.BuildDir, "repo"))
	assert.FileExists(t, filepath.Join(unit.BuildDir, f.alloc.Strategy().TemplatePath))

	want := netid.FromLabel("storage1", os.Getuid(), "/home/bcpc/VirtualBox VMs")
	data, err := os.ReadFile(filepath.Join(unit.BuildDir, "chef-bcpc/virtual/topology/topology.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: "+want)

	f.runner.On("make create all", process.FakeResult{})
	stream, err := f.alloc.Build(ctx, unit)
	require.NoError(t, err)
	require.NoError(t, Drain(stream, io.Discard))
	calls := f.runner.Calls()
	assert.Equal(t, filepath.Join(unit.BuildDir, "chef-bcpc"), calls[len(calls)-1].Dir)
}

func TestProvision_SkipsExistingCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v7")
	unit := f.allocate(t, "bcpc-retry")
	require.NoError(t, os.MkdirAll(filepath.Join(unit.BuildDir, "chef-bcpc", ".git"), 0755))

	require.NoError(t, f.alloc.Provision(ctx, unit, ProvisionOptions{}))
	for _, line := range f.runner.CommandLines() {
		assert.NotContains(t, line, "git ")
	}
}

func TestProvision_PopulateFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v7")
	unit := f.allocate(t, "bcpc-noclone")
	f.runner.On("git", process.FakeResult{Err: &types.NonZeroExitError{Code: 128, Output: "repository not found"}})

	err := f.alloc.Provision(ctx, unit, ProvisionOptions{Configure: true})
	var pe *types.ProvisionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 128, types.ExitCode(err))
	assert.Equal(t, types.StateFailedProvision, f.state(t, unit))
	assert.Equal(t, types.StateFailedProvision, unit.BuildState)
}

func TestConfigure_RendersTemplateAndCerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v7")
	unit := f.allocate(t, "bcpc-conf")

	certs := t.TempDir()
	writeTree(t, certs, map[string]string{"corp-root.crt": "CERT\n", "chain/intermediate.crt": "CERT\n"})
	require.NoError(t, os.Symlink("corp-root.crt", filepath.Join(certs, "current.crt")))
	f.alloc.config.CertsDir = certs

	require.NoError(t, f.alloc.Provision(ctx, unit, ProvisionOptions{Configure: true}))
	assert.Equal(t, types.StateConfigured, f.state(t, unit))

	rendered, err := os.ReadFile(filepath.Join(unit.BuildDir, f.alloc.Strategy().TemplatePath))
	require.NoError(t, err)
	assert.Contains(t, string(rendered), "export BCPC_VM_DIR="+unit.BuildDir+"/bcpc-vms\n")
	assert.Contains(t, string(rendered), "export BOOTSTRAP_HTTP_PROXY_URL=http://proxy:3128\n")
	assert.Contains(t, string(rendered), "export BOOTSTRAP_HTTPS_PROXY_URL=http://proxy:3129\n")

	installed := filepath.Join(unit.BuildDir, CertsDirName)
	assert.FileExists(t, filepath.Join(installed, "chain", "intermediate.crt"))
	target, err := os.Readlink(filepath.Join(installed, "current.crt"))
	require.NoError(t, err)
	assert.Equal(t, "corp-root.crt", target)
}

func TestConfigure_MissingCertsDirIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v7")
	unit := f.allocate(t, "bcpc-nocerts")

	require.NoError(t, f.alloc.Provision(ctx, unit, ProvisionOptions{Configure: true}))
	assert.NoDirExists(t, filepath.Join(unit.BuildDir, CertsDirName))
	assert.True(t, f.logger.AssertLogged(log.WarnLevel, "No certificates to install"))
}

func TestConfigure_RewritesTopology(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v8")
	unit := f.allocate(t, "bcpc-net")

	writeTree(t, unit.BuildDir, map[string]string{
		"leafy-spines/hosts.json": `[{"name": "spine1", "networks": ["storage1"]}]`,
		"chef-bcpc/virtual/topology/topology.yml": `nodes:
  - host: r1n0
    transit:
      - neighbor:
          name: storage1
  - host: r1n1
    transit:
      - neighbor:
          name: storage1
`,
	})
	f.runner.On("VBoxManage list systemproperties", process.FakeResult{
		Output: "API version:                     7_0\nDefault machine folder:          /home/bcpc/VirtualBox VMs\n",
	})

	require.NoError(t, f.alloc.Configure(ctx, unit))
	assert.Equal(t, types.StateConfigured, f.state(t, unit))

	want := netid.FromLabel("storage1", os.Getuid(), "/home/bcpc/VirtualBox VMs")
	topology := filepath.Join(unit.BuildDir, "chef-bcpc/virtual/topology/topology.yml")
	data, err := os.ReadFile(topology)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "name: "+want))

	backup, err := os.ReadFile(topology + ".bak")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(backup), "name: storage1\n"))

	var vbox process.Command
	for _, c := range f.runner.Calls() {
		if c.Path == "VBoxManage" {
			vbox = c
		}
	}
	assert.Equal(t, "bcpc-net", vbox.User)
}

func TestConfigure_Failure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v8")
	unit := f.allocate(t, "bcpc-badnet")
	writeTree(t, unit.BuildDir, map[string]string{
		"leafy-spines/hosts.json":                 `[{"name": "spine1", "networks": ["storage1"]}]`,
		"chef-bcpc/virtual/topology/topology.yml": "nodes:\n  - transit:\n      - neighbor:\n          name: storage1\n",
	})
	f.runner.On("VBoxManage", process.FakeResult{Output: "API version: 7_0\n"})

	err := f.alloc.Configure(ctx, unit)
	var ce *types.ConfigurationError
	require.ErrorAs(t, err, &ce)
	var missing *netid.NoSuchPropertyError
	assert.ErrorAs(t, err, &missing)
	assert.Equal(t, types.StateFailedProvision, f.state(t, unit))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("dir=${build_dir} proxy=$http_proxy_url\n", map[string]string{
		"build_dir":      "/build/u",
		"http_proxy_url": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "dir=/build/u proxy=\n", out)

	_, err = RenderTemplate("${nope} ${also_nope}", map[string]string{})
	assert.EqualError(t, err, "template references unknown values: also_nope, nope")
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-ok")
		f.runner.On("make create all", process.FakeResult{Output: "creating vms\nconverging\n"})

		stream, err := f.alloc.Build(ctx, unit)
		require.NoError(t, err)
		assert.Equal(t, types.StateBuilding, f.state(t, unit))

		var lines []string
		for line, err := range stream.Lines() {
			require.NoError(t, err)
			lines = append(lines, line)
		}
		assert.Equal(t, []string{"creating vms", "converging"}, lines)
		assert.Equal(t, types.StateDone, f.state(t, unit))

		calls := f.runner.Calls()
		build := calls[len(calls)-1]
		assert.Equal(t, "bcpc-ok", build.User)
		assert.Equal(t, filepath.Join(unit.BuildDir, "chef-bcpc"), build.Dir)
	})

	t.Run("failure is persisted before it surfaces", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-fail")
		f.runner.On("make", process.FakeResult{
			Output: "creating vms\n",
			Err:    &types.NonZeroExitError{Code: 2},
		})

		stream, err := f.alloc.Build(ctx, unit)
		require.NoError(t, err)

		require.True(t, stream.Next())
		assert.Equal(t, types.StateBuilding, f.state(t, unit))
		require.False(t, stream.Next())

		var be *types.BuildError
		require.ErrorAs(t, stream.Err(), &be)
		assert.Equal(t, 2, types.ExitCode(stream.Err()))
		assert.Equal(t, types.StateFailedBuild, f.state(t, unit))
	})

	t.Run("signal", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-sig")
		f.runner.On("make", process.FakeResult{Err: &types.SignalError{Signal: 15}})

		stream, err := f.alloc.Build(ctx, unit)
		require.NoError(t, err)
		err = Drain(stream, &bytes.Buffer{})
		var sig *types.SignalError
		require.ErrorAs(t, err, &sig)
		assert.Equal(t, types.StateFailedBuild, f.state(t, unit))
	})

	t.Run("close abandons the build", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-quit")
		f.runner.On("make", process.FakeResult{Output: "a\nb\n"})

		stream, err := f.alloc.Build(ctx, unit)
		require.NoError(t, err)
		require.True(t, stream.Next())

		var be *types.BuildError
		require.ErrorAs(t, stream.Close(), &be)
		assert.Equal(t, types.StateFailedBuild, f.state(t, unit))
		assert.False(t, stream.Next())
	})
}

func TestDrainToBuildLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v8")
	unit := f.allocate(t, "bcpc-log")
	f.runner.On("make", process.FakeResult{Output: "one\ntwo\n"})

	stream, err := f.alloc.Build(ctx, unit)
	require.NoError(t, err)

	var echo bytes.Buffer
	path := f.alloc.BuildLogPath(unit)
	sink, err := NewBuildLog(path, &echo)
	require.NoError(t, err)
	require.NoError(t, Drain(stream, sink))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
	assert.Equal(t, "one\ntwo\n", echo.String())
	assert.Equal(t, "bcpc-log.log", filepath.Base(path))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestDrain_SinkFailureStillDrains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "v8")
	unit := f.allocate(t, "bcpc-full")
	f.runner.On("make", process.FakeResult{Output: "one\ntwo\n"})

	stream, err := f.alloc.Build(ctx, unit)
	require.NoError(t, err)
	err = Drain(stream, failingWriter{})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, types.StateDone, f.state(t, unit))
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()

	t.Run("commit deletes the record", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-gone")
		f.accounts["bcpc-gone"].UID = ghostUID

		require.NoError(t, f.alloc.Destroy(ctx, unit, true))
		_, err := f.repo.Get(ctx, unit.ID)
		assert.True(t, types.IsNotFound(err))
		assert.Contains(t, f.runner.CommandLines(), "userdel -r -f bcpc-gone")
	})

	t.Run("missing user still deletes the record", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-ghost")
		delete(f.accounts, "bcpc-ghost")
		f.runner.On("userdel", process.FakeResult{Err: &types.NonZeroExitError{Code: 6}})

		require.NoError(t, f.alloc.Destroy(ctx, unit, true))
		_, err := f.repo.Get(ctx, unit.ID)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("without commit marks failed", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-keep")
		f.accounts["bcpc-keep"].UID = ghostUID

		require.NoError(t, f.alloc.Destroy(ctx, unit, false))
		assert.Equal(t, types.StateFailed, f.state(t, unit))
	})

	t.Run("userdel failure leaves the record", func(t *testing.T) {
		f := newFixture(t, "v8")
		unit := f.allocate(t, "bcpc-stuck")
		f.accounts["bcpc-stuck"].UID = ghostUID
		f.runner.On("userdel", process.FakeResult{Err: &types.NonZeroExitError{Code: 8, Output: "user is logged in"}})

		err := f.alloc.Destroy(ctx, unit, true)
		require.Error(t, err)
		assert.Equal(t, types.StateNone, f.state(t, unit))
	})
}
