package allocator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/bcpc-build/bcpc-build/pkg/component"
	"github.com/bcpc-build/bcpc-build/pkg/identity"
	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/netid"
	"github.com/bcpc-build/bcpc-build/pkg/types"
	"github.com/bcpc-build/bcpc-build/pkg/utils"
)

// CertsDirName is the certificate directory inside a build directory.
const CertsDirName = "cacerts"

// Configure renders the strategy's configuration into the unit's build
// directory, installs the shared certificates and, for strategies with a
// network id source, rewrites the primary topology. Failures leave the unit
// failed:provision and return a *types.ConfigurationError.
func (a *Allocator) Configure(ctx context.Context, unit *types.BuildUnit) error {
	if err := a.SetState(ctx, unit, types.StateConfiguring); err != nil {
		return err
	}

	if err := a.configure(ctx, unit); err != nil {
		if serr := a.SetState(ctx, unit, types.StateFailedProvision); serr != nil {
			a.logger.Error("Could not record configuration failure", log.Unit(unit.Name), log.Err(serr))
		}
		var ce *types.ConfigurationError
		if errors.As(err, &ce) {
			return err
		}
		return &types.ConfigurationError{Err: err}
	}
	return a.SetState(ctx, unit, types.StateConfigured)
}

func (a *Allocator) configure(ctx context.Context, unit *types.BuildUnit) error {
	acct, err := a.ids.LookupUser(unit.BuildUser)
	if err != nil {
		return fmt.Errorf("build user %s: %w", unit.BuildUser, err)
	}

	if _, err := a.RenderConfig(unit, acct); err != nil {
		return err
	}
	if err := a.InstallCerts(unit, acct); err != nil {
		return err
	}
	if a.strategy.NetIDSource != "" {
		if err := a.RewriteNetworkIDs(ctx, unit); err != nil {
			return err
		}
	}
	return nil
}

// TemplateValues are the substitutions available to strategy templates.
func (a *Allocator) TemplateValues(unit *types.BuildUnit) map[string]string {
	return map[string]string{
		"build_dir":       unit.BuildDir,
		"http_proxy_url":  a.config.HTTPProxy,
		"https_proxy_url": a.config.HTTPSProxy,
	}
}

// RenderConfig writes the strategy template into the build directory, owned
// by the build user, and returns the path written.
func (a *Allocator) RenderConfig(unit *types.BuildUnit, acct *identity.Account) (string, error) {
	target, err := securejoin.SecureJoin(unit.BuildDir, a.strategy.TemplatePath)
	if err != nil {
		return "", &types.ConfigurationError{File: a.strategy.TemplatePath, Err: err}
	}

	content, err := RenderTemplate(a.strategy.Template, a.TemplateValues(unit))
	if err != nil {
		return "", &types.ConfigurationError{File: target, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", &types.ConfigurationError{File: target, Err: err}
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		return "", &types.ConfigurationError{File: target, Err: err}
	}
	if err := os.Lchown(target, acct.UID, acct.GID); err != nil {
		return "", &types.ConfigurationError{File: target, Err: err}
	}

	a.logger.Info("Wrote build configuration", log.Unit(unit.Name), log.Str("file", target))
	return target, nil
}

// RenderTemplate substitutes ${name} placeholders from values. A
// placeholder with no value is an error.
func RenderTemplate(tmpl string, values map[string]string) (string, error) {
	var missing []string
	out := os.Expand(tmpl, func(key string) string {
		v, ok := values[key]
		if !ok {
			missing = append(missing, key)
			return ""
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("template references unknown values: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// InstallCerts copies the shared certificate directory into the build
// directory and gives every entry to the build user. Entries whose owner
// cannot be changed are logged and left as they are. A missing certificate
// directory is skipped.
func (a *Allocator) InstallCerts(unit *types.BuildUnit, acct *identity.Account) error {
	src := a.config.CertsDir
	if src == "" || !utils.IsDirectory(src) {
		a.logger.Warn("No certificates to install", log.Str("certs_dir", src))
		return nil
	}
	dest := filepath.Join(unit.BuildDir, CertsDirName)
	logger := a.logger.With(log.Unit(unit.Name))
	logger.Info("Installing certificates", log.Str("dest", dest))

	err := utils.CopyTree(src, dest, func(path string, d fs.DirEntry) error {
		if err := os.Lchown(path, acct.UID, acct.GID); err != nil {
			logger.Warn("Could not set certificate owner", log.Str("path", path), log.Err(err))
		}
		return nil
	})
	if err != nil {
		return &types.ConfigurationError{File: dest, Err: fmt.Errorf("installing certificates: %w", err)}
	}
	return nil
}

// RewriteNetworkIDs derives ids for every network the strategy's id source
// references and rewrites the primary topology to use them.
func (a *Allocator) RewriteNetworkIDs(ctx context.Context, unit *types.BuildUnit) error {
	cctx := component.Context{BuildDir: unit.BuildDir, Logger: a.logger}
	labels, err := component.NetworkIDs(cctx, a.strategy.NetIDSource)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		a.logger.Info("No networks to rewrite", log.Unit(unit.Name))
		return nil
	}

	deriver := netid.NewDeriver(unit.BuildUser, a.runner, a.ids, a.logger)
	mapping, err := deriver.DeriveAll(ctx, labels...)
	if err != nil {
		return &types.ConfigurationError{Err: fmt.Errorf("deriving network ids: %w", err)}
	}

	topology, err := component.OpenTopology(cctx)
	if err != nil {
		return err
	}
	_, err = component.RewriteNeighbors(topology, mapping, true, a.logger)
	return err
}
