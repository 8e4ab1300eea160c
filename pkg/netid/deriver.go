package netid

import (
	"context"
	"os"

	"github.com/bcpc-build/bcpc-build/pkg/identity"
	"github.com/bcpc-build/bcpc-build/pkg/log"
)

// Impersonator runs a function as another account.
type Impersonator interface {
	WithImpersonation(name string, fn func(*identity.Account) error, opts ...identity.ImpersonateOption) error
}

// Deriver computes network identifiers as seen by one build account: the
// effective uid and VirtualBox machine folder are those of that account.
type Deriver struct {
	user   string
	exec   Executor
	ids    Impersonator
	logger log.Logger
}

// NewDeriver creates a Deriver for user.
func NewDeriver(user string, exec Executor, ids Impersonator, logger log.Logger) *Deriver {
	return &Deriver{
		user:   user,
		exec:   exec,
		ids:    ids,
		logger: log.OrDefault(logger).WithComponent("netid").With(log.User(user)),
	}
}

// DeriveAll maps every label to its identifier.
func (d *Deriver) DeriveAll(ctx context.Context, labels ...string) (map[string]string, error) {
	out := make(map[string]string, len(labels))
	err := d.ids.WithImpersonation(d.user, func(*identity.Account) error {
		uid := os.Geteuid()
		props, err := SystemProperties(ctx, d.exec, d.user)
		if err != nil {
			return err
		}
		vmDir, ok := props[MachineFolderProperty]
		if !ok {
			return &NoSuchPropertyError{Key: MachineFolderProperty}
		}

		for _, label := range labels {
			out[label] = FromLabel(label, uid, vmDir)
		}
		d.logger.Debug("Derived network ids",
			log.Int("count", len(out)),
			log.Int("uid", uid),
			log.Str("vm_dir", vmDir))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Derive returns the identifier for a single label.
func (d *Deriver) Derive(ctx context.Context, label string) (string, error) {
	ids, err := d.DeriveAll(ctx, label)
	if err != nil {
		return "", err
	}
	return ids[label], nil
}
