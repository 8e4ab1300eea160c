// Package security resolves the account a supervised command runs as.
package security

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
)

// Account is a resolved OS account.
type Account struct {
	Name   string
	UID    int
	GID    int
	Home   string
	Groups []uint32
}

// LookupAccount resolves username to its numeric ids, home and
// supplementary groups.
func LookupAccount(username string) (*Account, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID for %s: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("invalid primary group ID for %s: %w", username, err)
	}

	acct := &Account{Name: u.Username, UID: uid, GID: gid, Home: u.HomeDir}
	if ids, err := u.GroupIds(); err == nil {
		for _, id := range ids {
			if g, err := strconv.ParseUint(id, 10, 32); err == nil {
				acct.Groups = append(acct.Groups, uint32(g))
			}
		}
	}
	return acct, nil
}

// ApplyUser configures cmd to run as username. HOME, USER and LOGNAME in the
// child environment are replaced with the account's values. When the
// account is the current effective user no credential switch is requested.
func ApplyUser(cmd *exec.Cmd, username string) (*Account, error) {
	if username == "" {
		return nil, nil
	}

	acct, err := LookupAccount(username)
	if err != nil {
		return nil, err
	}

	if acct.UID != os.Geteuid() {
		if cmd.SysProcAttr == nil {
			cmd.SysProcAttr = &syscall.SysProcAttr{}
		}
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid:    uint32(acct.UID),
			Gid:    uint32(acct.GID),
			Groups: acct.Groups,
		}
	}

	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(withoutKeys(env, "HOME", "USER", "LOGNAME"),
		"HOME="+acct.Home,
		"USER="+acct.Name,
		"LOGNAME="+acct.Name,
	)
	return acct, nil
}

func withoutKeys(env []string, keys ...string) []string {
	out := make([]string, 0, len(env))
next:
	for _, kv := range env {
		for _, k := range keys {
			if strings.HasPrefix(kv, k+"=") {
				continue next
			}
		}
		out = append(out, kv)
	}
	return out
}
