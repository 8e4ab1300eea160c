package netid

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
)

// MachineFolderProperty is the normalized key of VirtualBox's default
// machine folder.
const MachineFolderProperty = "default_machine_folder"

// NoSuchPropertyError is returned for a system property VirtualBox did not
// report.
type NoSuchPropertyError struct {
	Key string
}

func (e *NoSuchPropertyError) Error() string {
	return fmt.Sprintf("no such VirtualBox system property %q", e.Key)
}

// Executor runs short commands to completion.
type Executor interface {
	Output(ctx context.Context, cmd process.Command) ([]byte, error)
}

// SystemProperties runs `VBoxManage list systemproperties` as user and
// returns its properties with keys lowercased and spaces replaced by
// underscores.
func SystemProperties(ctx context.Context, exec Executor, user string) (map[string]string, error) {
	cmd := process.NewCommand("VBoxManage", "list", "systemproperties").AsUser(user)
	out, err := exec.Output(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate VirtualBox system properties: %w", err)
	}
	return ParseSystemProperties(out), nil
}

// ParseSystemProperties parses `Key Name:   value` lines.
func ParseSystemProperties(out []byte) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), " ", "_"))
		if key == "" {
			continue
		}
		props[key] = strings.TrimSpace(value)
	}
	return props
}
