package cmd

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcpc-build/bcpc-build/pkg/cli/format"
	"github.com/bcpc-build/bcpc-build/pkg/configfile"
)

var credentialActions = []string{"get", "store", "erase"}

func newCredentialHelperCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "credential-helper <get|store|erase>",
		Short: "Git credential helper backed by a credentials file",
		Long: `Answer git credential requests from a credentials file mapping an origin
(scheme://host[:port]) to the attributes git should use, for example:

  https://git.example.com:
    username: builder
    password: s3cret

Configure it in a build user's git config with
  credential.helper = !bcpc-build credential-helper -c /path/to/credentials.yaml`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: credentialActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "get":
				cf, err := configfile.Load(configFile)
				if err != nil {
					return err
				}
				return credentialGet(cf.Contents(), cmd.InOrStdin(), cmd.OutOrStdout())
			case "store", "erase":
				fmt.Fprintln(cmd.ErrOrStderr(), format.Warning("credential-helper: %s is not supported, ignoring", args[0]))
				return nil
			}
			return fmt.Errorf("unknown action %q, want one of %v", args[0], credentialActions)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config-file", "c", "", "Credentials file (json, toml or yaml)")
	_ = cmd.MarkFlagRequired("config-file")
	return cmd
}

// parseCredentialRequest reads key=value lines up to a blank line or EOF.
func parseCredentialRequest(r io.Reader) (map[string]string, error) {
	req := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed credential attribute %q", line)
		}
		req[k] = v
	}
	return req, sc.Err()
}

// credentialGet answers a git "get" request. An origin with no entry gets
// an empty answer so git falls through to its next helper.
func credentialGet(creds any, in io.Reader, out io.Writer) error {
	req, err := parseCredentialRequest(in)
	if err != nil {
		return err
	}
	if req["protocol"] == "" || req["host"] == "" {
		return fmt.Errorf("credential request needs protocol and host")
	}
	origin := req["protocol"] + "://" + req["host"]

	table, ok := creds.(map[string]any)
	if !ok {
		return fmt.Errorf("credentials file must map origins to attributes")
	}
	entry, ok := table[origin].(map[string]any)
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(out, "%s=%v\n", k, entry[k]); err != nil {
			return err
		}
	}
	return nil
}
