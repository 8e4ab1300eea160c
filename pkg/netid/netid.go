// Package netid derives the synthetic network names that keep separately
// provisioned topology descriptions of one build consistent.
package netid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Generate hashes the values of mapping in key order. Each value is
// rendered with fmt.Sprint before hashing.
func Generate(mapping map[string]any) string {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(fmt.Sprint(mapping[k])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FromLabel builds the identifier of label for a given uid and VirtualBox
// machine folder.
func FromLabel(label string, uid int, vmDir string) string {
	id := Generate(map[string]any{
		"label":             label,
		"uid":               uid,
		"virtualbox_vm_dir": vmDir,
	})
	return label + "-" + id
}
