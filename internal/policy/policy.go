// Package policy restricts which bridge providers a run may quote or execute.
package policy

import (
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

// CheckProviders rejects allowlist entries that name no known provider.
func CheckProviders(allowlist, known []string) error {
	var unknown []string
	for _, name := range allowlist {
		if !contains(known, name) {
			unknown = append(unknown, normalize(name))
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return clierr.New(clierr.CodeUsage, "unknown provider in allowlist: "+strings.Join(unknown, ", ")).
		WithDetail("known", strings.Join(known, ","))
}

// Allowed reports whether name passes the allowlist. An empty list allows all.
func Allowed(allowlist []string, name string) bool {
	return len(allowlist) == 0 || contains(allowlist, name)
}

func contains(items []string, target string) bool {
	target = normalize(target)
	for _, item := range items {
		if normalize(item) == target {
			return true
		}
	}
	return false
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
