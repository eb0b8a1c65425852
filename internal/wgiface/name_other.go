//go:build !darwin

package wgiface

import "strings"

// AllocateName derives the interface name from the entity name by
// stripping non-alphanumeric characters, per spec.md §4.D step 2
// ("elsewhere, the name with non-alphanumerics stripped").
func AllocateName(requested string) (string, error) {
	var b strings.Builder
	for _, r := range requested {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "defguard0"
	}
	if len(name) > 15 {
		name = name[:15] // IFNAMSIZ on Linux
	}
	return name, nil
}
