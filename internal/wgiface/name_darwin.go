//go:build darwin

package wgiface

import (
	"fmt"
	"net"
)

// AllocateName picks the first unused utunN device name, per spec.md §4.D
// step 2 ("on macOS, the first unused utunN"). The requested name is
// ignored — macOS userspace WireGuard interfaces are always utunN.
func AllocateName(requested string) (string, error) {
	for n := 0; n < 256; n++ {
		candidate := fmt.Sprintf("utun%d", n)
		if _, err := net.InterfaceByName(candidate); err != nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free utunN device found")
}
