//go:build linux

package wgiface

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/wgtypes"
)

// bringUp creates a Linux WireGuard netlink device, named exactly as
// requested, and assigns its addresses. WireGuard-level configuration
// (keys, peers) is pushed afterward by CreateInterface via wgctrl.
func bringUp(req wgtypes.CreateInterfaceRequest) error {
	if err := run("ip", "link", "add", "dev", req.Config.Name, "type", "wireguard"); err != nil {
		return err
	}
	for _, addr := range strings.Split(req.Config.Address, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if err := run("ip", "address", "add", "dev", req.Config.Name, addr); err != nil {
			return err
		}
	}
	if err := run("ip", "link", "set", "up", "dev", req.Config.Name); err != nil {
		return err
	}
	return nil
}

// tearDown removes the netlink device; WireGuard and routing state for it
// are torn down along with it.
func tearDown(name string) error {
	return run("ip", "link", "delete", "dev", name)
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrap(errors.KindCommand, fmt.Sprintf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out))), err)
	}
	return nil
}
