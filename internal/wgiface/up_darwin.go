//go:build darwin

package wgiface

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/wgtypes"
)

// bringUp starts a userspace wireguard-go process bound to an utun device
// and assigns addresses to it. macOS has no kernel WireGuard implementation,
// so the interface name the caller asked for is used as a logical name —
// wireguard-go itself picks the concrete utunN device.
func bringUp(req wgtypes.CreateInterfaceRequest) error {
	if err := run("wireguard-go", req.Config.Name); err != nil {
		return err
	}
	for _, addr := range strings.Split(req.Config.Address, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if err := run("ifconfig", req.Config.Name, "inet", addr, addr, "alias"); err != nil {
			return err
		}
	}
	return run("ifconfig", req.Config.Name, "up")
}

func tearDown(name string) error {
	return run("ifconfig", name, "destroy")
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrap(errors.KindCommand, fmt.Sprintf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out))), err)
	}
	return nil
}
