//go:build windows

package wgiface

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/wgtypes"
)

// bringUp assigns the request's addresses to the adapter named
// req.Config.Name with netsh. It does not create a wireguard-nt adapter or
// register a tunnel service; when no adapter of that name exists, the netsh
// call fails and its error is returned.
func bringUp(req wgtypes.CreateInterfaceRequest) error {
	for _, addr := range strings.Split(req.Config.Address, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if err := run("netsh", "interface", "ip", "add", "address", req.Config.Name, addr); err != nil {
			return err
		}
	}
	return nil
}

func tearDown(name string) error {
	return run("netsh", "interface", "set", "interface", name, "admin=disabled")
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrap(errors.KindCommand, fmt.Sprintf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out))), err)
	}
	return nil
}
