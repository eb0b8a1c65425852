//go:build windows

package main

import (
	"github.com/defguard/client/internal/config"
	"github.com/defguard/client/internal/daemonclient"
)

func newPlatformClient(cfg *config.Config) *daemonclient.Client {
	return daemonclient.NewNamedPipe(cfg.NamedPipeName)
}
