package main

import (
	"os"

	"github.com/cloudflare-tunnels-operator/cloudflare-tunnels-operator/cmd/operator/cmd"
)

// Version and Gitsha are stamped by the release pipeline via -ldflags; the
// defaults mark a local build.
//
//nolint:gochecknoglobals // build-time injection needs package vars
var (
	Version = "development"
	Gitsha  = "development"
)

func main() {
	cmd.SetVersion(Version, Gitsha)

	// Errors are already logged by cobra/slog; the exit code is all that is
	// left to report.
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
