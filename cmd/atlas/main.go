// Package main is the single-binary entrypoint for atlas, the BMS
// control engine.
package main

import (
	"github.com/atlasbms/atlas/internal/api"
	"github.com/atlasbms/atlas/internal/cli"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	api.Version = version
	cli.Execute(version)
}
