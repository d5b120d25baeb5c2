package main

import (
	"github.com/scanward/scanward/cmd/cli"
)

// Build information, set by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=abc123 -X main.buildTime=2026-01-01T00:00:00Z"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
