// Package main is the single-binary entrypoint for coachpoints, the
// gamification service for coaching platforms.
package main

import "github.com/coachpoints/coachpoints/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
