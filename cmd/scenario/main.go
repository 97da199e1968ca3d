package main

import (
	"os"

	"github.com/wonny/scengen/cmd/scenario/commands"
)

// main is the entry point for the scenario CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/scenario [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
