package config_test

import (
	"fmt"

	"github.com/wonny/scengen/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Scenario config: %s\n", cfg.Scenario.ConfigPath)
	fmt.Printf("Workers: %d\n", cfg.Scenario.Workers)
	fmt.Printf("Persistence enabled: %v\n", cfg.Database.Enabled())
}
