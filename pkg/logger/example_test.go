package logger_test

import (
	"errors"
	"os"

	"github.com/wonny/scengen/pkg/config"
	"github.com/wonny/scengen/pkg/logger"
)

// Example_basic demonstrates basic logger usage
func Example_basic() {
	cfg := &config.Config{
		Env:       "development",
		LogLevel:  "info",
		LogFormat: "console",
	}

	log := logger.New(cfg)

	log.Debug("This won't appear (level is info)")
	log.Info("Calibration started")
	log.Warnf("Regime detection skipped for %s", "nonspin")
}

// Example_withFields demonstrates structured logging of a simulation event
func Example_withFields() {
	log := logger.NewWithWriter(os.Stderr, "info")

	log.WithFields(map[string]interface{}{
		"product": "regup",
		"path":    12,
		"step":    340,
	}).Warn("Hard reset applied")

	log.WithError(errors.New("matrix not positive definite")).
		WithField("regime", 3).
		Error("Copula fit degraded to independence")
}
