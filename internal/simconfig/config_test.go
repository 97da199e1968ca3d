package simconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/copula"
	"github.com/wonny/scengen/internal/volatility"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoad_SampleFile(t *testing.T) {
	path := "../../config/scenario.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("config file not found")
	}

	cfg, data, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	assert.Equal(t, "ercot_weekly", cfg.Meta.RunName)
	assert.Equal(t, ModeProduction, cfg.Meta.Mode)
	assert.Equal(t, 500, cfg.Simulation.NumPaths)
	assert.Equal(t, copula.FamilyT, cfg.Copula.Family)
	// untouched keys keep defaults
	assert.Equal(t, Default().Safety, cfg.Safety)
}

func TestParse_OverridesDefaults(t *testing.T) {
	yml := `
meta:
  run_name: unit
  seed: 7
simulation:
  num_paths: 3
volatility:
  families: [egarch]
`
	cfg, err := Parse([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Meta.Seed)
	assert.Equal(t, 3, cfg.Simulation.NumPaths)
	assert.Equal(t, Default().Simulation.Horizon, cfg.Simulation.Horizon)
	assert.Equal(t, []volatility.Family{volatility.FamilyEGARCH}, cfg.Volatility.Families)
}

func TestParse_EmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownFieldFails(t *testing.T) {
	_, err := Parse([]byte("meta:\n  run_nmae: typo\n"))
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "yaml", ve.Field)
}

func TestValidate_FailsFast(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"mode", func(c *Config) { c.Meta.Mode = "verbose" }, "meta.mode"},
		{"paths", func(c *Config) { c.Simulation.NumPaths = 0 }, "simulation.num_paths"},
		{"block", func(c *Config) { c.Bootstrap.BlockSize = 0 }, "bootstrap.block_size"},
		{"df", func(c *Config) { c.Innovation.DF = 2 }, "innovation.df"},
		{"amplification", func(c *Config) { c.Modulation.AmplificationFactor = 10 }, "modulation.amplification_factor"},
		{"escalation", func(c *Config) { c.Modulation.EscalationSigma = 6 }, "modulation.escalation_sigma"},
		{"price change", func(c *Config) { c.Safety.MaxPriceChangeSigma = 9 }, "safety.max_price_change_sigma"},
		{"price change after reset", func(c *Config) { c.Modulation.ResetSigma = 6 }, "safety.max_price_change_sigma"},
		{"ratio", func(c *Config) { c.Target.MinRatio = 2 }, "target.ratio"},
		{"regime", func(c *Config) { c.Regime.MaxK = 20 }, "regime"},
		{"copula", func(c *Config) { c.Copula.Family = "frank" }, "copula"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, contracts.ErrConfiguration))

			var ve ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_PriceChangeCoversResetBand(t *testing.T) {
	cfg := Default()
	assert.GreaterOrEqual(t, cfg.Safety.MaxPriceChangeSigma, 2*cfg.Modulation.ResetSigma)

	cfg.Safety.MaxPriceChangeSigma = 2 * cfg.Modulation.ResetSigma
	assert.NoError(t, Validate(cfg))
}

func TestHash(t *testing.T) {
	a, err := Hash(Default())
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, _ := Hash(Default())
	assert.Equal(t, a, b, "hash must be deterministic")

	cfg := Default()
	cfg.Meta.Seed = 1
	c, _ := Hash(cfg)
	assert.NotEqual(t, a, c)

	// seed does not affect calibration
	ca, _ := CalibrationHash(Default())
	cc, _ := CalibrationHash(cfg)
	assert.Equal(t, ca, cc)

	cfg.Jump.Threshold = 3
	cj, _ := CalibrationHash(cfg)
	assert.NotEqual(t, ca, cj)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
