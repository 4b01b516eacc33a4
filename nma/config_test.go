// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nma

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netmeta/nma/contrast"
	"github.com/AleutianAI/netmeta/nma/mcmc"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "log", cfg.Link)
	assert.Equal(t, 4, cfg.Chains)
	assert.Equal(t, 2000, cfg.WarmupIterations)
	assert.Equal(t, 5000, cfg.SamplingIterations)
	assert.Equal(t, 1, cfg.PreferredDirection)
	assert.Equal(t, DegenerateAbort, cfg.DegenerateStudies)
}

func TestConfig_ValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"one chain", func(c *Config) { c.Chains = 1 }},
		{"zero warmup", func(c *Config) { c.WarmupIterations = 0 }},
		{"negative sampling", func(c *Config) { c.SamplingIterations = -1 }},
		{"zero direction", func(c *Config) { c.PreferredDirection = 0 }},
		{"bad link", func(c *Config) { c.Link = "logit" }},
		{"bad policy", func(c *Config) { c.DegenerateStudies = "drop" }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	in := `
n_chains: 6
likelihood_link: identity
preferred_direction: -1
reference_treatment: Placebo
degenerate_studies: skip
seed: 42
timeout: 5m
`
	cfg, err := LoadConfig(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Chains)
	assert.Equal(t, "identity", cfg.Link)
	assert.Equal(t, -1, cfg.PreferredDirection)
	assert.Equal(t, "Placebo", cfg.ReferenceTreatment)
	assert.Equal(t, DegenerateSkip, cfg.DegenerateStudies)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, Duration(5*time.Minute), cfg.Timeout)

	// Omitted fields keep their defaults.
	assert.Equal(t, 2000, cfg.WarmupIterations)
	assert.Equal(t, 5000, cfg.SamplingIterations)
}

func TestLoadConfig_RejectsUnknownFields(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("chains: 4\n"))
	assert.Error(t, err, "misspelled keys must not be silently dropped")
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("n_chains: 1\n"))
	assert.Error(t, err)
}

func TestConfig_LoggerDefaultsToPackageWrapper(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg.logger())
	assert.NotSame(t, slog.Default(), cfg.logger(),
		"nil Logger must resolve through the logging wrapper, not the process default")

	own := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Logger = own
	assert.Same(t, own, cfg.logger())
}

func TestConfig_Resolvers(t *testing.T) {
	cfg := DefaultConfig()

	link, err := cfg.link()
	require.NoError(t, err)
	assert.Equal(t, mcmc.LinkLog, link)
	assert.Equal(t, contrast.PolicyAbort, cfg.policy())

	cfg.DegenerateStudies = DegenerateSkip
	assert.Equal(t, contrast.PolicySkip, cfg.policy())

	assert.NotNil(t, cfg.logger())
}
