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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/netmeta/nma/contrast"
	"github.com/AleutianAI/netmeta/nma/mcmc"
	"github.com/AleutianAI/netmeta/pkg/logging"
)

// Duration is a time.Duration that accepts Go duration strings ("5m",
// "1h30m") as well as raw nanosecond integers in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Degenerate-study policy names accepted in configuration.
const (
	// DegenerateAbort fails the run on the first degenerate study.
	DegenerateAbort = "abort"

	// DegenerateSkip drops degenerate studies with a warning.
	DegenerateSkip = "skip"
)

// Config is the full configuration surface of one analysis run.
//
// There is no process-global state: the RNG seed, policies and logger all
// travel in the Config, so concurrent runs never interfere.
type Config struct {
	// Link selects the likelihood link: "log" or "identity". Only the
	// log link is exercised by the standard analysis.
	// Default: "log"
	Link string `yaml:"likelihood_link" validate:"oneof=log identity"`

	// Chains is the number of independent MCMC chains. Minimum 2.
	// Default: 4
	Chains int `yaml:"n_chains" validate:"gte=2"`

	// WarmupIterations is the discarded adaptation length per chain.
	// Default: 2000
	WarmupIterations int `yaml:"warmup_iterations" validate:"gt=0"`

	// SamplingIterations is the retained length per chain.
	// Default: 5000
	SamplingIterations int `yaml:"sampling_iterations" validate:"gt=0"`

	// PreferredDirection is +1 when larger effects are better, -1 when
	// smaller are. Default: +1
	PreferredDirection int `yaml:"preferred_direction" validate:"oneof=-1 1"`

	// ReferenceTreatment anchors the league-table and bias-test
	// ordering. Empty means the first treatment in ascending order.
	// Affects display orientation only, never the underlying estimates.
	ReferenceTreatment string `yaml:"reference_treatment"`

	// DegenerateStudies selects the policy for studies with fewer than
	// two usable arms: "abort" (default) or "skip".
	DegenerateStudies string `yaml:"degenerate_studies" validate:"oneof=abort skip"`

	// Seed seeds all RNG streams of the run. Default: 1
	Seed uint64 `yaml:"seed"`

	// Workers bounds the ranking fan-out. Zero means NumCPU.
	Workers int `yaml:"workers" validate:"gte=0"`

	// Timeout aborts the run's sampling when exceeded. Zero disables.
	// An aborted run returns no Bayesian results at all.
	Timeout Duration `yaml:"timeout"`

	// Logger receives run progress. Nil means the package logging
	// wrapper's stderr logger with a "netmeta" service attribute.
	// Not settable from YAML.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Link:               "log",
		Chains:             4,
		WarmupIterations:   2000,
		SamplingIterations: 5000,
		PreferredDirection: 1,
		DegenerateStudies:  DegenerateAbort,
		Seed:               1,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration surface.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML configuration, filling omitted fields from
// DefaultConfig, and validates the result.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// link resolves the configured likelihood link.
func (c Config) link() (mcmc.Link, error) {
	return mcmc.ParseLink(c.Link)
}

// policy resolves the degenerate-study policy.
func (c Config) policy() contrast.Policy {
	if c.DegenerateStudies == DegenerateSkip {
		return contrast.PolicySkip
	}
	return contrast.PolicyAbort
}

// logger resolves the run logger.
func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.New(logging.Config{Service: "netmeta"})
}
