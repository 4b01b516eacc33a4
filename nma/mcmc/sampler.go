// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcmc

import (
	"context"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ChainPhase represents states within a chain's lifecycle.
type ChainPhase string

const (
	// PhaseWarmup indicates adaptation draws that will be discarded.
	PhaseWarmup ChainPhase = "warmup"

	// PhaseSampling indicates retained posterior draws.
	PhaseSampling ChainPhase = "sampling"

	// PhaseDone indicates the chain finished; its samples are valid.
	// A chain's samples are only usable once it reaches PhaseDone.
	PhaseDone ChainPhase = "done"
)

// String returns the string representation.
func (p ChainPhase) String() string { return string(p) }

// Prior and adaptation constants.
const (
	// priorSD is the standard deviation of the vague Normal(0, priorSD^2)
	// prior on study baselines and basis effects.
	priorSD = 10.0

	// tauShape and tauRate parameterize the InverseGamma prior on tau^2.
	tauShape = 0.001
	tauRate  = 0.001

	// targetAcceptance is the per-parameter random-walk target rate.
	targetAcceptance = 0.44

	// adaptWindow is the warmup batch length between step-size updates.
	adaptWindow = 50

	// minTau2 keeps the Gibbs draw away from exact zero, where the
	// exchangeable prior on delta degenerates.
	minTau2 = 1e-8
)

// stepSize carries one random-walk scale with its acceptance window.
type stepSize struct {
	scale    float64
	accepted int
	proposed int
}

func (s *stepSize) track(accepted bool) {
	s.proposed++
	if accepted {
		s.accepted++
	}
}

// adapt nudges the scale toward the target acceptance rate and resets the
// window. Only called during warmup; scales freeze at sampling start.
func (s *stepSize) adapt() {
	if s.proposed == 0 {
		return
	}
	rate := float64(s.accepted) / float64(s.proposed)
	if rate > targetAcceptance {
		s.scale *= 1.15
	} else {
		s.scale *= 0.87
	}
	s.accepted, s.proposed = 0, 0
}

// chain is one independent sampler. Chains share the read-only Model and
// nothing else.
type chain struct {
	model *Model
	id    int
	rng   *rand.Rand
	phase ChainPhase

	// State.
	mu    []float64   // study baselines
	delta [][]float64 // per study, per non-baseline arm
	basis []float64
	tau2  float64

	// Scratch buffers reused across iterations.
	effects  []float64
	means    [][]float64
	altBasis []float64
	altMeans [][]float64

	// Step sizes.
	muStep    []stepSize
	deltaStep [][]stepSize
	basisStep []stepSize

	warmup  int
	samples int
}

func newChain(m *Model, id int, seed uint64, warmup, samples int) *chain {
	c := &chain{
		model:   m,
		id:      id,
		rng:     rand.New(rand.NewSource(seed)),
		phase:   PhaseWarmup,
		mu:      make([]float64, len(m.studies)),
		basis:   make([]float64, m.NumBasis()),
		effects: make([]float64, m.nNodes),
		warmup:  warmup,
		samples: samples,
	}
	c.delta = make([][]float64, len(m.studies))
	c.means = make([][]float64, len(m.studies))
	c.altMeans = make([][]float64, len(m.studies))
	c.deltaStep = make([][]stepSize, len(m.studies))
	for s, study := range m.studies {
		k := len(study.arms) - 1
		c.delta[s] = make([]float64, k)
		c.means[s] = make([]float64, k)
		c.altMeans[s] = make([]float64, k)
		c.deltaStep[s] = make([]stepSize, k)
		for i := range c.deltaStep[s] {
			c.deltaStep[s][i] = stepSize{scale: 0.5}
		}
	}
	c.altBasis = make([]float64, m.NumBasis())
	c.muStep = make([]stepSize, len(m.studies))
	for i := range c.muStep {
		c.muStep[i] = stepSize{scale: 0.5}
	}
	c.basisStep = make([]stepSize, m.NumBasis())
	for i := range c.basisStep {
		c.basisStep[i] = stepSize{scale: 0.5}
	}
	return c
}

// init builds dispersed starting values: empirical baselines plus
// chain-indexed jitter, repaired onto the link's valid range.
func (c *chain) init() {
	spread := 0.2 * float64(1+c.id)
	m := c.model

	for b := range c.basis {
		c.basis[b] = spread * c.rng.NormFloat64()
	}
	c.tau2 = 0.05 + 0.05*float64(1+c.id)

	for s, study := range m.studies {
		base := study.arms[0]
		pbar := (base.r + 0.5) / (base.n + 1)
		switch m.link {
		case LinkLog:
			c.mu[s] = math.Log(pbar) + 0.1*spread*c.rng.NormFloat64()
			if c.mu[s] >= -1e-3 {
				c.mu[s] = -1e-3
			}
		case LinkIdentity:
			c.mu[s] = clamp(pbar+0.05*spread*c.rng.NormFloat64(), 1e-3, 1-1e-3)
		}
		for k := 1; k < len(study.arms); k++ {
			c.delta[s][k-1] = 0.05 * spread * c.rng.NormFloat64()
			// Repair onto the valid range if the jitter pushed the arm out.
			for try := 0; try < 50 && math.IsInf(m.armLogLik(study.arms[k], c.mu[s]+c.delta[s][k-1]), -1); try++ {
				c.delta[s][k-1] /= 2
				if try == 49 {
					c.delta[s][k-1] = 0
				}
			}
		}
	}
}

// run executes the full Warmup -> Sampling -> Done lifecycle.
//
// Iteration order within the chain is preserved in the returned slice.
// A cancelled context aborts the chain; no partial samples are returned.
func (c *chain) run(ctx context.Context) ([]Sample, error) {
	c.init()

	retained := make([]Sample, 0, c.samples)
	total := c.warmup + c.samples

	for iter := 0; iter < total; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iter == c.warmup {
			c.phase = PhaseSampling
		}

		c.updateBaselines()
		c.updateDeltas()
		c.updateBasis()
		c.updateTau()

		dev := c.model.residualDeviance(c.mu, c.delta)
		if math.IsNaN(dev) || math.IsInf(dev, 0) {
			return nil, &NonConvergentChainError{
				Chain:     c.id,
				Iteration: iter,
				Reason:    "non-finite deviance (likelihood overflow)",
			}
		}

		if c.phase == PhaseWarmup {
			if (iter+1)%adaptWindow == 0 {
				c.adaptAll()
			}
			continue
		}

		draw := Sample{
			Chain:      c.id,
			Iteration:  iter - c.warmup,
			Basis:      make([]float64, len(c.basis)),
			TauSquared: c.tau2,
			Deviance:   dev,
		}
		copy(draw.Basis, c.basis)
		retained = append(retained, draw)
	}

	c.phase = PhaseDone
	return retained, nil
}

// updateBaselines runs one Metropolis step per study baseline.
func (c *chain) updateBaselines() {
	m := c.model
	for s, study := range m.studies {
		cur := c.mu[s]
		prop := cur + c.muStep[s].scale*c.rng.NormFloat64()

		logRatio := logPriorNormal(prop) - logPriorNormal(cur)
		for k, arm := range study.arms {
			off := 0.0
			if k > 0 {
				off = c.delta[s][k-1]
			}
			logRatio += m.armLogLik(arm, prop+off) - m.armLogLik(arm, cur+off)
		}

		accepted := c.accept(logRatio)
		if accepted {
			c.mu[s] = prop
		}
		c.muStep[s].track(accepted)
	}
}

// updateDeltas runs one Metropolis step per study-arm random effect. The
// conditional prior is Normal(Delta_sk, tau^2) around the structural mean.
func (c *chain) updateDeltas() {
	m := c.model
	m.structuralMeans(c.basis, c.effects, c.means)

	for s, study := range m.studies {
		for k := 1; k < len(study.arms); k++ {
			cur := c.delta[s][k-1]
			step := &c.deltaStep[s][k-1]
			prop := cur + step.scale*c.rng.NormFloat64()

			mean := c.means[s][k-1]
			logRatio := m.armLogLik(study.arms[k], c.mu[s]+prop) -
				m.armLogLik(study.arms[k], c.mu[s]+cur)
			logRatio += (sq(cur-mean) - sq(prop-mean)) / (2 * c.tau2)

			accepted := c.accept(logRatio)
			if accepted {
				c.delta[s][k-1] = prop
			}
			step.track(accepted)
		}
	}
}

// updateBasis runs one Metropolis step per basis effect against the
// Gaussian layer linking deltas to structural means.
func (c *chain) updateBasis() {
	m := c.model
	copy(c.altBasis, c.basis)

	for b := range c.basis {
		cur := c.basis[b]
		prop := cur + c.basisStep[b].scale*c.rng.NormFloat64()
		c.altBasis[b] = prop

		m.structuralMeans(c.basis, c.effects, c.means)
		m.structuralMeans(c.altBasis, c.effects, c.altMeans)

		logRatio := logPriorNormal(prop) - logPriorNormal(cur)
		for s := range m.studies {
			for k := range c.delta[s] {
				logRatio += (sq(c.delta[s][k]-c.means[s][k]) -
					sq(c.delta[s][k]-c.altMeans[s][k])) / (2 * c.tau2)
			}
		}

		accepted := c.accept(logRatio)
		if accepted {
			c.basis[b] = prop
		} else {
			c.altBasis[b] = cur
		}
		c.basisStep[b].track(accepted)
	}
}

// updateTau draws tau^2 from its conjugate inverse-gamma full conditional.
func (c *chain) updateTau() {
	m := c.model
	m.structuralMeans(c.basis, c.effects, c.means)

	count := 0.0
	ss := 0.0
	for s := range m.studies {
		for k := range c.delta[s] {
			count++
			ss += sq(c.delta[s][k] - c.means[s][k])
		}
	}

	gamma := distuv.Gamma{
		Alpha: tauShape + count/2,
		Beta:  tauRate + ss/2,
		Src:   c.rng,
	}
	precision := gamma.Rand()
	c.tau2 = math.Max(1/precision, minTau2)
}

// accept performs the Metropolis accept/reject decision.
func (c *chain) accept(logRatio float64) bool {
	if math.IsNaN(logRatio) {
		return false
	}
	if logRatio >= 0 {
		return true
	}
	return math.Log(c.rng.Float64()) < logRatio
}

func (c *chain) adaptAll() {
	for i := range c.muStep {
		c.muStep[i].adapt()
	}
	for s := range c.deltaStep {
		for k := range c.deltaStep[s] {
			c.deltaStep[s][k].adapt()
		}
	}
	for i := range c.basisStep {
		c.basisStep[i].adapt()
	}
}

func logPriorNormal(x float64) float64 {
	return -x * x / (2 * priorSD * priorSD)
}

func sq(x float64) float64 { return x * x }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
