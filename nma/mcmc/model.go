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
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/netmeta/nma/dataset"
	"github.com/AleutianAI/netmeta/nma/evgraph"
)

// Link maps the linear predictor to an event probability.
type Link int

const (
	// LinkLog models log(p) = eta (relative-risk scale). Probabilities
	// above 1 are impossible under this link; proposals implying them
	// carry -Inf log-likelihood and are rejected.
	LinkLog Link = iota

	// LinkIdentity models p = eta (risk-difference scale), valid only
	// inside (0, 1).
	LinkIdentity
)

// String returns the string representation of the Link.
func (l Link) String() string {
	switch l {
	case LinkLog:
		return "log"
	case LinkIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// ParseLink converts a configuration string to a Link.
func ParseLink(s string) (Link, error) {
	switch s {
	case "log":
		return LinkLog, nil
	case "identity":
		return LinkIdentity, nil
	default:
		return 0, fmt.Errorf("unrecognized likelihood link %q", s)
	}
}

// prob maps eta to a probability, NaN when eta falls outside the link's
// valid range.
func (l Link) prob(eta float64) float64 {
	switch l {
	case LinkLog:
		if eta >= 0 {
			return math.NaN()
		}
		return math.Exp(eta)
	case LinkIdentity:
		if eta <= 0 || eta >= 1 {
			return math.NaN()
		}
		return eta
	default:
		return math.NaN()
	}
}

// ModelKind selects the structural assumption on relative effects.
type ModelKind int

const (
	// Consistency parameterizes effects by a spanning-tree basis; every
	// other comparison is the signed path sum, so direct and indirect
	// evidence are forced onto the same effects.
	Consistency ModelKind = iota

	// Inconsistency (unrelated mean effects) gives every directly
	// observed comparison its own mean, with no tree constraint. Used to
	// probe the consistency assumption via DIC comparison.
	Inconsistency
)

// String returns the string representation of the ModelKind.
func (k ModelKind) String() string {
	switch k {
	case Consistency:
		return "consistency"
	case Inconsistency:
		return "inconsistency"
	default:
		return "unknown"
	}
}

// modelArm is one study arm with its node index and counts.
type modelArm struct {
	node int
	r, n float64
}

// modelStudy groups a study's arms; arms[0] is the baseline (lowest
// treatment identifier, matching the contrast transformer's convention).
type modelStudy struct {
	id   string
	arms []modelArm
}

// Model is the hierarchical binomial NMA model shared by all chains.
//
// Per arm: r ~ Binomial(n, p), link(p) = mu_study (+ delta for
// non-baseline arms). Study baselines mu are nuisance random intercepts
// with a vague Normal(0, 10^2) prior; arm effects delta are exchangeable
// around the structural mean with shared heterogeneity variance tau^2
// under an InverseGamma(0.001, 0.001) prior.
//
// Thread Safety: read-only after NewModel; chains share one Model.
type Model struct {
	kind    ModelKind
	link    Link
	studies []modelStudy
	nNodes  int

	// Consistency basis.
	tree *evgraph.Tree

	// Inconsistency basis: one parameter per observed edge, oriented
	// larger-index relative to smaller.
	edges     [][2]int
	edgeIndex map[[2]int]int

	basisNames []string
}

// NewModel assembles the sampling model from the evidence.
//
// Inputs:
//   - store: Validated record store.
//   - g: Evidence graph built from the same store. Must be connected.
//   - kind: Consistency or Inconsistency.
//   - link: Likelihood link.
//
// Outputs:
//   - *Model: Shared read-only model. Nil on error.
//   - error: Connectivity or lookup failures.
func NewModel(store *dataset.Store, g *evgraph.Graph, kind ModelKind, link Link) (*Model, error) {
	if err := g.RequireConnected(); err != nil {
		return nil, err
	}

	m := &Model{kind: kind, link: link, nNodes: g.NumNodes()}

	for _, study := range store.Studies() {
		if len(study.Arms) < 2 {
			return nil, errors.New("model requires studies with at least two arms; run the contrast transformer first")
		}
		ms := modelStudy{id: study.ID, arms: make([]modelArm, len(study.Arms))}
		for i, a := range study.Arms {
			node, err := g.Index(a.Treatment)
			if err != nil {
				return nil, err
			}
			ms.arms[i] = modelArm{node: node, r: float64(a.Responders), n: float64(a.SampleSize)}
		}
		m.studies = append(m.studies, ms)
	}

	switch kind {
	case Consistency:
		tree, err := g.SpanningTree()
		if err != nil {
			return nil, err
		}
		m.tree = tree
		m.basisNames = tree.BasisNames()
	case Inconsistency:
		m.edgeIndex = make(map[[2]int]int)
		for _, e := range g.Edges() {
			ia, err := g.Index(e.A)
			if err != nil {
				return nil, err
			}
			ib, err := g.Index(e.B)
			if err != nil {
				return nil, err
			}
			m.edgeIndex[[2]int{ia, ib}] = len(m.edges)
			m.edges = append(m.edges, [2]int{ia, ib})
			m.basisNames = append(m.basisNames, fmt.Sprintf("d[%s:%s]", e.A, e.B))
		}
	default:
		return nil, fmt.Errorf("unknown model kind %d", kind)
	}

	return m, nil
}

// Kind returns the model's structural assumption.
func (m *Model) Kind() ModelKind { return m.kind }

// Link returns the likelihood link.
func (m *Model) Link() Link { return m.link }

// NumBasis returns the number of basis effect parameters.
func (m *Model) NumBasis() int { return len(m.basisNames) }

// BasisNames returns the basis parameter labels.
func (m *Model) BasisNames() []string {
	out := make([]string, len(m.basisNames))
	copy(out, m.basisNames)
	return out
}

// Tree returns the consistency model's spanning tree, nil for the
// inconsistency model.
func (m *Model) Tree() *evgraph.Tree { return m.tree }

// NumStudies returns the number of studies in the model.
func (m *Model) NumStudies() int { return len(m.studies) }

// structuralMeans fills means[s][k] with the structural effect Delta for
// study s's k-th non-baseline arm implied by the basis vector. effects is
// an nNodes-sized scratch slice used by the consistency expansion.
func (m *Model) structuralMeans(basis []float64, effects []float64, means [][]float64) {
	switch m.kind {
	case Consistency:
		m.tree.Expand(basis, effects)
		for s, study := range m.studies {
			base := study.arms[0].node
			for k := 1; k < len(study.arms); k++ {
				means[s][k-1] = effects[study.arms[k].node] - effects[base]
			}
		}
	case Inconsistency:
		for s, study := range m.studies {
			base := study.arms[0].node
			for k := 1; k < len(study.arms); k++ {
				node := study.arms[k].node
				a, b, sign := base, node, 1.0
				if a > b {
					a, b, sign = b, a, -1.0
				}
				means[s][k-1] = sign * basis[m.edgeIndex[[2]int{a, b}]]
			}
		}
	}
}

// armLogLik is the binomial log-likelihood of one arm at linear predictor
// eta, -Inf outside the link's valid range. The binomial coefficient is
// constant across draws and omitted.
func (m *Model) armLogLik(arm modelArm, eta float64) float64 {
	p := m.link.prob(eta)
	if math.IsNaN(p) {
		return math.Inf(-1)
	}
	return arm.r*math.Log(p) + (arm.n-arm.r)*math.Log(1-p)
}

// residualDeviance is the summed residual deviance of all arms at the
// current state: 2*[r*log(r/rhat) + (n-r)*log((n-r)/(n-rhat))] per arm.
func (m *Model) residualDeviance(mu []float64, delta [][]float64) float64 {
	total := 0.0
	for s, study := range m.studies {
		for k, arm := range study.arms {
			eta := mu[s]
			if k > 0 {
				eta += delta[s][k-1]
			}
			p := m.link.prob(eta)
			if math.IsNaN(p) {
				return math.NaN()
			}
			rhat := arm.n * p
			if arm.r > 0 {
				total += 2 * arm.r * math.Log(arm.r/rhat)
			}
			if arm.n-arm.r > 0 {
				total += 2 * (arm.n - arm.r) * math.Log((arm.n-arm.r)/(arm.n-rhat))
			}
		}
	}
	return total
}
