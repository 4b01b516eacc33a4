// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gls implements the frequentist graph-theoretical solver.
//
// The evidence graph is treated as an electrical network: each edge's
// conductance is the inverse variance of the pooled direct comparison, and
// relative effects are node potentials obtained through the Moore-Penrose
// pseudoinverse of the weighted graph Laplacian. The pseudoinverse is
// well-defined on any connected network despite the Laplacian being
// singular, and yields the unique minimum-variance consistent effect set:
// effect(a,c) = effect(a,b) + effect(b,c) holds exactly, and
// effect(x,x) = 0 exactly, with no separate consistency check needed.
package gls

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/netmeta/nma/contrast"
	"github.com/AleutianAI/netmeta/nma/evgraph"
)

// Sentinel errors for the solver.
var (
	// ErrNoContrasts is returned when no pairwise contrasts are supplied.
	ErrNoContrasts = errors.New("no pairwise contrasts to fit")

	// ErrSingularLaplacian is returned when the augmented Laplacian cannot
	// be inverted. On a connected network this indicates degenerate
	// (non-positive) contrast variances upstream.
	ErrSingularLaplacian = errors.New("augmented laplacian is singular")
)

// Comparison is a relative effect against a reference treatment, on the
// log odds ratio scale. Consumed by the bias test and league table.
type Comparison struct {
	// Treatment is the compared treatment.
	Treatment string

	// Effect is the estimated effect of Treatment versus the reference.
	Effect float64

	// SE is the standard error of Effect.
	SE float64
}

// Fit is one solved model (fixed or random effects).
//
// Thread Safety: read-only after Solve; safe for concurrent use.
type Fit struct {
	treatments []string
	index      map[string]int
	potentials []float64
	lplus      *mat.Dense

	// TauSquared is the additive heterogeneity variance used by this fit.
	// Zero for the fixed-effect fit.
	TauSquared float64
}

// Result bundles the fixed-effect and random-effects fits.
type Result struct {
	// Fixed is the common-effect (tau^2 = 0) fit.
	Fixed *Fit

	// Random is the random-effects fit with the moment-estimated tau^2
	// propagated into every edge weight.
	Random *Fit

	// Q is the generalized heterogeneity statistic of the fixed fit.
	Q float64

	// DF is the degrees of freedom of Q (contrasts minus T-1).
	DF int
}

// Solve fits the consistency model to the pooled evidence network.
//
// Description:
//
//	Direct comparisons are pooled per edge by inverse variance, the
//	weighted Laplacian is pseudoinverted via the connected-graph identity
//	L+ = (L + J/n)^-1 - J/n, and node potentials follow as L+ B' W y.
//	The heterogeneity variance is a generalized DerSimonian-Laird moment
//	estimate from the fixed-effect residuals, with the moment constant
//	c = tr(W) - tr(W X L+ X' W); it reduces to the classic DL constant
//	in the single-comparison case.
//
// Inputs:
//   - g: Connected evidence graph. Connectivity must already be enforced.
//   - pairs: All within-study pairwise contrasts from the transformer.
//
// Outputs:
//   - *Result: Fixed and random-effects fits. Nil on error.
//   - error: ErrNoContrasts, ErrSingularLaplacian, or unknown-treatment
//     errors from graph lookups.
func Solve(g *evgraph.Graph, pairs []contrast.PairContrast) (*Result, error) {
	if len(pairs) == 0 {
		return nil, ErrNoContrasts
	}
	if err := g.RequireConnected(); err != nil {
		return nil, err
	}

	fixed, err := solve(g, pairs, 0)
	if err != nil {
		return nil, err
	}

	q, df, tau2 := heterogeneity(g, pairs, fixed)

	random, err := solve(g, pairs, tau2)
	if err != nil {
		return nil, err
	}

	return &Result{Fixed: fixed, Random: random, Q: q, DF: df}, nil
}

// pooledEdge is one edge after inverse-variance pooling.
type pooledEdge struct {
	a, b   int // node indices, a < b
	weight float64
	effect float64 // pooled effect of b relative to a
}

// poolEdges combines per-study contrasts into one weighted effect per edge,
// adding tau2 to every contrast variance first.
func poolEdges(g *evgraph.Graph, pairs []contrast.PairContrast, tau2 float64) ([]pooledEdge, error) {
	type acc struct{ sumW, sumWY float64 }
	accs := make(map[[2]int]*acc)

	for _, p := range pairs {
		ia, err := g.Index(p.A)
		if err != nil {
			return nil, fmt.Errorf("contrast %s-%s: %w", p.A, p.B, err)
		}
		ib, err := g.Index(p.B)
		if err != nil {
			return nil, fmt.Errorf("contrast %s-%s: %w", p.A, p.B, err)
		}
		w := 1 / (p.Variance + tau2)
		key := [2]int{ia, ib}
		if accs[key] == nil {
			accs[key] = &acc{}
		}
		accs[key].sumW += w
		accs[key].sumWY += w * p.Effect
	}

	edges := make([]pooledEdge, 0, len(accs))
	for key, a := range accs {
		edges = append(edges, pooledEdge{
			a:      key[0],
			b:      key[1],
			weight: a.sumW,
			effect: a.sumWY / a.sumW,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].a != edges[j].a {
			return edges[i].a < edges[j].a
		}
		return edges[i].b < edges[j].b
	})
	return edges, nil
}

// solve runs the Laplacian pseudoinverse fit at a given tau2.
func solve(g *evgraph.Graph, pairs []contrast.PairContrast, tau2 float64) (*Fit, error) {
	edges, err := poolEdges(g, pairs, tau2)
	if err != nil {
		return nil, err
	}

	n := g.NumNodes()
	lap := mat.NewDense(n, n, nil)
	rhs := make([]float64, n)
	for _, e := range edges {
		lap.Set(e.a, e.a, lap.At(e.a, e.a)+e.weight)
		lap.Set(e.b, e.b, lap.At(e.b, e.b)+e.weight)
		lap.Set(e.a, e.b, lap.At(e.a, e.b)-e.weight)
		lap.Set(e.b, e.a, lap.At(e.b, e.a)-e.weight)
		// B' W y: the edge effect is oriented b relative to a.
		rhs[e.a] -= e.weight * e.effect
		rhs[e.b] += e.weight * e.effect
	}

	// Moore-Penrose pseudoinverse of a connected-graph Laplacian:
	// L+ = (L + J/n)^-1 - J/n.
	jn := 1 / float64(n)
	aug := mat.NewDense(n, n, nil)
	aug.Apply(func(_, _ int, v float64) float64 { return v + jn }, lap)

	var inv mat.Dense
	if err := inv.Inverse(aug); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularLaplacian, err)
	}

	lplus := mat.NewDense(n, n, nil)
	lplus.Apply(func(_, _ int, v float64) float64 { return v - jn }, &inv)

	potentials := make([]float64, n)
	mu := mat.NewVecDense(n, potentials)
	mu.MulVec(lplus, mat.NewVecDense(n, rhs))

	treatments := g.Nodes()
	index := make(map[string]int, n)
	for i, t := range treatments {
		index[t] = i
	}

	return &Fit{
		treatments: treatments,
		index:      index,
		potentials: potentials,
		lplus:      lplus,
		TauSquared: tau2,
	}, nil
}

// heterogeneity computes Q, its degrees of freedom and the moment estimate
// of tau^2 from the fixed-effect fit.
func heterogeneity(g *evgraph.Graph, pairs []contrast.PairContrast, fixed *Fit) (q float64, df int, tau2 float64) {
	sumW := 0.0
	sumW2R := 0.0
	for _, p := range pairs {
		w := 1 / p.Variance
		fittedBA := fixed.potentials[fixed.index[p.B]] - fixed.potentials[fixed.index[p.A]]
		resid := p.Effect - fittedBA
		q += w * resid * resid

		// poolEdges resolved every contrast's treatments before the fit,
		// so the lookup cannot fail here.
		r, _ := fixed.resistance(p.A, p.B)
		sumW += w
		sumW2R += w * w * r
	}

	df = len(pairs) - (g.NumNodes() - 1)
	if df <= 0 {
		return q, df, 0
	}
	c := sumW - sumW2R
	if c <= 0 {
		return q, df, 0
	}
	tau2 = (q - float64(df)) / c
	if tau2 < 0 {
		tau2 = 0
	}
	return q, df, tau2
}

// Effect returns the estimated effect of treatment a versus b on the log
// odds ratio scale. Effect(x, x) is exactly zero.
func (f *Fit) Effect(a, b string) (float64, error) {
	ia, ok := f.index[a]
	if !ok {
		return 0, evgraph.ErrUnknownTreatment
	}
	ib, ok := f.index[b]
	if !ok {
		return 0, evgraph.ErrUnknownTreatment
	}
	if ia == ib {
		return 0, nil
	}
	return f.potentials[ia] - f.potentials[ib], nil
}

// Variance returns the sampling variance of Effect(a, b): the resistance
// distance L+aa + L+bb - 2 L+ab.
func (f *Fit) Variance(a, b string) (float64, error) {
	if a == b {
		if _, ok := f.index[a]; !ok {
			return 0, evgraph.ErrUnknownTreatment
		}
		return 0, nil
	}
	return f.resistance(a, b)
}

// SE returns the standard error of Effect(a, b).
func (f *Fit) SE(a, b string) (float64, error) {
	v, err := f.Variance(a, b)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Treatments returns the treatment identifiers in node order.
func (f *Fit) Treatments() []string {
	out := make([]string, len(f.treatments))
	copy(out, f.treatments)
	return out
}

// Comparisons returns every treatment's effect and standard error versus
// the given reference, in ascending treatment order, reference excluded.
func (f *Fit) Comparisons(reference string) ([]Comparison, error) {
	if _, ok := f.index[reference]; !ok {
		return nil, evgraph.ErrUnknownTreatment
	}
	out := make([]Comparison, 0, len(f.treatments)-1)
	for _, t := range f.treatments {
		if t == reference {
			continue
		}
		eff, err := f.Effect(t, reference)
		if err != nil {
			return nil, err
		}
		se, err := f.SE(t, reference)
		if err != nil {
			return nil, err
		}
		out = append(out, Comparison{Treatment: t, Effect: eff, SE: se})
	}
	return out, nil
}

func (f *Fit) resistance(a, b string) (float64, error) {
	ia, ok := f.index[a]
	if !ok {
		return 0, evgraph.ErrUnknownTreatment
	}
	ib, ok := f.index[b]
	if !ok {
		return 0, evgraph.ErrUnknownTreatment
	}
	return f.lplus.At(ia, ia) + f.lplus.At(ib, ib) - 2*f.lplus.At(ia, ib), nil
}
