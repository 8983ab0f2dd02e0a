// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package infer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/pkgsys"
)

// resolveLimit bounds concurrent per-resource lookups within one
// environment's direct resolution.
const resolveLimit = 8

// Edge restriction modes for transitive resolution.
const (
	OnlyDeps  = "deps"
	OnlyAssoc = "assoc"
	OnlyNone  = "none"
	OnlyAll   = ""
)

// ValidateOnly rejects edge-restriction values outside the closed set.
// Without this check a typo would silently behave like OnlyNone.
func ValidateOnly(only string) error {
	switch only {
	case OnlyAll, OnlyDeps, OnlyAssoc, OnlyNone:
		return nil
	}
	return fmt.Errorf("invalid --only value %q (expected %s, %s or %s)",
		only, OnlyDeps, OnlyAssoc, OnlyNone)
}

// resolve populates the environment's direct and transitive dependency
// lookups and its install-order dependency list.
func (d *Driver) resolve(ctx context.Context, e *env.Environment, only string) error {
	if err := ValidateOnly(only); err != nil {
		return err
	}
	sys, err := d.registry.For(e.Metadata.Parse.Language.System)
	if err != nil {
		return err
	}
	if err := d.resolveDirect(ctx, e, sys); err != nil {
		return err
	}
	if only == OnlyNone {
		e.Dependencies = append([]env.Dependency(nil), e.Metadata.DirectLookup...)
		return nil
	}
	return d.resolveTransitive(ctx, e, sys, only)
}

// directResult is the outcome of resolving one imported resource.
type directResult struct {
	candidates []env.Dependency
	fallback   *env.Dependency
	failed     bool
}

// resolveDirect maps every imported resource to concrete packages:
// knowledge-graph candidates confirmed by the adapter first, then an
// exact-name fallback against the adapter alone. The nameResolutions
// counter measures only non-trivial resolutions, i.e. resources whose
// package name differs from the resource name.
func (d *Driver) resolveDirect(ctx context.Context, e *env.Environment, sys pkgsys.System) error {
	resources := e.Metadata.ImportedResources
	results := make([]directResult, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveLimit)
	for i, r := range resources {
		i, r := i, r
		g.Go(func() error {
			res, err := d.resolveResource(gctx, r, sys)
			if err != nil {
				// A single resource failing to resolve is recovered
				// locally: log it and record the gap.
				d.log.WithError(err).WithField("resource", r).Warn("resolving resource")
				results[i] = directResult{failed: true}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	key := func(dep env.Dependency) string { return dep.System + "\x00" + sys.NormalizeName(dep.Name) }
	for i, r := range resources {
		res := results[i]
		if res.failed {
			e.Metadata.UnresolvedResources = append(e.Metadata.UnresolvedResources, r)
			continue
		}
		exactName := sys.NormalizeName(r)
		hadExact, appendedExact := false, false
		for _, dep := range res.candidates {
			isExact := sys.NormalizeName(dep.Name) == exactName
			if isExact {
				hadExact = true
			}
			if seen[key(dep)] {
				continue
			}
			seen[key(dep)] = true
			e.Metadata.DirectLookup = append(e.Metadata.DirectLookup, dep)
			e.Metadata.NameResolutions++
			e.Metadata.ResourcePackageMapping = append(e.Metadata.ResourcePackageMapping,
				env.ResourcePackage{Resource: r, Package: dep.Name})
			if isExact {
				appendedExact = true
			}
		}
		if !hadExact && res.fallback != nil {
			dep := *res.fallback
			if !seen[key(dep)] {
				seen[key(dep)] = true
				e.Metadata.DirectLookup = append(e.Metadata.DirectLookup, dep)
				e.Metadata.ResourcePackageMapping = append(e.Metadata.ResourcePackageMapping,
					env.ResourcePackage{Resource: r, Package: dep.Name})
			}
			hadExact = true
		}
		if appendedExact {
			// The resource resolved trivially through the graph; the
			// counter only measures non-trivial resolutions.
			e.Metadata.NameResolutions--
		}
		if !hadExact && len(res.candidates) == 0 {
			e.Metadata.UnresolvedResources = append(e.Metadata.UnresolvedResources, r)
		}
	}
	return nil
}

// resolveResource queries the graph and the adapter for one resource.
func (d *Driver) resolveResource(ctx context.Context, resource string, sys pkgsys.System) (directResult, error) {
	hits, err := d.graph.ResourcePackages(ctx, resource, sys.Name())
	if err != nil {
		return directResult{}, err
	}

	var res directResult
	type matchResult struct {
		dep *env.Dependency
	}
	matches := make([]matchResult, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveLimit)
	for i, hit := range hits {
		i, hit := i, hit
		g.Go(func() error {
			dep, err := sys.ExactMatch(gctx, hit.Name, "")
			if err != nil {
				return err
			}
			matches[i] = matchResult{dep: dep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return directResult{}, err
	}
	exactName := sys.NormalizeName(resource)
	haveExact := false
	for _, m := range matches {
		if m.dep == nil {
			continue
		}
		res.candidates = append(res.candidates, *m.dep)
		if sys.NormalizeName(m.dep.Name) == exactName {
			haveExact = true
		}
	}
	if !haveExact {
		dep, err := sys.ExactMatch(ctx, resource, "")
		if err != nil {
			return directResult{}, err
		}
		res.fallback = dep
	}
	return res, nil
}

// resolveTransitive computes the prerequisite closure of the direct
// dependencies by reverse DFS over the selected edge kinds and writes
// the install order: DFS post-order, so every dependency lands after
// its discovered prerequisites, with the direct dependencies at their
// natural post-order positions. A visited set keyed by normalized name
// and system breaks cycles at discovery time.
func (d *Driver) resolveTransitive(ctx context.Context, e *env.Environment, sys pkgsys.System, only string) error {
	visited := make(map[string]bool)
	var install []env.Dependency

	var visit func(dep env.Dependency) error
	visit = func(dep env.Dependency) error {
		k := dep.System + "\x00" + sys.NormalizeName(dep.Name)
		if visited[k] {
			return nil
		}
		visited[k] = true
		prereqs, err := d.prerequisites(ctx, dep, sys, only)
		if err != nil {
			return err
		}
		for _, name := range prereqs {
			match, err := sys.ExactMatch(ctx, name, "")
			if err != nil {
				return err
			}
			if match == nil {
				d.log.WithField("package", name).Debug("prerequisite not known to adapter")
				continue
			}
			pk := match.System + "\x00" + sys.NormalizeName(match.Name)
			if !visited[pk] {
				e.Metadata.TransitiveLookup = append(e.Metadata.TransitiveLookup, *match)
			}
			if err := visit(*match); err != nil {
				return err
			}
		}
		install = append(install, dep)
		return nil
	}

	for _, dep := range e.Metadata.DirectLookup {
		if err := visit(dep); err != nil {
			return err
		}
	}
	e.Dependencies = install
	return nil
}

// prerequisites returns the packages one hop out from dep along the
// selected edge kinds.
func (d *Driver) prerequisites(ctx context.Context, dep env.Dependency, sys pkgsys.System, only string) ([]string, error) {
	var names []string
	if only == OnlyAll || only == OnlyDeps {
		deps, err := d.graph.ResourceDependencies(ctx, dep.Name, sys.Name())
		if err != nil {
			return nil, err
		}
		names = append(names, deps...)
	}
	if only == OnlyAll || only == OnlyAssoc {
		assoc, err := d.graph.AssociationDependencies(ctx, dep.Name, sys.Name())
		if err != nil {
			return nil, err
		}
		names = append(names, assoc...)
	}
	// Union the edge kinds without duplicates, preserving order.
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
