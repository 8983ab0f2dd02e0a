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

/*
Package pkgsys provides a uniform view over each packaging ecosystem:
name normalization, version listing and ordering, exact-match lookup,
and install-command synthesis.

Two adapters are provided: pip, the language-level package repository,
and apt, the OS-level package manager. Version semantics are delegated
to deps.dev/util/semver with a relaxed fallback for version strings the
ecosystem emits but the standard does not admit (distribution epochs,
local suffixes).
*/
package pkgsys

import (
	"context"
	"errors"
	"fmt"

	"github.com/v2-project/v2/internal/env"
)

// ErrUnknownSystem is returned by a Registry lookup for a system no
// adapter is registered under.
var ErrUnknownSystem = errors.New("unknown packaging system")

// System is the capability contract one packaging ecosystem implements.
type System interface {
	// Name is the identifier dependencies carry in their System field.
	Name() string

	// NormalizeName returns the canonical spelling of a package name.
	// It is idempotent.
	NormalizeName(name string) string

	// AvailableVersions returns all known versions of the package in
	// canonical upstream order. Results are cached keyed by the
	// normalized name.
	AvailableVersions(ctx context.Context, name string) ([]string, error)

	// SortVersions orders versions under the adapter's semantics. When
	// cutoff is non-empty only versions >= cutoff (ascending) or
	// <= cutoff (descending) are included.
	SortVersions(versions []string, ascending bool, cutoff string) []string

	// CompareVersions returns -1, 0 or +1 ordering a before, equal to,
	// or after b under the adapter's semantics.
	CompareVersions(a, b string) int

	// ExactMatch returns the canonical Dependency if a package of
	// exactly that name exists, pinned to version when given and to the
	// newest available version otherwise. It returns nil when the
	// package (or the requested version) does not exist.
	ExactMatch(ctx context.Context, name, version string) (*env.Dependency, error)

	// InstallCommand synthesizes the invocation installing dep, pinned
	// when dep.Version is set.
	InstallCommand(dep env.Dependency) env.Command
}

// Registry holds the configured adapters keyed by system name.
type Registry struct {
	systems map[string]System
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(systems ...System) *Registry {
	r := &Registry{systems: make(map[string]System, len(systems))}
	for _, s := range systems {
		r.systems[s.Name()] = s
	}
	return r
}

// For returns the adapter registered for the system.
func (r *Registry) For(system string) (System, error) {
	s, ok := r.systems[system]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystem, system)
	}
	return s, nil
}
