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

package pkgsys

import (
	"context"

	"deps.dev/util/pypi"
	"deps.dev/util/semver"

	"github.com/v2-project/v2/internal/env"
)

// Static is an in-memory adapter over a fixed version listing. Tests
// and offline runs use it in place of a live packaging system; it
// follows the pip adapter's normalization and ordering.
type Static struct {
	SystemName string
	// Versions maps normalized package names to their versions, in any
	// order.
	Versions map[string][]string
	// Installer is the install command name; defaults to "pip".
	Installer string

	ord order
}

// NewStatic builds a static adapter for the named system.
func NewStatic(system string, versions map[string][]string) *Static {
	return &Static{
		SystemName: system,
		Versions:   versions,
		Installer:  "pip",
		ord:        order{sys: semver.PyPI},
	}
}

func (s *Static) Name() string { return s.SystemName }

func (s *Static) NormalizeName(name string) string { return pypi.CanonPackageName(name) }

func (s *Static) AvailableVersions(_ context.Context, name string) ([]string, error) {
	return s.ord.sortVersions(s.Versions[s.NormalizeName(name)], true, ""), nil
}

func (s *Static) SortVersions(versions []string, ascending bool, cutoff string) []string {
	return s.ord.sortVersions(versions, ascending, cutoff)
}

func (s *Static) CompareVersions(a, b string) int { return s.ord.compare(a, b) }

func (s *Static) ExactMatch(ctx context.Context, name, version string) (*env.Dependency, error) {
	name = s.NormalizeName(name)
	versions, err := s.AvailableVersions(ctx, name)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	if version == "" {
		return &env.Dependency{Name: name, Version: versions[len(versions)-1], System: s.SystemName}, nil
	}
	for _, v := range versions {
		if v == version || s.ord.compare(v, version) == 0 {
			return &env.Dependency{Name: name, Version: v, System: s.SystemName}, nil
		}
	}
	return nil, nil
}

func (s *Static) InstallCommand(dep env.Dependency) env.Command {
	spec := dep.Name
	if dep.Version != "" {
		spec += "==" + dep.Version
	}
	return env.Command{Command: s.Installer, Args: []string{"install", spec}}
}
