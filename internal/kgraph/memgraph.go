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

package kgraph

import (
	"context"
	"sort"
	"strings"

	"github.com/v2-project/v2/internal/pkgsys"
)

// MemGraph is an in-memory Graph used by tests and offline runs. Keys
// are scoped by system with the key helper.
type MemGraph struct {
	// Packages maps system-scoped package names to the versions the
	// graph knows, with their provided resources.
	Packages map[string]*MemPackage
}

// MemPackage is one package's slice of the in-memory graph.
type MemPackage struct {
	Name      string
	System    string
	Versions  []string
	Resources []string
	// ResourceDeps and Associations name the packages reachable by the
	// corresponding edge kinds.
	ResourceDeps []string
	Associations []string
	// Upgrades holds breaking-upgrade evidence in decreasing
	// percent_broken order; HasUpgradeData marks the subgraph present
	// even when Upgrades is empty.
	Upgrades       []Upgrade
	HasUpgradeData bool
}

// NewMemGraph returns an empty in-memory graph.
func NewMemGraph() *MemGraph {
	return &MemGraph{Packages: make(map[string]*MemPackage)}
}

// Add inserts a package, replacing any previous entry of the same name
// and system.
func (m *MemGraph) Add(p *MemPackage) {
	m.Packages[key(p.Name, p.System)] = p
}

func key(name, system string) string { return system + "\x00" + name }

func (m *MemGraph) ResourcePackages(_ context.Context, name, system string) ([]PackageHit, error) {
	var hits []PackageHit
	for _, p := range m.Packages {
		if p.System != system {
			continue
		}
		match := p.Name == name
		if !match {
			for _, r := range p.Resources {
				if strings.HasPrefix(strings.ToLower(r), strings.ToLower(name)) {
					match = true
					break
				}
			}
		}
		if match {
			hits = append(hits, PackageHit{Name: p.Name, Version: p.highest()})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Name < hits[j].Name })
	return hits, nil
}

func (p *MemPackage) highest() string {
	best := ""
	for _, v := range p.Versions {
		if best == "" || pkgsys.CompareRelaxed(v, best) > 0 {
			best = v
		}
	}
	return best
}

func (m *MemGraph) ResourceDependencies(_ context.Context, name, system string) ([]string, error) {
	p, ok := m.Packages[key(name, system)]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), p.ResourceDeps...), nil
}

func (m *MemGraph) AssociationDependencies(_ context.Context, name, system string) ([]string, error) {
	p, ok := m.Packages[key(name, system)]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), p.Associations...), nil
}

func (m *MemGraph) UpgradeEvidence(_ context.Context, name, system string) ([]Upgrade, error) {
	p, ok := m.Packages[key(name, system)]
	if !ok {
		return nil, nil
	}
	out := make([]Upgrade, len(p.Upgrades))
	for i, u := range p.Upgrades {
		out[i] = Upgrade{From: u.From, To: append([]string(nil), u.To...)}
	}
	return out, nil
}

func (m *MemGraph) HasUpgrades(_ context.Context, name, system string) (bool, error) {
	p, ok := m.Packages[key(name, system)]
	if !ok {
		return false, nil
	}
	return p.HasUpgradeData || len(p.Upgrades) > 0, nil
}
