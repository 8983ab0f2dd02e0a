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
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/v2-project/v2/internal/pkgsys"
)

// Neo4jGraph runs the knowledge-graph queries against a Neo4j server.
// Sessions are acquired from the driver's pool per query and released
// on every exit path.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

// Dial connects to the graph database at uri. user and password may be
// empty for an unauthenticated server.
func Dial(ctx context.Context, uri, user, password string) (*Neo4jGraph, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("connecting to knowledge graph %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying knowledge graph %s: %w", uri, err)
	}
	return &Neo4jGraph{driver: driver}, nil
}

// Close releases the driver and its connection pool.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

const resourcePackagesQuery = `
MATCH (p:package {system: $system})-[:version]->(v:version)-[:resource]->(r:resource)
WHERE toLower(r.name) STARTS WITH toLower($name) OR p.name = $name
RETURN p.name AS name, collect(DISTINCT v.name) AS versions`

func (g *Neo4jGraph) ResourcePackages(ctx context.Context, name, system string) ([]PackageHit, error) {
	var hits []PackageHit
	err := g.read(ctx, resourcePackagesQuery, map[string]any{"name": name, "system": system},
		func(rec *neo4j.Record) error {
			pkg, _, err := neo4j.GetRecordValue[string](rec, "name")
			if err != nil {
				return err
			}
			raw, _, err := neo4j.GetRecordValue[[]any](rec, "versions")
			if err != nil {
				return err
			}
			hits = append(hits, PackageHit{Name: pkg, Version: highestVersion(raw)})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// highestVersion picks the largest of the version strings the graph
// knows, under relaxed version ordering.
func highestVersion(raw []any) string {
	best := ""
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if best == "" || pkgsys.CompareRelaxed(s, best) > 0 {
			best = s
		}
	}
	return best
}

const resourceDependenciesQuery = `
MATCH (p:package {name: $name, system: $system})-[:version]->(:version)-[:resource_dependency]->(r:resource)
RETURN DISTINCT r.name AS name`

func (g *Neo4jGraph) ResourceDependencies(ctx context.Context, name, system string) ([]string, error) {
	return g.readNames(ctx, resourceDependenciesQuery, name, system)
}

const associationDependenciesQuery = `
MATCH (p:package {name: $name, system: $system})-[:association]->(:association)-[:association]->(q:package)
RETURN DISTINCT q.name AS name`

func (g *Neo4jGraph) AssociationDependencies(ctx context.Context, name, system string) ([]string, error) {
	return g.readNames(ctx, associationDependenciesQuery, name, system)
}

const upgradeEvidenceQuery = `
MATCH (p:package {name: $name, system: $system})-[:version]->(v1:version)<-[:upgrade]-(u:upgrade)-[:upgrade]->(v2:version)
WHERE u.percent_broken > 0
RETURN v1.name AS from, v2.name AS to, u.percent_broken AS percent_broken
ORDER BY u.percent_broken DESC`

func (g *Neo4jGraph) UpgradeEvidence(ctx context.Context, name, system string) ([]Upgrade, error) {
	type row struct {
		from, to string
	}
	var rows []row
	err := g.read(ctx, upgradeEvidenceQuery, map[string]any{"name": name, "system": system},
		func(rec *neo4j.Record) error {
			from, _, err := neo4j.GetRecordValue[string](rec, "from")
			if err != nil {
				return err
			}
			to, _, err := neo4j.GetRecordValue[string](rec, "to")
			if err != nil {
				return err
			}
			rows = append(rows, row{from: from, to: to})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return groupUpgrades(func(yield func(from, to string)) {
		for _, r := range rows {
			yield(r.from, r.to)
		}
	}), nil
}

// groupUpgrades folds (from, to) rows, already ordered by decreasing
// percent_broken, into per-source Upgrade entries preserving that
// order within each destination list.
func groupUpgrades(rows func(yield func(from, to string))) []Upgrade {
	index := make(map[string]int)
	var out []Upgrade
	rows(func(from, to string) {
		i, ok := index[from]
		if !ok {
			i = len(out)
			index[from] = i
			out = append(out, Upgrade{From: from})
		}
		out[i].To = append(out[i].To, to)
	})
	return out
}

const hasUpgradesQuery = `
MATCH (p:package {name: $name, system: $system})-[:version]->(:version)<-[:upgrade]-(u:upgrade)
RETURN count(u) AS n`

func (g *Neo4jGraph) HasUpgrades(ctx context.Context, name, system string) (bool, error) {
	has := false
	err := g.read(ctx, hasUpgradesQuery, map[string]any{"name": name, "system": system},
		func(rec *neo4j.Record) error {
			n, _, err := neo4j.GetRecordValue[int64](rec, "n")
			if err != nil {
				return err
			}
			has = n > 0
			return nil
		})
	if err != nil {
		return false, err
	}
	return has, nil
}

func (g *Neo4jGraph) readNames(ctx context.Context, query, name, system string) ([]string, error) {
	var names []string
	err := g.read(ctx, query, map[string]any{"name": name, "system": system},
		func(rec *neo4j.Record) error {
			n, _, err := neo4j.GetRecordValue[string](rec, "name")
			if err != nil {
				return err
			}
			names = append(names, n)
			return nil
		})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// read runs one query in a read session scoped to the call.
func (g *Neo4jGraph) read(ctx context.Context, query string, params map[string]any, row func(*neo4j.Record) error) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			if err := row(result.Record()); err != nil {
				return nil, err
			}
		}
		return nil, result.Err()
	})
	if err != nil {
		return fmt.Errorf("knowledge graph query: %w", err)
	}
	return nil
}
