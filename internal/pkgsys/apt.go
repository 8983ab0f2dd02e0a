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
	"encoding/json"
	"strings"
	"time"

	"deps.dev/util/semver"
	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/pkgcache"
)

// AptTTL is how long cached OS package listings stay fresh. The OS
// archive moves slowly, so entries live a week before the enumeration
// sandbox runs again.
const AptTTL = 7 * 24 * time.Hour

// VersionLister enumerates the available versions of an OS package.
// It is implemented by the packaging-system sandbox.
type VersionLister interface {
	ListVersions(ctx context.Context, name string) ([]string, error)
}

// Apt is the OS-level package manager adapter.
type Apt struct {
	lister VersionLister
	cache  *pkgcache.Partition
	ord    order
	log    *logrus.Entry
}

// NewApt builds the apt adapter. Version enumeration goes through the
// given lister; results persist in the store's apt partition.
func NewApt(store *pkgcache.Store, lister VersionLister, log *logrus.Entry) *Apt {
	return &Apt{
		lister: lister,
		cache:  store.Partition("apt", AptTTL),
		ord:    order{sys: semver.DefaultSystem},
		log:    log,
	}
}

func (a *Apt) Name() string { return "apt" }

// NormalizeName folds to lower case; archive names are already
// hyphen-separated.
func (a *Apt) NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type aptDefinition struct {
	Versions []string `json:"versions"`
}

// AvailableVersions lists the package's versions in ascending archive
// order, refreshing through the packaging sandbox once the cached entry
// ages out.
func (a *Apt) AvailableVersions(ctx context.Context, name string) ([]string, error) {
	name = a.NormalizeName(name)
	entry, fresh, err := a.cache.Get(name)
	if err != nil {
		return nil, err
	}
	if entry != nil && fresh {
		var def aptDefinition
		if err := json.Unmarshal(entry.Definition, &def); err != nil {
			return nil, err
		}
		return def.Versions, nil
	}
	versions, err := a.lister.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	versions = a.ord.sortVersions(versions, true, "")
	def, err := json.Marshal(aptDefinition{Versions: versions})
	if err != nil {
		return nil, err
	}
	if err := a.cache.Put(name, def, ""); err != nil {
		a.log.WithError(err).WithField("package", name).Warn("storing cache entry")
	}
	return versions, nil
}

// SortVersions orders under relaxed semantics: semver where the strings
// conform, otherwise epoch-aware leading-numeric comparison with the
// remainder as tie-breaker.
func (a *Apt) SortVersions(versions []string, ascending bool, cutoff string) []string {
	return a.ord.sortVersions(versions, ascending, cutoff)
}

func (a *Apt) CompareVersions(x, y string) int { return a.ord.compare(x, y) }

// ExactMatch requires the archive to know the package; an unpinned
// lookup selects the newest version in the archive.
func (a *Apt) ExactMatch(ctx context.Context, name, version string) (*env.Dependency, error) {
	name = a.NormalizeName(name)
	versions, err := a.AvailableVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	if version == "" {
		return &env.Dependency{Name: name, Version: versions[len(versions)-1], System: a.Name()}, nil
	}
	for _, v := range versions {
		if v == version {
			return &env.Dependency{Name: name, Version: v, System: a.Name()}, nil
		}
	}
	return nil, nil
}

// InstallCommand pins with "=" when a version is present.
func (a *Apt) InstallCommand(dep env.Dependency) env.Command {
	spec := dep.Name
	if dep.Version != "" {
		spec += "=" + dep.Version
	}
	return env.Command{Command: "apt-get", Args: []string{"install", "-y", spec}}
}
