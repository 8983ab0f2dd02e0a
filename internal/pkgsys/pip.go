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
	"fmt"
	"io"
	"net/http"
	"time"

	"deps.dev/util/pypi"
	"deps.dev/util/semver"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/pkgcache"
)

// PipTTL is how long a cached package index entry stays fresh before it
// is revalidated against the repository.
const PipTTL = time.Hour

const defaultIndexURL = "https://pypi.org/pypi"

// Pip is the language-level package repository adapter. It lists
// versions from the package index JSON API, revalidating cached entries
// with conditional GETs when an ETag is on file.
type Pip struct {
	indexURL string
	client   *retryablehttp.Client
	cache    *pkgcache.Partition
	ord      order
	log      *logrus.Entry
}

// NewPip builds the pip adapter over the given cache store. indexURL
// overrides the default package index when non-empty.
func NewPip(store *pkgcache.Store, indexURL string, log *logrus.Entry) *Pip {
	if indexURL == "" {
		indexURL = defaultIndexURL
	}
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Pip{
		indexURL: indexURL,
		client:   client,
		cache:    store.Partition("pip", PipTTL),
		ord:      order{sys: semver.PyPI},
		log:      log,
	}
}

func (p *Pip) Name() string { return "pip" }

// NormalizeName canonicalizes the package name per the repository's
// naming rules (runs of [-_.] fold to "-", case folds to lower).
func (p *Pip) NormalizeName(name string) string {
	return pypi.CanonPackageName(name)
}

// pipDefinition is the cached shape of one package's index entry.
type pipDefinition struct {
	Versions []string `json:"versions"`
}

// AvailableVersions returns all release versions of the package in
// ascending repository order. Within the cache TTL no upstream request
// is made; past it, the stored ETag turns the refresh into a
// revalidation.
func (p *Pip) AvailableVersions(ctx context.Context, name string) ([]string, error) {
	name = p.NormalizeName(name)
	entry, fresh, err := p.cache.Get(name)
	if err != nil {
		return nil, err
	}
	if entry != nil && fresh {
		return decodePipDefinition(entry.Definition)
	}
	etag := ""
	if entry != nil {
		etag = entry.ETag
	}
	versions, newETag, notModified, err := p.fetchVersions(ctx, name, etag)
	if err != nil {
		return nil, err
	}
	if notModified {
		if err := p.cache.Touch(name); err != nil {
			p.log.WithError(err).WithField("package", name).Warn("refreshing cache entry")
		}
		return decodePipDefinition(entry.Definition)
	}
	def, err := json.Marshal(pipDefinition{Versions: versions})
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(name, def, newETag); err != nil {
		p.log.WithError(err).WithField("package", name).Warn("storing cache entry")
	}
	return versions, nil
}

func decodePipDefinition(raw json.RawMessage) ([]string, error) {
	var def pipDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return def.Versions, nil
}

// fetchVersions queries the index JSON API. A 404 means the package
// does not exist and yields an empty version list rather than an error.
func (p *Pip) fetchVersions(ctx context.Context, name, etag string) (versions []string, newETag string, notModified bool, err error) {
	url := fmt.Sprintf("%s/%s/json", p.indexURL, name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", false, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", false, fmt.Errorf("querying package index for %s: %w", name, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, "", true, nil
	case http.StatusNotFound:
		return nil, "", false, nil
	case http.StatusOK:
	default:
		return nil, "", false, fmt.Errorf("package index returned %s for %s", resp.Status, name)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false, err
	}
	var doc struct {
		Releases map[string][]json.RawMessage `json:"releases"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, "", false, fmt.Errorf("decoding package index entry for %s: %w", name, err)
	}
	versions = make([]string, 0, len(doc.Releases))
	for v := range doc.Releases {
		versions = append(versions, v)
	}
	versions = p.ord.sortVersions(versions, true, "")
	return versions, resp.Header.Get("ETag"), false, nil
}

// SortVersions orders versions under PEP 440 semantics, tolerating
// pre-release suffixes and falling back to relaxed comparison for
// strings PEP 440 rejects.
func (p *Pip) SortVersions(versions []string, ascending bool, cutoff string) []string {
	return p.ord.sortVersions(versions, ascending, cutoff)
}

func (p *Pip) CompareVersions(a, b string) int { return p.ord.compare(a, b) }

// ExactMatch reports the canonical dependency for the package if the
// index knows it. With version empty the newest release is selected;
// otherwise the pinned version must be among the releases.
func (p *Pip) ExactMatch(ctx context.Context, name, version string) (*env.Dependency, error) {
	name = p.NormalizeName(name)
	versions, err := p.AvailableVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	if version == "" {
		return &env.Dependency{Name: name, Version: versions[len(versions)-1], System: p.Name()}, nil
	}
	for _, v := range versions {
		if v == version || p.ord.compare(v, version) == 0 {
			return &env.Dependency{Name: name, Version: v, System: p.Name()}, nil
		}
	}
	return nil, nil
}

// InstallCommand pins with "==" when a version is present.
func (p *Pip) InstallCommand(dep env.Dependency) env.Command {
	spec := dep.Name
	if dep.Version != "" {
		spec += "==" + dep.Version
	}
	return env.Command{Command: "pip", Args: []string{"install", spec}}
}
