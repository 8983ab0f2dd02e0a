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

// Package config holds the tool's configuration: sandbox image names,
// the knowledge-graph address, cache location, and the optional
// key-value sink. Precedence: flags > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration tree.
type Config struct {
	Images Images `toml:"images"`
	Graph  Graph  `toml:"graph"`
	Cache  Cache  `toml:"cache"`
	Consul Consul `toml:"consul"`
	Index  Index  `toml:"index"`
}

// Images names the sandbox container images. Parsers and Validators
// are keyed by language dialect.
type Images struct {
	// Registry prefixes image names for build and push.
	Registry string `toml:"registry"`
	// ContextDir holds one build-context subdirectory per image.
	ContextDir string            `toml:"context_dir"`
	Parsers    map[string]string `toml:"parsers"`
	Validators map[string]string `toml:"validators"`
	Packaging  string            `toml:"packaging"`
}

// Graph locates the knowledge-graph database.
type Graph struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Cache locates the package-information cache database.
type Cache struct {
	Path string `toml:"path"`
}

// Consul configures the optional key-value sink.
type Consul struct {
	Address   string `toml:"address"`
	KeyPrefix string `toml:"key_prefix"`
}

// Index overrides the language package repository endpoint.
type Index struct {
	URL string `toml:"url"`
}

// Load reads the config file at path when given, otherwise ./v2.toml
// if present, otherwise defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		if _, err := os.Stat("v2.toml"); err == nil {
			path = "v2.toml"
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return cfg, nil
}

func defaults() *Config {
	cachePath := "v2-pkgcache.db"
	if dir, err := os.UserCacheDir(); err == nil {
		cachePath = filepath.Join(dir, "v2", "pkgcache.db")
	}
	return &Config{
		Images: Images{
			ContextDir: "images",
			Parsers: map[string]string{
				"python":  "v2/parse-python",
				"python2": "v2/parse-python2",
			},
			Validators: map[string]string{
				"python":  "v2/validate-python",
				"python2": "v2/validate-python2",
			},
			Packaging: "v2/apt-versions",
		},
		Graph: Graph{
			URI: "bolt://localhost:7687",
		},
		Cache: Cache{
			Path: cachePath,
		},
		Consul: Consul{
			KeyPrefix: "v2",
		},
	}
}

// AllImages returns every configured image name, registry-qualified.
func (c *Config) AllImages() []string {
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if c.Images.Registry != "" {
			name = c.Images.Registry + "/" + name
		}
		out = append(out, name)
	}
	for _, img := range c.Images.Parsers {
		add(img)
	}
	for _, img := range c.Images.Validators {
		add(img)
	}
	add(c.Images.Packaging)
	return out
}

// ParsersForLanguage returns the parser sandboxes to try for a
// language selection: every configured dialect of that language.
func (c *Config) ParsersForLanguage(language string) map[string]string {
	out := make(map[string]string)
	for dialect, image := range c.Images.Parsers {
		if dialect == language || (len(dialect) > len(language) && dialect[:len(language)] == language) {
			out[dialect] = image
		}
	}
	return out
}
