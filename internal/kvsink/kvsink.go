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

// Package kvsink writes inference records to an external key-value
// store when one is configured.
package kvsink

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/hashicorp/consul/api"
)

// Consul stores records under <prefix>/... keys in Consul's KV store.
type Consul struct {
	kv     *api.KV
	prefix string
}

// NewConsul connects to the agent at addr.
func NewConsul(addr, prefix string) (*Consul, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to consul %s: %w", addr, err)
	}
	return &Consul{kv: client.KV(), prefix: prefix}, nil
}

// Put serializes value as JSON under the prefixed key.
func (c *Consul) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = c.kv.Put(&api.KVPair{Key: path.Join(c.prefix, key), Value: data}, nil)
	return err
}
