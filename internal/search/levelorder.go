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

package search

import (
	"context"

	"github.com/v2-project/v2/internal/env"
)

// DefaultLevels bounds the breadth-first mutation tree.
const DefaultLevels = 10

// LevelOrder explores the mutation tree breadth-first. Every frontier
// entry is yielded before the next level is expanded; expansion deep
// clones, so siblings never share state.
type LevelOrder struct {
	cfg    Config
	Levels int
}

// NewLevelOrder builds the strategy with the default level bound.
func NewLevelOrder(cfg Config) *LevelOrder {
	return &LevelOrder{cfg: cfg, Levels: DefaultLevels}
}

func (s *LevelOrder) Search(ctx context.Context, root *env.Environment, budget int, yield Yield) (*Metadata, error) {
	meta := &Metadata{RootID: root.ID, Reason: ReasonExhausted}
	frontier := []*env.Environment{root}
	for level := 0; level < s.Levels && len(frontier) > 0; level++ {
		for _, e := range frontier {
			if meta.Yielded >= budget {
				return meta, nil
			}
			if _, err := yield(e); err != nil {
				return meta, err
			}
			meta.Yielded++
		}
		if level == s.Levels-1 {
			break
		}
		next, err := s.expand(ctx, frontier)
		if err != nil {
			return meta, err
		}
		frontier = next
	}
	return meta, nil
}

// expand branches every frontier entry over each (dependency, mutator)
// pair that produces a result.
func (s *LevelOrder) expand(ctx context.Context, frontier []*env.Environment) ([]*env.Environment, error) {
	var next []*env.Environment
	for _, e := range frontier {
		for di, dep := range e.Dependencies {
			sys, err := s.cfg.systemFor(dep)
			if err != nil {
				return nil, err
			}
			for mi, m := range s.cfg.Mutators {
				mu, err := m.Apply(ctx, sys, dep)
				if err != nil {
					return nil, err
				}
				if mu == nil {
					continue
				}
				mu.Index = di
				mu.MutatorIndex = mi
				c := e.Clone()
				c.PushMutation(*mu)
				next = append(next, c)
			}
		}
	}
	return next, nil
}
