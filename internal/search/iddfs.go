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
	"errors"

	"github.com/v2-project/v2/internal/env"
)

// IDDFS yields the root, then explores the mutation tree at increasing
// fixed depths until the budget is spent or a full depth pass produced
// nothing new. The environment is mutated in place; the mutation stack
// with its stored (index, mutatorIndex) bookkeeping makes every
// backtrack exact.
type IDDFS struct {
	cfg Config
}

// NewIDDFS builds the strategy.
func NewIDDFS(cfg Config) *IDDFS {
	return &IDDFS{cfg: cfg}
}

func (s *IDDFS) Search(ctx context.Context, root *env.Environment, budget int, yield Yield) (*Metadata, error) {
	meta := &Metadata{RootID: root.ID, Reason: ReasonExhausted}
	if budget <= 0 {
		return meta, nil
	}
	if _, err := yield(root); err != nil {
		return meta, err
	}
	meta.Yielded++

	core := &dfsCore{
		indices:  allIndices(root),
		mutators: genericCoreMutators(s.cfg),
	}
	for d := 1; meta.Yielded < budget; d++ {
		passYields, err := core.pass(ctx, root, d, func() (bool, error) {
			if _, err := yield(root); err != nil {
				return false, err
			}
			meta.Yielded++
			return meta.Yielded < budget, nil
		})
		if err != nil {
			return meta, err
		}
		if passYields == 0 {
			break
		}
	}
	return meta, nil
}

func allIndices(e *env.Environment) []int {
	indices := make([]int, len(e.Dependencies))
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// coreMutator is a mutator as the DFS engine sees it: an apply over a
// dependency slot of the working environment, and an optional hook run
// when a mutation of this kind is undone.
type coreMutator struct {
	apply func(ctx context.Context, e *env.Environment, depIndex int) (*env.Mutation, error)
	// onUndo restores any strategy state the apply consumed, beyond the
	// version restore PopMutation already performed.
	onUndo func(e *env.Environment, mu env.Mutation)
}

// genericCoreMutators adapts the registered semver mutators.
func genericCoreMutators(cfg Config) []coreMutator {
	out := make([]coreMutator, 0, len(cfg.Mutators))
	for _, m := range cfg.Mutators {
		m := m
		out = append(out, coreMutator{
			apply: func(ctx context.Context, e *env.Environment, depIndex int) (*env.Mutation, error) {
				dep := e.Dependencies[depIndex]
				sys, err := cfg.systemFor(dep)
				if err != nil {
					return nil, err
				}
				return m.Apply(ctx, sys, dep)
			},
		})
	}
	return out
}

// dfsCore runs one fixed-depth DFS pass over the environment, scanning
// the configured dependency slots with the configured mutators.
//
// The walk state is (currentDepth, dependencyIndex, mutatorIndex) plus
// the environment's mutation stack. A successful apply descends without
// moving the scan position, so repeated application chains version
// steps; an apply with no result, or a yield, advances laterally
// (mutatorIndex first, wrapping into dependencyIndex). Backtracking
// pops one mutation, undoes it exactly, restores the scan position from
// the popped record, and moves laterally once. The pass ends when
// backtracking would pop the stack below where the pass started.
type dfsCore struct {
	indices  []int
	mutators []coreMutator
	// accept, when set, vetoes a computed mutation before it is
	// pushed; a veto counts as an apply failure.
	accept func(*env.Environment, *env.Mutation) bool
}

func (c *dfsCore) pass(ctx context.Context, e *env.Environment, depth int, emit func() (bool, error)) (int, error) {
	base := len(e.Metadata.Mutations)
	cur := 0
	ii, mi := 0, 0
	yields := 0
	for {
		if err := ctx.Err(); err != nil {
			c.unwind(e, base)
			return yields, err
		}
		if ii >= len(c.indices) {
			if len(e.Metadata.Mutations) == base {
				return yields, nil
			}
			mu := c.pop(e)
			cur--
			ii, mi = c.slotOf(mu.Index), mu.MutatorIndex
			ii, mi = c.lateral(ii, mi)
			continue
		}
		mu, err := c.mutators[mi].apply(ctx, e, c.indices[ii])
		if err != nil {
			c.unwind(e, base)
			return yields, err
		}
		if mu == nil || (c.accept != nil && !c.accept(e, mu)) {
			ii, mi = c.lateral(ii, mi)
			continue
		}
		mu.Index = c.indices[ii]
		mu.MutatorIndex = mi
		e.PushMutation(*mu)
		cur++
		if cur < depth {
			continue
		}
		yields++
		cont, err := emit()
		if errors.Is(err, errKeepState) {
			// The consumer is keeping the applied state; leave the
			// stack as it stands.
			return yields, err
		}
		// Undo the just-emitted push without re-emitting, then move
		// laterally.
		c.pop(e)
		cur--
		if err != nil || !cont {
			c.unwind(e, base)
			return yields, err
		}
		ii, mi = c.lateral(ii, mi)
	}
}

func (c *dfsCore) lateral(ii, mi int) (int, int) {
	mi++
	if mi >= len(c.mutators) {
		mi = 0
		ii++
	}
	return ii, mi
}

// slotOf maps a dependency position back to its scan position.
func (c *dfsCore) slotOf(depIndex int) int {
	for i, di := range c.indices {
		if di == depIndex {
			return i
		}
	}
	return len(c.indices)
}

func (c *dfsCore) pop(e *env.Environment) env.Mutation {
	mu := e.PopMutation()
	if h := c.mutators[mu.MutatorIndex].onUndo; h != nil {
		h(e, mu)
	}
	return mu
}

// unwind restores the environment to the stack height the pass started
// at.
func (c *dfsCore) unwind(e *env.Environment, base int) {
	for len(e.Metadata.Mutations) > base {
		c.pop(e)
	}
}
