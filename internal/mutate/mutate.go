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
Package mutate defines the reversible single-dependency version
transformations the search strategies explore. A mutator's Apply is a
pure function of the dependency and the adapter's version listing; it
produces the mutation record without touching the environment. Undoing
is uniform across kinds: restore the recorded From.

Mutators are registered in a precedence list; searches iterate the list
in order.
*/
package mutate

import (
	"context"
	"fmt"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/pkgsys"
)

// Mutator produces one kind of reversible version change.
type Mutator interface {
	Kind() env.MutationKind

	// Apply computes the mutation for the dependency under the given
	// adapter. It returns (nil, nil) when the mutator has no result for
	// this dependency.
	Apply(ctx context.Context, sys pkgsys.System, dep env.Dependency) (*env.Mutation, error)
}

// Registry returns the mutators in precedence order.
func Registry() []Mutator {
	return []Mutator{decrementMajor{}, decrementMinor{}}
}

// Undo restores the dependency to its pre-mutation state.
func Undo(dep *env.Dependency, mu env.Mutation) {
	dep.Version = mu.From
}

type decrementMajor struct{}

func (decrementMajor) Kind() env.MutationKind { return env.DecrementSemverMajor }

// Apply selects the newest available version strictly below the current
// major. No result when the current major is 0 or nothing older exists.
func (decrementMajor) Apply(ctx context.Context, sys pkgsys.System, dep env.Dependency) (*env.Mutation, error) {
	major, _, _, ok := pkgsys.NumericParts(dep.Version)
	if !ok || major == 0 {
		return nil, nil
	}
	boundary := fmt.Sprintf("%d.0.0", major)
	to, err := newestBelow(ctx, sys, dep.Name, boundary, -1)
	if err != nil || to == "" {
		return nil, err
	}
	return &env.Mutation{
		Kind:    env.DecrementSemverMajor,
		Package: dep.Name,
		From:    dep.Version,
		To:      to,
	}, nil
}

type decrementMinor struct{}

func (decrementMinor) Kind() env.MutationKind { return env.DecrementSemverMinor }

// Apply selects the newest available version below the current minor
// within the same major. No result when the current minor is 0 or no
// candidate exists.
func (decrementMinor) Apply(ctx context.Context, sys pkgsys.System, dep env.Dependency) (*env.Mutation, error) {
	major, minor, _, ok := pkgsys.NumericParts(dep.Version)
	if !ok || minor == 0 {
		return nil, nil
	}
	boundary := fmt.Sprintf("%d.%d.0", major, minor)
	to, err := newestBelow(ctx, sys, dep.Name, boundary, major)
	if err != nil || to == "" {
		return nil, err
	}
	return &env.Mutation{
		Kind:    env.DecrementSemverMinor,
		Package: dep.Name,
		From:    dep.Version,
		To:      to,
	}, nil
}

// newestBelow returns the newest available version strictly below
// boundary, restricted to sameMajor when it is >= 0.
func newestBelow(ctx context.Context, sys pkgsys.System, name, boundary string, sameMajor int64) (string, error) {
	available, err := sys.AvailableVersions(ctx, name)
	if err != nil {
		return "", err
	}
	for _, v := range sys.SortVersions(available, false, boundary) {
		if sys.CompareVersions(v, boundary) >= 0 {
			continue
		}
		if sameMajor >= 0 {
			m, _, _, ok := pkgsys.NumericParts(v)
			if !ok || m != sameMajor {
				continue
			}
		}
		return v, nil
	}
	return "", nil
}
