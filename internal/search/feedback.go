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
	"github.com/v2-project/v2/internal/lang"
)

// Feedback is the primary strategy: it resolves one execution
// exception at a time. The validation whose exception is currently
// being worked on is the checkpoint; once a new validation's earliest
// exception moves past the checkpoint's, the checkpoint counts as
// fixed and the search advances to the new exception.
//
// Mutations come from the knowledge graph's version-matrix evidence for
// the blamed dependency when available; otherwise from a lazily created
// dependency-scoped IDDFS, or, when no single dependency is blamed,
// from a whole-environment IDDFS that prefers matrix transitions over
// generic semver decrements.
type Feedback struct {
	cfg Config
}

// NewFeedback builds the strategy.
func NewFeedback(cfg Config) *Feedback {
	return &Feedback{cfg: cfg}
}

func (s *Feedback) Search(ctx context.Context, root *env.Environment, budget int, yield Yield) (*Metadata, error) {
	meta := &Metadata{RootID: root.ID, Reason: ReasonExhausted}
	if budget <= 0 {
		return meta, nil
	}

	// The checkpoint is initialized from the validation of the
	// unmutated root.
	checkpoint, err := yield(root)
	if err != nil {
		return meta, err
	}
	meta.Yielded++
	finish := func() *Metadata {
		meta.Checkpoint = checkpoint
		meta.FixedValidations = append([]*env.Validation(nil), root.Metadata.FixedValidations...)
		return meta
	}
	if reason, terminal := s.classify(root, checkpoint); terminal {
		meta.Reason = reason
		return finish(), nil
	}
	index := s.cfg.Language.DependencyProducingException(root, checkpoint)

	var sub *stepper
	defer func() {
		if sub != nil {
			sub.Stop(false)
		}
	}()

	for meta.Yielded < budget {
		applied, err := s.step(ctx, root, index, &sub)
		if err != nil {
			return finish(), err
		}
		if !applied {
			return finish(), nil
		}

		// Optimistically count the checkpoint as fixed for the yield,
		// so a success observed by the consumer carries it.
		root.Metadata.FixedValidations = append(root.Metadata.FixedValidations, checkpoint)
		v, err := yield(root)
		if err != nil {
			return finish(), err
		}
		meta.Yielded++
		root.Metadata.FixedValidations = root.Metadata.FixedValidations[:len(root.Metadata.FixedValidations)-1]

		if v.Equal(checkpoint) {
			// No progress; keep working on the same checkpoint.
			continue
		}
		if v.Status == env.StatusTimeout {
			meta.Reason = ReasonTimeout
			return finish(), nil
		}
		if v.Status == env.StatusUnknownException || !v.HasExecution() {
			meta.Reason = ReasonUnknownException
			return finish(), nil
		}
		first := s.cfg.Language.FirstExecutionException(checkpoint, v)
		if first != checkpoint {
			// The new validation fails no later than the checkpoint
			// (or the positions tie): the checkpoint is not fixed yet.
			continue
		}

		// The checkpoint's exception is gone. Record it, adopt the new
		// validation as the next checkpoint, and restart mutation
		// planning against it.
		root.Metadata.FixedValidations = append(root.Metadata.FixedValidations, checkpoint)
		checkpoint = v
		if sub != nil {
			sub.Stop(true)
			sub = nil
		}
		root.Metadata.Feedback = nil
		if !s.cfg.Language.IsRepairableVersionError(root, checkpoint) {
			meta.Reason = ReasonNotRepairable
			return finish(), nil
		}
		index = s.cfg.Language.DependencyProducingException(root, checkpoint)
	}
	return finish(), nil
}

// step applies the next mutation for the current blame assignment,
// reporting whether anything was applied.
func (s *Feedback) step(ctx context.Context, e *env.Environment, index int, sub **stepper) (bool, error) {
	if index != lang.BlameUnknown {
		dep := e.Dependencies[index]
		fs := e.Metadata.FeedbackFor(dep.Name)
		if !fs.MatrixFetched {
			fs.MatrixFetched = true
			plan, err := s.matrixPlan(ctx, e, index)
			if err != nil {
				return false, err
			}
			fs.MatrixQueue = plan
		}
		for len(fs.MatrixQueue) > 0 {
			mu := fs.MatrixQueue[0]
			fs.MatrixQueue = fs.MatrixQueue[1:]
			mu.From = e.Dependencies[index].Version
			if invertsTop(e, &mu) {
				// Re-undoing the previous step is never progress.
				continue
			}
			e.PushMutation(mu)
			return true, nil
		}
		if *sub == nil {
			*sub = s.slotStepper(ctx, e, index)
		}
		return (*sub).Advance()
	}
	if *sub == nil {
		*sub = s.matrixStepper(ctx, e)
	}
	return (*sub).Advance()
}

// classify decides whether the checkpoint terminates the search before
// any mutation is attempted.
func (s *Feedback) classify(e *env.Environment, v *env.Validation) (Reason, bool) {
	switch {
	case v.Status == env.StatusSuccess:
		return ReasonExhausted, true
	case v.Status == env.StatusTimeout:
		return ReasonTimeout, true
	case v.Status == env.StatusUnknownException, !v.HasExecution():
		return ReasonUnknownException, true
	case !s.cfg.Language.IsRepairableVersionError(e, v):
		return ReasonNotRepairable, true
	}
	return "", false
}

// matrixPlan turns the knowledge graph's upgrade evidence for the
// blamed dependency into an ordered queue of chained single-version
// mutations. Keys are visited in descending version order below the
// current version; each key's destinations are already ordered by
// decreasing percent_broken. Versions already visited are skipped, and
// the running "current version" threads forward so every emitted
// mutation is a single step.
func (s *Feedback) matrixPlan(ctx context.Context, e *env.Environment, index int) ([]env.Mutation, error) {
	dep := e.Dependencies[index]
	sys, err := s.cfg.systemFor(dep)
	if err != nil {
		return nil, err
	}
	upgrades, err := s.cfg.Graph.UpgradeEvidence(ctx, dep.Name, dep.System)
	if err != nil {
		return nil, err
	}
	if len(upgrades) == 0 {
		return nil, nil
	}
	destinations := make(map[string][]string, len(upgrades))
	keys := make([]string, 0, len(upgrades))
	for _, u := range upgrades {
		if _, ok := destinations[u.From]; !ok {
			keys = append(keys, u.From)
		}
		destinations[u.From] = append(destinations[u.From], u.To...)
	}
	keys = sys.SortVersions(keys, false, dep.Version)

	cur := dep.Version
	seen := map[string]bool{dep.Version: true}
	var plan []env.Mutation
	for _, k := range keys {
		if sys.CompareVersions(k, dep.Version) >= 0 {
			continue
		}
		for _, to := range destinations[k] {
			if seen[to] {
				continue
			}
			seen[to] = true
			plan = append(plan, env.Mutation{
				Kind:    env.VersionMatrixFromVersion,
				Package: dep.Name,
				From:    cur,
				To:      to,
				Index:   index,
			})
			cur = to
		}
	}
	return plan, nil
}

// slotStepper runs a dependency-scoped IDDFS over one slot, advanced
// one applied mutation at a time.
func (s *Feedback) slotStepper(ctx context.Context, e *env.Environment, index int) *stepper {
	core := &dfsCore{
		indices:  []int{index},
		mutators: genericCoreMutators(s.cfg),
		accept:   noImmediateInverse,
	}
	return newStepper(s.iddfsBody(ctx, e, core))
}

// noImmediateInverse vetoes a mutation that exactly undoes the one on
// top of the stack.
func noImmediateInverse(e *env.Environment, mu *env.Mutation) bool {
	return !invertsTop(e, mu)
}

func invertsTop(e *env.Environment, mu *env.Mutation) bool {
	n := len(e.Metadata.Mutations)
	if n == 0 {
		return false
	}
	top := e.Metadata.Mutations[n-1]
	return top.Package == mu.Package && top.From == mu.To && top.To == mu.From
}

// matrixStepper runs a whole-environment IDDFS in which every slot
// tries its version-matrix transitions before the generic semver
// decrements.
func (s *Feedback) matrixStepper(ctx context.Context, e *env.Environment) *stepper {
	core := &dfsCore{
		indices:  allIndices(e),
		mutators: append([]coreMutator{s.matrixCoreMutator()}, genericCoreMutators(s.cfg)...),
		accept:   noImmediateInverse,
	}
	return newStepper(s.iddfsBody(ctx, e, core))
}

// iddfsBody is the stepper body shared by the secondary searches:
// iterative deepening until a pass yields nothing.
func (s *Feedback) iddfsBody(ctx context.Context, e *env.Environment, core *dfsCore) func(park func() parkResult) error {
	return func(park func() parkResult) error {
		for d := 1; ; d++ {
			yields, err := core.pass(ctx, e, d, func() (bool, error) {
				switch park() {
				case parkContinue:
					return true, nil
				case parkStopKeep:
					return false, errKeepState
				}
				return false, errStopped
			})
			if err != nil {
				return err
			}
			if yields == 0 {
				return nil
			}
		}
	}
}

// matrixCoreMutator adapts the per-dependency matrix queue as the
// highest-precedence mutator of the whole-environment secondary IDDFS.
// Undoing re-queues the transition so a later depth pass can replay it.
func (s *Feedback) matrixCoreMutator() coreMutator {
	return coreMutator{
		apply: func(ctx context.Context, e *env.Environment, depIndex int) (*env.Mutation, error) {
			dep := e.Dependencies[depIndex]
			fs := e.Metadata.FeedbackFor(dep.Name)
			if !fs.MatrixFetched {
				fs.MatrixFetched = true
				plan, err := s.matrixPlan(ctx, e, depIndex)
				if err != nil {
					return nil, err
				}
				fs.MatrixQueue = plan
			}
			if len(fs.MatrixQueue) == 0 {
				return nil, nil
			}
			mu := fs.MatrixQueue[0]
			fs.MatrixQueue = fs.MatrixQueue[1:]
			mu.Kind = env.VersionMatrixToVersion
			mu.From = dep.Version
			mu.Index = depIndex
			return &mu, nil
		},
		onUndo: func(e *env.Environment, mu env.Mutation) {
			fs := e.Metadata.FeedbackFor(mu.Package)
			requeued := mu
			requeued.Kind = env.VersionMatrixFromVersion
			fs.MatrixQueue = append([]env.Mutation{requeued}, fs.MatrixQueue...)
		},
	}
}
