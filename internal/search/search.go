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
Package search generates successive candidate environments for
validation. Each strategy is a coroutine: it yields an environment,
receives the resulting validation on resumption, and terminates with a
metadata payload describing why it stopped.

Three strategies are provided: a level-order traversal of the mutation
tree, an iterative-deepening DFS with exact undo, and the primary
feedback-directed DFS that resolves one execution exception at a time
using version-matrix evidence from the knowledge graph.
*/
package search

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/kgraph"
	"github.com/v2-project/v2/internal/lang"
	"github.com/v2-project/v2/internal/mutate"
	"github.com/v2-project/v2/internal/pkgsys"
)

// Yield presents one candidate to the consumer and blocks until its
// validation arrives. A non-nil error means the search was cancelled.
type Yield func(*env.Environment) (*env.Validation, error)

// Reason classifies why a root's search terminated.
type Reason string

const (
	// ReasonExhausted: the strategy ran out of candidates or budget.
	ReasonExhausted Reason = "Exhausted"
	// ReasonTimeout: the checkpoint validation reported a sandbox
	// timeout.
	ReasonTimeout Reason = "Timeout"
	// ReasonUnknownException: the checkpoint's execution record is
	// absent or tagged unknown.
	ReasonUnknownException Reason = "UnknownException"
	// ReasonNotRepairable: the language strategy rejected the
	// checkpoint's exception.
	ReasonNotRepairable Reason = "NotRepairable"
)

// Metadata is the terminal payload of one root's search.
type Metadata struct {
	RootID           string            `json:"root_id"`
	Reason           Reason            `json:"reason"`
	Checkpoint       *env.Validation   `json:"checkpoint,omitempty"`
	FixedValidations []*env.Validation `json:"fixed_validations,omitempty"`
	Yielded          int               `json:"yielded"`
}

// Strategy explores the mutation space of one root environment within a
// yield budget.
type Strategy interface {
	Search(ctx context.Context, root *env.Environment, budget int, yield Yield) (*Metadata, error)
}

// Config carries the collaborators every strategy needs.
type Config struct {
	Registry *pkgsys.Registry
	Graph    kgraph.Graph
	Language lang.Strategy
	Mutators []mutate.Mutator
	Log      *logrus.Entry
}

// Named strategy selectors for the CLI surface.
const (
	NameLevelOrder = "level-order"
	NameIDDFS      = "id-dfs"
	NameFeedback   = "feedback-directed"
)

// New returns the strategy registered under name.
func New(name string, cfg Config) (Strategy, error) {
	switch name {
	case NameLevelOrder:
		return NewLevelOrder(cfg), nil
	case NameIDDFS:
		return NewIDDFS(cfg), nil
	case NameFeedback:
		return NewFeedback(cfg), nil
	}
	return nil, fmt.Errorf("unknown search strategy %q", name)
}

func (c Config) systemFor(dep env.Dependency) (pkgsys.System, error) {
	return c.Registry.For(dep.System)
}
