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
Package infer orchestrates the whole pipeline: parse the code location
into starting environments, resolve their dependencies against the
knowledge graph and the package-system adapters, then drive the
configured search strategy against the validator until an environment
runs clean, the searches exhaust, or the wall-clock budget expires.
*/
package infer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/kgraph"
	"github.com/v2-project/v2/internal/lang"
	"github.com/v2-project/v2/internal/mutate"
	"github.com/v2-project/v2/internal/parse"
	"github.com/v2-project/v2/internal/pkgsys"
	"github.com/v2-project/v2/internal/search"
	"github.com/v2-project/v2/internal/validate"
)

// DefaultTimeout is the wall-clock inference budget.
const DefaultTimeout = time.Hour

// DefaultBudget is the overall candidate-validation budget handed to
// the spreading wrapper.
const DefaultBudget = 100

// Options select per-run behavior.
type Options struct {
	// CodePath locates the snippet or directory under inference.
	CodePath string
	// Strategy names the search strategy (search.Name*).
	Strategy string
	// Only restricts transitive resolution to one edge kind (OnlyDeps,
	// OnlyAssoc), disables it (OnlyNone), or unions both (OnlyAll).
	Only string
	// NoValidate emits the first resolved environment without running
	// the validator.
	NoValidate bool
	// EntryCmd, when non-empty, overrides the synthesized entry
	// command of every starting environment.
	EntryCmd *env.Command
	// Budget bounds the total number of yielded candidates; zero means
	// DefaultBudget.
	Budget int
	// Timeout bounds the whole inference; zero means DefaultTimeout.
	Timeout time.Duration
}

// Result is a successful inference.
type Result struct {
	Environment       *env.Environment  `json:"environment"`
	Validation        *env.Validation   `json:"validation,omitempty"`
	Elapsed           time.Duration     `json:"elapsed"`
	NumValidations    int               `json:"num_validations"`
	FailedValidations []*env.Validation `json:"failed_validations,omitempty"`
}

// Sink receives timestamped inference records when an external
// key-value store is configured.
type Sink interface {
	Put(key string, value any) error
}

// Driver wires the pipeline's collaborators.
type Driver struct {
	parser    *parse.Driver
	validator *validate.Driver
	registry  *pkgsys.Registry
	graph     kgraph.Graph
	sink      Sink
	log       *logrus.Entry
}

// NewDriver builds the inference driver. sink may be nil.
func NewDriver(parser *parse.Driver, validator *validate.Driver, registry *pkgsys.Registry, graph kgraph.Graph, sink Sink, log *logrus.Entry) *Driver {
	return &Driver{
		parser:    parser,
		validator: validator,
		registry:  registry,
		graph:     graph,
		sink:      sink,
		log:       log,
	}
}

// Infer runs the pipeline. All failures are *Error values from this
// package's closed kind set.
func (d *Driver) Infer(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Budget == 0 {
		opts.Budget = DefaultBudget
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res, err := d.infer(ctx, opts, start)
	if err == nil {
		return res, nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return nil, err
	}
	return nil, ErrUnexpected(err)
}

func (d *Driver) infer(ctx context.Context, opts Options, start time.Time) (*Result, error) {
	envs, err := d.parser.Environments(ctx, opts.CodePath)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, ErrNoBaseEnvironments()
	}
	if opts.EntryCmd != nil {
		for _, e := range envs {
			e.EntryCmd = *opts.EntryCmd
		}
	}

	// Resolution runs concurrently across the starting environments;
	// each environment's own lookups are bounded inside resolve.
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range envs {
		e := e
		g.Go(func() error { return d.resolve(gctx, e, opts.Only) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	d.sinkEnvironments(envs)

	if opts.NoValidate {
		return &Result{Environment: envs[0], Elapsed: time.Since(start)}, nil
	}

	strategy, err := d.strategyFor(envs[0], opts.Strategy)
	if err != nil {
		return nil, err
	}
	return d.pump(ctx, opts, envs, strategy, start)
}

// pump drives the spreading wrapper, validating each yielded candidate
// and feeding the record back into the generator. The first Success
// wins; exhaustion and timeout raise their structured errors.
func (d *Driver) pump(ctx context.Context, opts Options, envs []*env.Environment, factory func() search.Strategy, start time.Time) (*Result, error) {
	numValidations := 0
	var failed []*env.Validation
	var winner *Result

	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()

	yield := func(e *env.Environment) (*env.Validation, error) {
		v, err := d.validator.Validate(pumpCtx, e, opts.CodePath)
		if err != nil {
			if errors.Is(err, validate.ErrProtocol) {
				return nil, ErrValidation(err)
			}
			return nil, err
		}
		numValidations++
		d.log.WithFields(logrus.Fields{
			"environment": e.ID,
			"status":      v.Status,
			"validations": numValidations,
		}).Info("validated candidate")
		if v.Status == env.StatusSuccess {
			// Snapshot before the strategies unwind their state.
			winner = &Result{Environment: e.Clone(), Validation: v}
			stop()
			return nil, context.Canceled
		}
		appendUniqueValidation(&failed, v)
		return v, nil
	}

	meta, err := search.Spread(pumpCtx, envs, opts.Budget, factory, yield)
	elapsed := time.Since(start)

	if winner != nil {
		winner.Elapsed = elapsed
		winner.NumValidations = numValidations
		winner.FailedValidations = failed
		d.sinkResult(winner)
		return winner, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ErrInferenceTimeout(elapsed, numValidations)
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNoWorkingEnvironment(elapsed, numValidations, meta)
}

func (d *Driver) strategyFor(root *env.Environment, name string) (func() search.Strategy, error) {
	language, err := lang.ForDialect(root.Dialect())
	if err != nil {
		return nil, err
	}
	cfg := search.Config{
		Registry: d.registry,
		Graph:    d.graph,
		Language: language,
		Mutators: mutate.Registry(),
		Log:      d.log,
	}
	if _, err := search.New(name, cfg); err != nil {
		return nil, err
	}
	return func() search.Strategy {
		s, _ := search.New(name, cfg)
		return s
	}, nil
}

// appendUniqueValidation unions by value equality.
func appendUniqueValidation(list *[]*env.Validation, v *env.Validation) {
	for _, have := range *list {
		if have.Equal(v) {
			return
		}
	}
	*list = append(*list, v)
}

func (d *Driver) sinkEnvironments(envs []*env.Environment) {
	if d.sink == nil {
		return
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	for _, e := range envs {
		key := "environments/" + stamp + "/" + e.ID
		if err := d.sink.Put(key, e); err != nil {
			d.log.WithError(err).Warn("writing environment to sink")
		}
	}
}

func (d *Driver) sinkResult(res *Result) {
	if d.sink == nil {
		return
	}
	key := "inferences/" + time.Now().UTC().Format(time.RFC3339)
	if err := d.sink.Put(key, res); err != nil {
		d.log.WithError(err).Warn("writing inference metadata to sink")
	}
}
