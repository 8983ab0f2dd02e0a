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
	"sync"

	"github.com/v2-project/v2/internal/env"
)

// Spread drives one per-root strategy coroutine for each starting
// environment, interleaving their yields round-robin. The overall
// budget n is split as ceil(n/N) per root. A coroutine that completes
// is removed from the rotation; all terminal metadata is returned
// together once every coroutine has finished.
//
// Each root owns its environment exclusively: one coroutine never
// mutates another's state.
func Spread(ctx context.Context, roots []*env.Environment, n int, factory func() Strategy, yield Yield) ([]*Metadata, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	perRoot := (n + len(roots) - 1) / len(roots)

	// Cancellation unparks every coroutine still waiting in a yield, so
	// wg.Wait (running last) never blocks on an abandoned coroutine.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runners := make([]*spreadRunner, len(roots))
	for i, root := range roots {
		r := &spreadRunner{
			ctx:  ctx,
			req:  make(chan spreadReq),
			done: make(chan spreadResult, 1),
		}
		runners[i] = r
		wg.Add(1)
		go func(root *env.Environment) {
			defer wg.Done()
			meta, err := factory().Search(ctx, root, perRoot, r.yield)
			r.done <- spreadResult{meta: meta, err: err}
		}(root)
	}
	var collected []*Metadata
	queue := runners
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		select {
		case req := <-r.req:
			v, err := yield(req.e)
			req.reply <- spreadReply{v: v, err: err}
			if err != nil {
				return collected, err
			}
			queue = append(queue, r)
		case res := <-r.done:
			if res.err != nil && res.err != context.Canceled {
				return collected, res.err
			}
			if res.meta != nil {
				collected = append(collected, res.meta)
			}
		case <-ctx.Done():
			return collected, ctx.Err()
		}
	}
	return collected, nil
}

type spreadReq struct {
	e     *env.Environment
	reply chan spreadReply
}

type spreadReply struct {
	v   *env.Validation
	err error
}

type spreadResult struct {
	meta *Metadata
	err  error
}

type spreadRunner struct {
	ctx  context.Context
	req  chan spreadReq
	done chan spreadResult
}

// yield is the per-root coroutine side of the rendezvous. It aborts
// with the context's error once the wrapper has gone away.
func (r *spreadRunner) yield(e *env.Environment) (*env.Validation, error) {
	req := spreadReq{e: e, reply: make(chan spreadReply, 1)}
	select {
	case r.req <- req:
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.v, rep.err
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}
}
