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

import "errors"

// errKeepState tells a dfsCore pass to stop without unwinding the
// mutation stack: the caller is keeping the applied state.
var errKeepState = errors.New("stop keeping applied state")

// errStopped is the ordinary shutdown signal of a stepper body; the
// pass unwinds its mutations before returning it.
var errStopped = errors.New("stepper stopped")

// parkResult is what a body's park call learns on resumption.
type parkResult int

const (
	parkContinue parkResult = iota
	parkStopUndo
	parkStopKeep
)

// stepper turns a run-to-completion search body into a pull generator.
// The body calls park() once per applied state; each Advance resumes it
// until the next park or until the body finishes.
type stepper struct {
	resume  chan parkResult
	emitted chan stepEvent
	done    bool
}

type stepEvent struct {
	applied bool
	err     error
}

// newStepper starts the body suspended; it runs only under Advance.
func newStepper(body func(park func() parkResult) error) *stepper {
	s := &stepper{
		resume:  make(chan parkResult),
		emitted: make(chan stepEvent),
	}
	go func() {
		if <-s.resume != parkContinue {
			s.emitted <- stepEvent{}
			return
		}
		err := body(func() parkResult {
			s.emitted <- stepEvent{applied: true}
			return <-s.resume
		})
		if errors.Is(err, errKeepState) || errors.Is(err, errStopped) {
			err = nil
		}
		s.emitted <- stepEvent{err: err}
	}()
	return s
}

// Advance resumes the body until it parks at its next applied state.
// It reports false when the body has no more states.
func (s *stepper) Advance() (bool, error) {
	if s.done {
		return false, nil
	}
	s.resume <- parkContinue
	ev := <-s.emitted
	if !ev.applied {
		s.done = true
	}
	return ev.applied, ev.err
}

// Stop shuts the body down, undoing its applied state unless keep is
// set.
func (s *stepper) Stop(keep bool) {
	if s.done {
		return
	}
	result := parkStopUndo
	if keep {
		result = parkStopKeep
	}
	s.resume <- result
	<-s.emitted
	s.done = true
}
