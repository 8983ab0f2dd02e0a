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

package infer

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/v2-project/v2/internal/search"
)

// Error is the JSON-serializable failure surfaced to the caller. Name
// identifies the kind from a closed set; kind-specific fields are
// populated per constructor.
type Error struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`

	Signal           string             `json:"signal,omitempty"`
	Code             int                `json:"code,omitempty"`
	ElapsedSeconds   float64            `json:"elapsed_seconds,omitempty"`
	NumValidations   int                `json:"num_validations,omitempty"`
	TerminalMetadata []*search.Metadata `json:"terminal_metadata,omitempty"`
	Cause            string             `json:"cause,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func newError(name, message string) *Error {
	return &Error{Name: name, Message: message, Stack: string(debug.Stack())}
}

// ErrInferenceTerminated reports a process signal; code follows the
// POSIX convention 128 + signo.
func ErrInferenceTerminated(signal string, signo int) *Error {
	e := newError("InferenceTerminated", fmt.Sprintf("inference terminated by %s", signal))
	e.Signal = signal
	e.Code = 128 + signo
	return e
}

// ErrNoBaseEnvironments reports that parsing produced zero starting
// environments.
func ErrNoBaseEnvironments() *Error {
	return newError("NoBaseEnvironments", "no parser sandbox produced a starting environment")
}

// ErrInferenceTimeout reports that the wall-clock budget expired.
func ErrInferenceTimeout(elapsed time.Duration, numValidations int) *Error {
	e := newError("InferenceTimeout",
		fmt.Sprintf("no working environment after %s and %d validations", elapsed.Round(time.Second), numValidations))
	e.ElapsedSeconds = elapsed.Seconds()
	e.NumValidations = numValidations
	return e
}

// ErrNoWorkingEnvironment reports search exhaustion across every root,
// carrying each root's terminal metadata.
func ErrNoWorkingEnvironment(elapsed time.Duration, numValidations int, meta []*search.Metadata) *Error {
	e := newError("NoWorkingEnvironment",
		fmt.Sprintf("search exhausted after %s and %d validations", elapsed.Round(time.Second), numValidations))
	e.ElapsedSeconds = elapsed.Seconds()
	e.NumValidations = numValidations
	e.TerminalMetadata = meta
	return e
}

// ErrValidation reports a validation sandbox that violated its
// protocol.
func ErrValidation(cause error) *Error {
	e := newError("ValidationError", cause.Error())
	e.Cause = cause.Error()
	return e
}

// ErrUnexpected wraps any other failure.
func ErrUnexpected(cause error) *Error {
	e := newError("UnexpectedInference", cause.Error())
	e.Cause = cause.Error()
	return e
}
