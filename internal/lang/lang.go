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
Package lang holds the language-specific policies the feedback search
relies on: deciding whether an exception is plausibly fixable by
changing dependency versions, assigning blame to one dependency, and
ordering two exceptions by how early they occur in execution.

All three predicates are pure over (Environment, Validation).
*/
package lang

import (
	"fmt"

	"github.com/v2-project/v2/internal/env"
)

// BlameUnknown is the sentinel blame index meaning no single dependency
// could be held responsible.
const BlameUnknown = -1

// Strategy is one language's policy set.
type Strategy interface {
	// FirstExecutionException returns whichever validation saw an
	// exception earlier in execution, or nil when neither does or the
	// positions tie. The comparison uses the deepest stack frame that
	// belongs to the code under inference.
	FirstExecutionException(v1, v2 *env.Validation) *env.Validation

	// IsRepairableVersionError reports whether the validation's
	// exception could plausibly be eliminated by changing dependency
	// versions.
	IsRepairableVersionError(e *env.Environment, v *env.Validation) bool

	// DependencyProducingException returns the index into
	// e.Dependencies of the dependency blamed for the exception, or
	// BlameUnknown.
	DependencyProducingException(e *env.Environment, v *env.Validation) int
}

// ForDialect returns the strategy for a dialect. Only Python dialects
// are currently supported.
func ForDialect(dialect string) (Strategy, error) {
	switch dialect {
	case "python", "python2":
		return NewPython(), nil
	}
	return nil, fmt.Errorf("no language strategy for dialect %q", dialect)
}
