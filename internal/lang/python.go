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

package lang

import (
	"strings"

	"deps.dev/util/pypi"

	"github.com/v2-project/v2/internal/env"
)

// sitePackages is the managed third-party install prefix: a stack frame
// whose file path contains it originated inside a dependency, not in
// the code under inference.
const sitePackages = "site-packages"

// Python is the strategy for CPython dialects.
type Python struct {
	importKinds       map[string]bool
	repairableKinds   map[string]bool
	unrepairableKinds map[string]bool
}

// NewPython builds the Python strategy with its exception-kind sets.
func NewPython() *Python {
	return &Python{
		importKinds: map[string]bool{
			"ImportError":         true,
			"ModuleNotFoundError": true,
		},
		repairableKinds: map[string]bool{
			"AttributeError": true,
			"TypeError":      true,
		},
		unrepairableKinds: map[string]bool{
			"FileNotFoundError": true,
			"IOError":           true,
		},
	}
}

// FirstExecutionException compares by the deepest frame belonging to
// the code under inference; the smaller line number wins. Ties, or a
// side with no such frame on both, return nil.
//
// Line numbers are only meaningful within one file; when the two
// user-code frames are in different files the comparison still uses
// lines, which is a known limitation of this heuristic.
func (p *Python) FirstExecutionException(v1, v2 *env.Validation) *env.Validation {
	f1 := deepestUserFrame(v1)
	f2 := deepestUserFrame(v2)
	switch {
	case f1 == nil && f2 == nil:
		return nil
	case f2 == nil:
		return v1
	case f1 == nil:
		return v2
	case f1.Line < f2.Line:
		return v1
	case f2.Line < f1.Line:
		return v2
	}
	return nil
}

// deepestUserFrame returns the innermost stack frame whose file is not
// under the managed third-party install prefix, or nil.
func deepestUserFrame(v *env.Validation) *env.Frame {
	if !v.HasExecution() {
		return nil
	}
	stack := v.Execution.Stack
	for i := len(stack) - 1; i >= 0; i-- {
		if !thirdPartyFrame(stack[i]) {
			return &stack[i]
		}
	}
	return nil
}

func thirdPartyFrame(f env.Frame) bool {
	return strings.Contains(f.Filename, sitePackages)
}

// IsRepairableVersionError classifies the exception. Repairable when it
// originated inside a dependency, when an import-like exception names a
// resource that maps to a known direct dependency, or when its kind is
// in the repair-eligible set. Kinds in the unrepairable set are never
// repairable.
func (p *Python) IsRepairableVersionError(e *env.Environment, v *env.Validation) bool {
	if !v.HasExecution() {
		return false
	}
	ex := v.Execution
	if p.unrepairableKinds[ex.ExceptionName] {
		return false
	}
	for _, f := range ex.Stack {
		if thirdPartyFrame(f) {
			return true
		}
	}
	if p.importKinds[ex.ExceptionName] {
		if deps := e.MappedPackages(missingResource(ex)); len(deps) > 0 {
			return true
		}
	}
	return p.repairableKinds[ex.ExceptionName]
}

// DependencyProducingException assigns blame. Preference order: the
// deepest third-party frame whose subpath under the install prefix
// starts with a component matching a direct dependency's name; then,
// for import-like exceptions with no third-party frame, the unique
// direct dependency the missing resource maps to.
func (p *Python) DependencyProducingException(e *env.Environment, v *env.Validation) int {
	if !v.HasExecution() {
		return BlameUnknown
	}
	ex := v.Execution
	stack := ex.Stack
	for i := len(stack) - 1; i >= 0; i-- {
		head := installSubpathHead(stack[i].Filename)
		if head == "" {
			continue
		}
		for j, dep := range e.Dependencies {
			if packageNameMatches(head, dep.Name) {
				return j
			}
		}
		// Import names and distribution names disagree routinely
		// (sklearn installs from scikit-learn); the resolution
		// evidence bridges the gap.
		for _, pkg := range e.MappedPackages(head) {
			if j := e.DependencyIndex(pkg); j >= 0 {
				return j
			}
		}
	}
	if p.importKinds[ex.ExceptionName] {
		pkgs := e.MappedPackages(missingResource(ex))
		if len(pkgs) == 1 {
			return e.DependencyIndex(pkgs[0])
		}
	}
	return BlameUnknown
}

// installSubpathHead returns the first path component below the managed
// install prefix, or "" for a user-code frame.
func installSubpathHead(filename string) string {
	i := strings.Index(filename, sitePackages)
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(filename[i+len(sitePackages):], "/")
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// packageNameMatches reports whether an install-prefix head component
// refers to the dependency, splitting the dependency name on its
// ecosystem separators so that any single token counts as a match.
func packageNameMatches(head, depName string) bool {
	head = pypi.CanonPackageName(head)
	canon := pypi.CanonPackageName(depName)
	if head == canon {
		return true
	}
	for _, tok := range strings.Split(canon, "-") {
		if head == tok {
			return true
		}
	}
	return false
}

// missingResource extracts the module named by an import-like exception
// message, e.g. `No module named 'sklearn.cross_validation'`.
func missingResource(ex *env.Execution) string {
	msg := ex.ExceptionMessage
	if i := strings.IndexByte(msg, '\''); i >= 0 {
		if j := strings.IndexByte(msg[i+1:], '\''); j >= 0 {
			return msg[i+1 : i+1+j]
		}
	}
	const named = "No module named "
	if i := strings.Index(msg, named); i >= 0 {
		return strings.TrimSpace(msg[i+len(named):])
	}
	return ""
}
