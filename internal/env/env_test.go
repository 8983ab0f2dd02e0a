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

package env

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testEnvironment() *Environment {
	return &Environment{
		ID:      "python-test",
		Image:   Image{Name: "python", Tag: "3.8"},
		WorkDir: "/app",
		EntryCmd: Command{
			Command: "python",
			Args:    []string{"/app/snippet.py"},
		},
		SetupCommands: []Command{{Command: "apt-get", Args: []string{"update"}}},
		Dependencies: []Dependency{
			{Name: "numpy", Version: "1.16.4", System: "pip"},
			{Name: "scikit-learn", Version: "0.20.3", System: "pip"},
		},
		Metadata: Metadata{
			ImportedResources: []string{"numpy", "sklearn"},
			DirectLookup: []Dependency{
				{Name: "numpy", Version: "1.16.4", System: "pip"},
				{Name: "scikit-learn", Version: "0.20.3", System: "pip"},
			},
			ResourcePackageMapping: []ResourcePackage{
				{Resource: "numpy", Package: "numpy"},
				{Resource: "sklearn", Package: "scikit-learn"},
			},
		},
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := testEnvironment()
	c := orig.Clone()
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Fatalf("clone differs from original (-orig +clone):\n%s", diff)
	}
	c.Dependencies[0].Version = "1.0.0"
	c.SetupCommands[0].Args[0] = "upgrade"
	c.EntryCmd.Args[0] = "/app/other.py"
	c.Metadata.ImportedResources[0] = "pandas"
	c.Metadata.ResourcePackageMapping[0].Package = "other"
	c.Metadata.FeedbackFor("numpy").MatrixQueue = []Mutation{{To: "1.0.0"}}

	want := testEnvironment()
	if diff := cmp.Diff(want, orig); diff != "" {
		t.Errorf("mutating the clone disturbed the original (-want +got):\n%s", diff)
	}
}

func TestPushPopMutation(t *testing.T) {
	e := testEnvironment()
	before := e.Clone()

	mu := Mutation{
		Kind:    DecrementSemverMinor,
		Package: "scikit-learn",
		From:    "0.20.3",
		To:      "0.19.2",
		Index:   1,
	}
	e.PushMutation(mu)
	if got := e.Dependencies[1].Version; got != "0.19.2" {
		t.Fatalf("after push, version = %q, want %q", got, "0.19.2")
	}
	if len(e.Metadata.Mutations) != 1 {
		t.Fatalf("after push, stack depth = %d, want 1", len(e.Metadata.Mutations))
	}

	popped := e.PopMutation()
	if diff := cmp.Diff(mu, popped); diff != "" {
		t.Errorf("popped mutation mismatch (-want +got):\n%s", diff)
	}
	// Undo is exact: the environment returns to its pre-mutation state
	// byte for byte.
	if diff := cmp.Diff(before, e); diff != "" {
		t.Errorf("after pop, environment differs from original (-want +got):\n%s", diff)
	}
}

func TestValidationEqual(t *testing.T) {
	base := func() *Validation {
		return &Validation{
			Status: StatusFailed,
			Dependencies: InstallReport{
				InstallErrors: []InstallError{{Command: "pip install numpy==1.16.4", Stderr: "boom"}},
			},
			Execution: &Execution{
				Status:        StatusFailed,
				ExceptionName: "ImportError",
				ExceptionLine: 3,
				Stack: []Frame{
					{Filename: "/app/snippet.py", Line: 3, Function: "<module>"},
				},
			},
		}
	}
	if !base().Equal(base()) {
		t.Error("identical validations compare unequal")
	}
	v := base()
	v.Execution.Stack[0].Line = 4
	if base().Equal(v) {
		t.Error("validations with different stacks compare equal")
	}
	v = base()
	v.Execution = nil
	if base().Equal(v) {
		t.Error("validation with missing execution compares equal")
	}
	var nilv *Validation
	if nilv.Equal(base()) {
		t.Error("nil validation compares equal to non-nil")
	}
}

func TestMappedPackagesAndDependencyIndex(t *testing.T) {
	e := testEnvironment()
	if got := e.MappedPackages("sklearn.cross_validation"); len(got) != 1 || got[0] != "scikit-learn" {
		t.Errorf("MappedPackages(sklearn.cross_validation) = %v, want [scikit-learn]", got)
	}
	if got := e.MappedPackages("flask"); got != nil {
		t.Errorf("MappedPackages(flask) = %v, want nil", got)
	}
	if got := e.DependencyIndex("Scikit_Learn"); got != 1 {
		t.Errorf("DependencyIndex(Scikit_Learn) = %d, want 1", got)
	}
	if got := e.DependencyIndex("torch"); got != -1 {
		t.Errorf("DependencyIndex(torch) = %d, want -1", got)
	}
}

func TestImportedResourcesOrderAndDedup(t *testing.T) {
	p := &ParseReport{Files: []ParsedFile{
		{Filename: "a.py", Imports: []string{"numpy", "os"}},
		{Filename: "b.py", Imports: []string{"os", "sklearn"}},
	}}
	want := []string{"numpy", "os", "sklearn"}
	if diff := cmp.Diff(want, p.ImportedResources()); diff != "" {
		t.Errorf("ImportedResources mismatch (-want +got):\n%s", diff)
	}
}
