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

package mutate

import (
	"context"
	"testing"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/pkgsys"
)

func testSystem() pkgsys.System {
	return pkgsys.NewStatic("pip", map[string][]string{
		"scikit-learn": {"0.18.0", "0.19.1", "0.19.2", "0.20.0", "0.20.3"},
		"tensorflow":   {"1.15.0", "2.0.0", "2.1.0"},
		"single":       {"1.0.0"},
	})
}

func TestDecrementSemverMinor(t *testing.T) {
	sys := testSystem()
	tests := []struct {
		name string
		dep  env.Dependency
		want string // "" means no result
	}{
		{
			name: "newest below current minor within major",
			dep:  env.Dependency{Name: "scikit-learn", Version: "0.20.3", System: "pip"},
			want: "0.19.2",
		},
		{
			name: "minor zero produces nothing",
			dep:  env.Dependency{Name: "tensorflow", Version: "2.0.0", System: "pip"},
			want: "",
		},
		{
			name: "no candidate in same major",
			dep:  env.Dependency{Name: "single", Version: "2.1.0", System: "pip"},
			want: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mu, err := (decrementMinor{}).Apply(context.Background(), sys, test.dep)
			if err != nil {
				t.Fatal(err)
			}
			if test.want == "" {
				if mu != nil {
					t.Fatalf("Apply = %+v, want no result", mu)
				}
				return
			}
			if mu == nil {
				t.Fatalf("Apply produced no result, want To=%q", test.want)
			}
			if mu.To != test.want || mu.From != test.dep.Version || mu.Kind != env.DecrementSemverMinor {
				t.Errorf("Apply = %+v, want To=%q From=%q", mu, test.want, test.dep.Version)
			}
		})
	}
}

func TestDecrementSemverMajor(t *testing.T) {
	sys := testSystem()
	tests := []struct {
		name string
		dep  env.Dependency
		want string
	}{
		{
			name: "newest below current major",
			dep:  env.Dependency{Name: "tensorflow", Version: "2.1.0", System: "pip"},
			want: "1.15.0",
		},
		{
			name: "major zero produces nothing",
			dep:  env.Dependency{Name: "scikit-learn", Version: "0.20.3", System: "pip"},
			want: "",
		},
		{
			name: "nothing older",
			dep:  env.Dependency{Name: "single", Version: "1.0.0", System: "pip"},
			want: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mu, err := (decrementMajor{}).Apply(context.Background(), sys, test.dep)
			if err != nil {
				t.Fatal(err)
			}
			if test.want == "" {
				if mu != nil {
					t.Fatalf("Apply = %+v, want no result", mu)
				}
				return
			}
			if mu == nil {
				t.Fatalf("Apply produced no result, want To=%q", test.want)
			}
			if mu.To != test.want {
				t.Errorf("Apply To = %q, want %q", mu.To, test.want)
			}
		})
	}
}

func TestUndoRestoresFrom(t *testing.T) {
	sys := testSystem()
	dep := env.Dependency{Name: "scikit-learn", Version: "0.20.3", System: "pip"}
	mu, err := (decrementMinor{}).Apply(context.Background(), sys, dep)
	if err != nil || mu == nil {
		t.Fatalf("Apply failed: %v %v", mu, err)
	}
	dep.Version = mu.To
	Undo(&dep, *mu)
	if dep.Version != "0.20.3" {
		t.Errorf("after undo, version = %q, want %q", dep.Version, "0.20.3")
	}
}

func TestRegistryPrecedence(t *testing.T) {
	reg := Registry()
	if len(reg) != 2 {
		t.Fatalf("Registry returned %d mutators, want 2", len(reg))
	}
	if reg[0].Kind() != env.DecrementSemverMajor || reg[1].Kind() != env.DecrementSemverMinor {
		t.Errorf("Registry order = [%s, %s], want [major, minor]",
			reg[0].Kind(), reg[1].Kind())
	}
}
