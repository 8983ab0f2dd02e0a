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
	"testing"

	"github.com/v2-project/v2/internal/env"
)

const sitePkgs = "/usr/local/lib/python3.8/site-packages"

func failedValidation(name, message string, stack []env.Frame) *env.Validation {
	return &env.Validation{
		Status: env.StatusFailed,
		Execution: &env.Execution{
			Status:           env.StatusFailed,
			ExceptionName:    name,
			ExceptionMessage: message,
			Stack:            stack,
		},
	}
}

func strategyEnv() *env.Environment {
	return &env.Environment{
		ID: "python-test",
		Dependencies: []env.Dependency{
			{Name: "numpy", Version: "1.16.4", System: "pip"},
			{Name: "scikit-learn", Version: "0.20.3", System: "pip"},
		},
		Metadata: env.Metadata{
			ResourcePackageMapping: []env.ResourcePackage{
				{Resource: "numpy", Package: "numpy"},
				{Resource: "sklearn", Package: "scikit-learn"},
			},
		},
	}
}

func TestFirstExecutionException(t *testing.T) {
	p := NewPython()
	atLine := func(line int) *env.Validation {
		return failedValidation("NameError", "name 'x' is not defined", []env.Frame{
			{Filename: "/app/snippet.py", Line: line, Function: "<module>"},
		})
	}
	thirdPartyOnly := failedValidation("ImportError", "cannot import name 'cross_validation'", []env.Frame{
		{Filename: sitePkgs + "/sklearn/__init__.py", Line: 12, Function: "<module>"},
	})

	tests := []struct {
		name   string
		v1, v2 *env.Validation
		want   *env.Validation // nil for the sentinel
	}{
		{name: "earlier line wins", v1: atLine(3), v2: atLine(10), want: nil},
		{name: "neither has user frame", v1: thirdPartyOnly, v2: thirdPartyOnly, want: nil},
		{name: "only one has user frame", v1: atLine(5), v2: thirdPartyOnly, want: nil},
		{name: "tie is the sentinel", v1: atLine(7), v2: atLine(7), want: nil},
	}
	// Fill in the wanted winners that reference the inputs.
	tests[0].want = tests[0].v1
	tests[2].want = tests[2].v1

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := p.FirstExecutionException(test.v1, test.v2); got != test.want {
				t.Errorf("FirstExecutionException = %v, want %v", got, test.want)
			}
		})
	}
}

func TestIsRepairableVersionError(t *testing.T) {
	p := NewPython()
	e := strategyEnv()
	tests := []struct {
		name string
		v    *env.Validation
		want bool
	}{
		{
			name: "third-party frame is repairable",
			v: failedValidation("AttributeError", "module 'numpy' has no attribute 'float'", []env.Frame{
				{Filename: "/app/snippet.py", Line: 2},
				{Filename: sitePkgs + "/numpy/core/fromnumeric.py", Line: 87},
			}),
			want: true,
		},
		{
			name: "import error with known mapping is repairable",
			v: failedValidation("ModuleNotFoundError", "No module named 'sklearn.cross_validation'", []env.Frame{
				{Filename: "/app/snippet.py", Line: 1},
			}),
			want: true,
		},
		{
			name: "repair-eligible kind without third-party frame",
			v: failedValidation("TypeError", "f() takes 1 positional argument", []env.Frame{
				{Filename: "/app/snippet.py", Line: 9},
			}),
			want: true,
		},
		{
			name: "filesystem errors are not repairable",
			v: failedValidation("FileNotFoundError", "No such file or directory: 'data.csv'", []env.Frame{
				{Filename: sitePkgs + "/pandas/io/common.py", Line: 33},
			}),
			want: false,
		},
		{
			name: "plain user error is not repairable",
			v: failedValidation("NameError", "name 'x' is not defined", []env.Frame{
				{Filename: "/app/snippet.py", Line: 4},
			}),
			want: false,
		},
		{
			name: "missing execution is not repairable",
			v:    &env.Validation{Status: env.StatusFailed},
			want: false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := p.IsRepairableVersionError(e, test.v); got != test.want {
				t.Errorf("IsRepairableVersionError = %v, want %v", got, test.want)
			}
		})
	}
}

func TestDependencyProducingException(t *testing.T) {
	p := NewPython()
	e := strategyEnv()
	tests := []struct {
		name string
		v    *env.Validation
		want int
	}{
		{
			name: "deepest matching third-party frame",
			v: failedValidation("AttributeError", "no attribute 'float'", []env.Frame{
				{Filename: sitePkgs + "/sklearn/base.py", Line: 10},
				{Filename: sitePkgs + "/numpy/core/fromnumeric.py", Line: 87},
			}),
			want: 0, // numpy is deeper
		},
		{
			name: "third-party frame resolved through the mapping",
			v: failedValidation("ImportError", "cannot import name 'cross_validation'", []env.Frame{
				{Filename: sitePkgs + "/sklearn/__init__.py", Line: 12},
			}),
			want: 1, // sklearn resolves to scikit-learn through the mapping
		},
		{
			name: "import error resolved through unique mapping",
			v: failedValidation("ModuleNotFoundError", "No module named 'sklearn.cross_validation'", []env.Frame{
				{Filename: "/app/snippet.py", Line: 1},
			}),
			want: 1,
		},
		{
			name: "no third-party frame and no mapping is unknown",
			v: failedValidation("ModuleNotFoundError", "No module named 'flask'", []env.Frame{
				{Filename: "/app/snippet.py", Line: 1},
			}),
			want: BlameUnknown,
		},
		{
			name: "non-import user error is unknown",
			v: failedValidation("NameError", "name 'x' is not defined", []env.Frame{
				{Filename: "/app/snippet.py", Line: 4},
			}),
			want: BlameUnknown,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := p.DependencyProducingException(e, test.v); got != test.want {
				t.Errorf("DependencyProducingException = %d, want %d", got, test.want)
			}
		})
	}
}

func TestMissingResource(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"No module named 'sklearn.cross_validation'", "sklearn.cross_validation"},
		{"No module named numpy", "numpy"},
		{"cannot import name 'joblib'", "joblib"},
		{"something else entirely", ""},
	}
	for _, test := range tests {
		got := missingResource(&env.Execution{ExceptionMessage: test.msg})
		if got != test.want {
			t.Errorf("missingResource(%q) = %q, want %q", test.msg, got, test.want)
		}
	}
}
