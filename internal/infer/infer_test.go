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
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/kgraph"
	"github.com/v2-project/v2/internal/parse"
	"github.com/v2-project/v2/internal/pkgsys"
	"github.com/v2-project/v2/internal/sandbox"
	"github.com/v2-project/v2/internal/search"
	"github.com/v2-project/v2/internal/validate"
)

// fakeRunner routes sandbox invocations by image name. Validator
// outputs are consumed in order.
type fakeRunner struct {
	parseOut    map[string][]byte
	validateOut [][]byte
}

func (f *fakeRunner) Run(_ context.Context, spec sandbox.RunSpec) (*sandbox.Output, error) {
	if out, ok := f.parseOut[spec.Image]; ok {
		return &sandbox.Output{Stdout: out}, nil
	}
	if len(f.validateOut) == 0 {
		return nil, errors.New("unexpected sandbox invocation: " + spec.Image)
	}
	out := f.validateOut[0]
	f.validateOut = f.validateOut[1:]
	return &sandbox.Output{Stdout: out}, nil
}

const numpyParse = `{
  "language": {"name": "python", "version": "3.8", "version_major": 3, "system": "pip"},
  "num_files": 1,
  "files": [{"filename": "snippet.py", "imports": ["numpy"]}]
}`

func successRecord(t *testing.T) []byte {
	t.Helper()
	out, err := json.Marshal(env.Validation{
		Status:    env.StatusSuccess,
		Execution: &env.Execution{Status: env.StatusSuccess},
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func testDriver(t *testing.T, runner sandbox.Runner, graph kgraph.Graph, versions map[string][]string) *Driver {
	t.Helper()
	log := testLog()
	registry := pkgsys.NewRegistry(pkgsys.NewStatic("pip", versions))
	parser := parse.NewDriver(runner, []parse.Sandbox{{Dialect: "python", Image: "v2/parse-python"}}, log)
	validator := validate.NewDriver(runner, registry, map[string]string{"python": "v2/validate-python"}, log)
	return NewDriver(parser, validator, registry, graph, nil, log)
}

func writeSnippet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snippet.py")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func numpyGraph() *kgraph.MemGraph {
	g := kgraph.NewMemGraph()
	g.Add(&kgraph.MemPackage{
		Name: "numpy", System: "pip",
		Versions: []string{"1.16.4"}, Resources: []string{"numpy"},
	})
	return g
}

func TestInferFirstTrySuccess(t *testing.T) {
	runner := &fakeRunner{
		parseOut:    map[string][]byte{"v2/parse-python": []byte(numpyParse)},
		validateOut: [][]byte{successRecord(t)},
	}
	d := testDriver(t, runner, numpyGraph(), map[string][]string{"numpy": {"1.15.0", "1.16.4"}})

	res, err := d.Infer(context.Background(), Options{
		CodePath: writeSnippet(t, "import numpy\n"),
		Strategy: search.NameFeedback,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumValidations != 1 {
		t.Errorf("NumValidations = %d, want 1", res.NumValidations)
	}
	deps := res.Environment.Dependencies
	if len(deps) != 1 || deps[0].Name != "numpy" || deps[0].Version != "1.16.4" {
		t.Errorf("dependencies = %v, want numpy@1.16.4", deps)
	}
	if res.Validation == nil || res.Validation.Status != env.StatusSuccess {
		t.Errorf("Validation = %+v, want Success", res.Validation)
	}
}

func TestInferNoValidate(t *testing.T) {
	noImports := `{
	  "language": {"name": "python", "version": "3.8", "version_major": 3, "system": "pip"},
	  "num_files": 1,
	  "files": [{"filename": "snippet.py", "imports": ["os"]}]
	}`
	runner := &fakeRunner{parseOut: map[string][]byte{"v2/parse-python": []byte(noImports)}}
	d := testDriver(t, runner, kgraph.NewMemGraph(), map[string][]string{})

	res, err := d.Infer(context.Background(), Options{
		CodePath:   writeSnippet(t, "import os\n"),
		Strategy:   search.NameFeedback,
		NoValidate: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Environment.Dependencies) != 0 {
		t.Errorf("dependencies = %v, want none", res.Environment.Dependencies)
	}
	if got := res.Environment.EntryCmd.String(); got != "python /app/snippet.py" {
		t.Errorf("entry = %q, want %q", got, "python /app/snippet.py")
	}
	if res.Validation != nil {
		t.Errorf("Validation = %+v, want nil without validation", res.Validation)
	}
}

func TestInferNoBaseEnvironments(t *testing.T) {
	runner := &fakeRunner{
		parseOut: map[string][]byte{"v2/parse-python": []byte("not json")},
	}
	d := testDriver(t, runner, kgraph.NewMemGraph(), map[string][]string{})

	_, err := d.Infer(context.Background(), Options{
		CodePath: writeSnippet(t, "import numpy\n"),
		Strategy: search.NameFeedback,
	})
	var ie *Error
	if !errors.As(err, &ie) || ie.Name != "NoBaseEnvironments" {
		t.Errorf("Infer error = %v, want NoBaseEnvironments", err)
	}
}

func TestInferValidatorProtocolViolation(t *testing.T) {
	runner := &fakeRunner{
		parseOut:    map[string][]byte{"v2/parse-python": []byte(numpyParse)},
		validateOut: [][]byte{[]byte("garbage")},
	}
	d := testDriver(t, runner, numpyGraph(), map[string][]string{"numpy": {"1.16.4"}})

	_, err := d.Infer(context.Background(), Options{
		CodePath: writeSnippet(t, "import numpy\n"),
		Strategy: search.NameFeedback,
	})
	var ie *Error
	if !errors.As(err, &ie) || ie.Name != "ValidationError" {
		t.Errorf("Infer error = %v, want ValidationError", err)
	}
}

func TestInferNoWorkingEnvironment(t *testing.T) {
	// Every validation fails with an unrepairable user error, so the
	// feedback search terminates and the driver reports exhaustion
	// with the terminal metadata.
	failure, err := json.Marshal(env.Validation{
		Status: env.StatusFailed,
		Execution: &env.Execution{
			Status:           env.StatusFailed,
			ExceptionName:    "NameError",
			ExceptionMessage: "name 'x' is not defined",
			Stack:            []env.Frame{{Filename: "/app/snippet.py", Line: 2}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{
		parseOut:    map[string][]byte{"v2/parse-python": []byte(numpyParse)},
		validateOut: [][]byte{failure},
	}
	d := testDriver(t, runner, numpyGraph(), map[string][]string{"numpy": {"1.16.4"}})

	_, err = d.Infer(context.Background(), Options{
		CodePath: writeSnippet(t, "import numpy\n"),
		Strategy: search.NameFeedback,
	})
	var ie *Error
	if !errors.As(err, &ie) || ie.Name != "NoWorkingEnvironment" {
		t.Fatalf("Infer error = %v, want NoWorkingEnvironment", err)
	}
	if ie.NumValidations != 1 {
		t.Errorf("NumValidations = %d, want 1", ie.NumValidations)
	}
	if len(ie.TerminalMetadata) != 1 || ie.TerminalMetadata[0].Reason != search.ReasonNotRepairable {
		t.Errorf("TerminalMetadata = %+v, want one NotRepairable root", ie.TerminalMetadata)
	}
}

func TestErrorSerialization(t *testing.T) {
	ie := ErrNoBaseEnvironments()
	out, err := json.Marshal(ie)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"name", "message", "stack"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("serialized error missing %q: %s", field, out)
		}
	}
}
