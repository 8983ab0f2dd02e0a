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

package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/sandbox"
)

// fakeRunner serves canned stdout per image and records invocations.
type fakeRunner struct {
	stdout map[string][]byte
	err    map[string]error
	specs  []sandbox.RunSpec
}

func (f *fakeRunner) Run(_ context.Context, spec sandbox.RunSpec) (*sandbox.Output, error) {
	f.specs = append(f.specs, spec)
	if err := f.err[spec.Image]; err != nil {
		return nil, err
	}
	return &sandbox.Output{Stdout: f.stdout[spec.Image]}, nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func writeSnippet(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.py")
	if err := os.WriteFile(path, []byte("import numpy\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const python3Report = `{
  "language": {"name": "python", "version": "3.8", "version_major": 3, "system": "pip"},
  "num_files": 1,
  "files": [{"filename": "snippet.py", "imports": ["numpy"]}]
}`

func TestEnvironmentsFromSingleFile(t *testing.T) {
	runner := &fakeRunner{
		stdout: map[string][]byte{"v2/parse-python": []byte(python3Report)},
		err:    map[string]error{"v2/parse-python2": fmt.Errorf("syntax error")},
	}
	d := NewDriver(runner, []Sandbox{
		{Dialect: "python", Image: "v2/parse-python"},
		{Dialect: "python2", Image: "v2/parse-python2"},
	}, testLog())

	snippet := writeSnippet(t)
	envs, err := d.Environments(context.Background(), snippet)
	if err != nil {
		t.Fatal(err)
	}
	// The python2 sandbox failure is non-fatal.
	if len(envs) != 1 {
		t.Fatalf("got %d environments, want 1", len(envs))
	}
	e := envs[0]
	if !strings.HasPrefix(e.ID, "python-") {
		t.Errorf("ID = %q, want python- prefix", e.ID)
	}
	if got, want := e.Image, (env.Image{Name: "python", Tag: "3.8"}); got != want {
		t.Errorf("Image = %v, want %v", got, want)
	}
	if e.WorkDir != WorkDir {
		t.Errorf("WorkDir = %q, want %q", e.WorkDir, WorkDir)
	}
	wantEntry := env.Command{Command: "python", Args: []string{"/app/snippet.py"}}
	if diff := cmp.Diff(wantEntry, e.EntryCmd); diff != "" {
		t.Errorf("EntryCmd mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"numpy"}, e.Metadata.ImportedResources); diff != "" {
		t.Errorf("ImportedResources mismatch (-want +got):\n%s", diff)
	}

	// The codebase must be bind-mounted read-only at the contract path.
	for _, spec := range runner.specs {
		if len(spec.Binds) != 1 || !strings.HasSuffix(spec.Binds[0], ":"+ContainerCodePath+":ro") {
			t.Errorf("sandbox binds = %v, want read-only mount at %s", spec.Binds, ContainerCodePath)
		}
		if diff := cmp.Diff([]string{ContainerCodePath}, spec.Cmd); diff != "" {
			t.Errorf("sandbox cmd mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEnvironmentsJupyterEntry(t *testing.T) {
	report := `{
	  "language": {"name": "python", "version": "3.8", "version_major": 3, "system": "pip", "jupyter": true},
	  "num_files": 1,
	  "files": [{"filename": "notebook.ipynb", "imports": ["pandas"]}]
	}`
	runner := &fakeRunner{stdout: map[string][]byte{"v2/parse-python": []byte(report)}}
	d := NewDriver(runner, []Sandbox{{Dialect: "python", Image: "v2/parse-python"}}, testLog())

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notebook.ipynb"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	envs, err := d.Environments(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d environments, want 1", len(envs))
	}
	want := env.Command{
		Command: "jupyter",
		Args:    []string{"nbconvert", "--to", "notebook", "--execute", "/app/notebook.ipynb"},
	}
	if diff := cmp.Diff(want, envs[0].EntryCmd); diff != "" {
		t.Errorf("EntryCmd mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvironmentsAllSandboxesFail(t *testing.T) {
	runner := &fakeRunner{
		stdout: map[string][]byte{"v2/parse-python": []byte("not json at all")},
	}
	d := NewDriver(runner, []Sandbox{{Dialect: "python", Image: "v2/parse-python"}}, testLog())
	envs, err := d.Environments(context.Background(), writeSnippet(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 0 {
		t.Errorf("got %d environments from malformed parses, want 0", len(envs))
	}
}
