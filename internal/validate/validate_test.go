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

package validate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/pkgsys"
	"github.com/v2-project/v2/internal/sandbox"
)

type fakeRunner struct {
	stdout []byte
	spec   sandbox.RunSpec
}

func (f *fakeRunner) Run(_ context.Context, spec sandbox.RunSpec) (*sandbox.Output, error) {
	f.spec = spec
	return &sandbox.Output{Stdout: f.stdout}, nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func testRegistry() *pkgsys.Registry {
	return pkgsys.NewRegistry(pkgsys.NewStatic("pip", map[string][]string{
		"numpy":        {"1.16.4"},
		"scikit-learn": {"0.20.3"},
	}))
}

func testEnv() *env.Environment {
	return &env.Environment{
		ID:            "python-test",
		Image:         env.Image{Name: "python", Tag: "3.8"},
		WorkDir:       "/app",
		EntryCmd:      env.Command{Command: "python", Args: []string{"/app/snippet.py"}},
		SetupCommands: []env.Command{{Command: "apt-get", Args: []string{"update"}}},
		Dependencies: []env.Dependency{
			{Name: "numpy", Version: "1.16.4", System: "pip"},
			{Name: "scikit-learn", Version: "0.20.3", System: "pip"},
		},
		Metadata: env.Metadata{
			Parse: &env.ParseReport{Language: env.Language{Name: "python", VersionMajor: 3}},
		},
	}
}

func TestValidatePassesInstallCommands(t *testing.T) {
	record, _ := json.Marshal(env.Validation{Status: env.StatusSuccess})
	runner := &fakeRunner{stdout: record}
	d := NewDriver(runner, testRegistry(), map[string]string{"python": "v2/validate-python"}, testLog())

	v, err := d.Validate(context.Background(), testEnv(), "/tmp/code")
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != env.StatusSuccess {
		t.Errorf("Status = %q, want Success", v.Status)
	}
	if runner.spec.Image != "v2/validate-python" {
		t.Errorf("image = %q, want v2/validate-python", runner.spec.Image)
	}
	if len(runner.spec.Cmd) != 2 || runner.spec.Cmd[0] != "/codebase" {
		t.Fatalf("cmd = %v, want [/codebase <installs>]", runner.spec.Cmd)
	}
	want := "apt-get update,pip install numpy==1.16.4,pip install scikit-learn==0.20.3"
	if runner.spec.Cmd[1] != want {
		t.Errorf("install argument = %q, want %q", runner.spec.Cmd[1], want)
	}
}

func TestValidateTruncatesInstallErrors(t *testing.T) {
	long := strings.Repeat("x", 5000)
	record, _ := json.Marshal(env.Validation{
		Status: env.StatusFailed,
		Dependencies: env.InstallReport{InstallErrors: []env.InstallError{
			{Command: "pip install numpy==1.16.4", Stdout: long, Stderr: long},
		}},
	})
	runner := &fakeRunner{stdout: record}
	d := NewDriver(runner, testRegistry(), map[string]string{"python": "v2/validate-python"}, testLog())

	v, err := d.Validate(context.Background(), testEnv(), "/tmp/code")
	if err != nil {
		t.Fatal(err)
	}
	ie := v.Dependencies.InstallErrors[0]
	if len(ie.Stdout) != InstallErrorLimit || len(ie.Stderr) != InstallErrorLimit {
		t.Errorf("install error lengths = (%d, %d), want %d", len(ie.Stdout), len(ie.Stderr), InstallErrorLimit)
	}
}

func TestValidateProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{name: "malformed JSON", stdout: "Traceback (most recent call last):"},
		{name: "missing status", stdout: `{"dependencies": {}}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			runner := &fakeRunner{stdout: []byte(test.stdout)}
			d := NewDriver(runner, testRegistry(), map[string]string{"python": "v2/validate-python"}, testLog())
			_, err := d.Validate(context.Background(), testEnv(), "/tmp/code")
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("Validate error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestValidateUnknownDialect(t *testing.T) {
	d := NewDriver(&fakeRunner{}, testRegistry(), map[string]string{}, testLog())
	if _, err := d.Validate(context.Background(), testEnv(), "/tmp/code"); err == nil {
		t.Error("Validate with no sandbox for the dialect succeeded, want error")
	}
}
