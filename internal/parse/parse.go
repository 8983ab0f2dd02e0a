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
Package parse launches one parser sandbox per supported language
dialect over a code location and turns each successful parse into a
starting Environment for the search. A sandbox that fails to parse is
logged and skipped; producing zero environments is the caller's
terminal condition, not this package's.
*/
package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/sandbox"
)

// ContainerCodePath is where the codebase is bind-mounted read-only
// inside every parser sandbox.
const ContainerCodePath = "/codebase"

// WorkDir is the working directory environments run under.
const WorkDir = "/app"

// Sandbox names one parser image and the dialect it understands.
type Sandbox struct {
	Dialect string
	Image   string
}

// Driver runs the parser sandboxes.
type Driver struct {
	runner    sandbox.Runner
	sandboxes []Sandbox
	log       *logrus.Entry
}

// NewDriver builds a parse driver over the runner for the given
// dialect sandboxes.
func NewDriver(runner sandbox.Runner, sandboxes []Sandbox, log *logrus.Entry) *Driver {
	return &Driver{runner: runner, sandboxes: sandboxes, log: log}
}

// Environments parses the code location with every configured sandbox
// and returns one starting environment per successful parse.
func (d *Driver) Environments(ctx context.Context, codePath string) ([]*env.Environment, error) {
	abs, err := filepath.Abs(codePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("code location %s: %w", codePath, err)
	}

	var envs []*env.Environment
	for _, sb := range d.sandboxes {
		report, err := d.parseOne(ctx, sb, abs, info.IsDir())
		if err != nil {
			d.log.WithError(err).WithField("dialect", sb.Dialect).Warn("parser sandbox failed")
			continue
		}
		e, err := d.environment(sb.Dialect, report, abs, info.IsDir())
		if err != nil {
			d.log.WithError(err).WithField("dialect", sb.Dialect).Warn("unusable parse result")
			continue
		}
		envs = append(envs, e)
	}
	return envs, nil
}

func (d *Driver) parseOne(ctx context.Context, sb Sandbox, abs string, isDir bool) (*env.ParseReport, error) {
	hostPath := abs
	if !isDir {
		hostPath = filepath.Dir(abs)
	}
	out, err := d.runner.Run(ctx, sandbox.RunSpec{
		Image: sb.Image,
		Cmd:   []string{ContainerCodePath},
		Binds: []string{hostPath + ":" + ContainerCodePath + ":ro"},
	})
	if err != nil {
		return nil, err
	}
	var report env.ParseReport
	if err := json.Unmarshal(out.Stdout, &report); err != nil {
		return nil, fmt.Errorf("decoding parse result: %w", err)
	}
	return &report, nil
}

// environment synthesizes the starting environment from a parse
// report: the base image from the detected language version, the entry
// command from the dialect and special-mode flags, and the executable
// path from the codebase's file shape.
func (d *Driver) environment(dialect string, report *env.ParseReport, abs string, isDir bool) (*env.Environment, error) {
	target := filepath.Base(abs)
	if isDir {
		if len(report.Files) == 0 {
			return nil, fmt.Errorf("parse reported no files")
		}
		target = report.Files[0].Filename
	}
	e := &env.Environment{
		ID:       fmt.Sprintf("%s-%s", dialect, uuid.NewString()[:8]),
		Image:    baseImage(report.Language),
		WorkDir:  WorkDir,
		EntryCmd: entryCommand(report.Language, filepath.Join(WorkDir, target)),
		Metadata: env.Metadata{
			Parse:             report,
			ImportedResources: report.ImportedResources(),
		},
	}
	return e, nil
}

func baseImage(lang env.Language) env.Image {
	tag := lang.Version
	if tag == "" {
		tag = fmt.Sprintf("%d", lang.VersionMajor)
	}
	return env.Image{Name: lang.Name, Tag: tag}
}

func entryCommand(lang env.Language, target string) env.Command {
	if lang.Jupyter {
		return env.Command{
			Command: "jupyter",
			Args:    []string{"nbconvert", "--to", "notebook", "--execute", target},
		}
	}
	interpreter := lang.Name
	if lang.VersionMajor == 2 {
		interpreter = fmt.Sprintf("%s%d", lang.Name, lang.VersionMajor)
	}
	return env.Command{Command: interpreter, Args: []string{target}}
}
