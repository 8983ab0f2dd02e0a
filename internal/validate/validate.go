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
Package validate runs a candidate environment in a validation sandbox.
The sandbox executes the environment's install commands in order, then
the entry command, and writes one Validation record to its primary
output channel. The driver decodes the record, rejects malformed JSON
or a record without a status with ErrProtocol, truncates each install
error's stdout and stderr to InstallErrorLimit bytes, and otherwise
returns the record without interpreting it.
*/
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/parse"
	"github.com/v2-project/v2/internal/pkgsys"
	"github.com/v2-project/v2/internal/sandbox"
)

// ErrProtocol marks a sandbox that violated the validation contract:
// malformed JSON or a record with no status.
var ErrProtocol = errors.New("validation sandbox protocol violation")

// InstallErrorLimit bounds the stdout/stderr captured per failed
// install command.
const InstallErrorLimit = 1024

// Driver launches validation sandboxes.
type Driver struct {
	runner   sandbox.Runner
	registry *pkgsys.Registry
	// images maps dialect to the validation sandbox image.
	images map[string]string
	log    *logrus.Entry
}

// NewDriver builds a validator driver over the runner. images maps
// each dialect to its validation sandbox image.
func NewDriver(runner sandbox.Runner, registry *pkgsys.Registry, images map[string]string, log *logrus.Entry) *Driver {
	return &Driver{runner: runner, registry: registry, images: images, log: log}
}

// Validate runs the environment against the codebase and returns the
// sandbox's validation record.
func (d *Driver) Validate(ctx context.Context, e *env.Environment, codePath string) (*env.Validation, error) {
	image, ok := d.images[e.Dialect()]
	if !ok {
		return nil, fmt.Errorf("no validation sandbox for dialect %q", e.Dialect())
	}
	cmds, err := pkgsys.InstallCommands(d.registry, e)
	if err != nil {
		return nil, err
	}
	installArg := joinCommands(append(append([]env.Command{}, e.SetupCommands...), cmds...))

	d.log.WithFields(logrus.Fields{
		"environment": e.ID,
		"image":       image,
	}).Debug("validating")

	out, err := d.runner.Run(ctx, sandbox.RunSpec{
		Image: image,
		Cmd:   []string{parse.ContainerCodePath, installArg},
		Binds: []string{codePath + ":" + parse.ContainerCodePath},
	})
	if err != nil {
		return nil, err
	}

	var v env.Validation
	if err := json.Unmarshal(out.Stdout, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if v.Status == "" {
		return nil, fmt.Errorf("%w: record missing status_code", ErrProtocol)
	}
	truncateInstallErrors(&v)
	return &v, nil
}

// joinCommands renders the full install command list as the single
// comma-separated argument the sandbox contract requires.
func joinCommands(cmds []env.Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

func truncateInstallErrors(v *env.Validation) {
	for i := range v.Dependencies.InstallErrors {
		ie := &v.Dependencies.InstallErrors[i]
		ie.Stdout = truncate(ie.Stdout, InstallErrorLimit)
		ie.Stderr = truncate(ie.Stderr, InstallErrorLimit)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
