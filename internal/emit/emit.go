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

// Package emit renders a successful inference as one of the supported
// artifacts: a container recipe, the bare install-command list, or the
// full inference metadata as JSON.
package emit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/infer"
	"github.com/v2-project/v2/internal/pkgsys"
)

// Supported output formats.
const (
	FormatDockerfile      = "dockerfile"
	FormatInstallCommands = "install-commands"
	FormatMetadata        = "metadata"
)

// Render produces the artifact for the format.
func Render(format string, reg *pkgsys.Registry, res *infer.Result) (string, error) {
	switch format {
	case FormatDockerfile:
		return dockerfile(reg, res.Environment)
	case FormatInstallCommands:
		cmds, err := pkgsys.InstallCommands(reg, res.Environment)
		if err != nil {
			return "", err
		}
		lines := make([]string, len(cmds))
		for i, c := range cmds {
			lines[i] = c.String()
		}
		return strings.Join(lines, "\n") + "\n", nil
	case FormatMetadata:
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	}
	return "", fmt.Errorf("unknown output format %q", format)
}

// dockerfile renders the container recipe for the environment.
func dockerfile(reg *pkgsys.Registry, e *env.Environment) (string, error) {
	cmds, err := pkgsys.InstallCommands(reg, e)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", e.Image)
	fmt.Fprintf(&b, "WORKDIR %s\n", e.WorkDir)
	fmt.Fprintf(&b, "COPY . %s\n", e.WorkDir)
	for _, c := range e.SetupCommands {
		fmt.Fprintf(&b, "RUN %s\n", c)
	}
	for _, c := range cmds {
		fmt.Fprintf(&b, "RUN %s\n", c)
	}
	fmt.Fprintf(&b, "CMD [%s]\n", cmdJSON(e.EntryCmd))
	return b.String(), nil
}

func cmdJSON(c env.Command) string {
	parts := append([]string{c.Command}, c.Args...)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return strings.Join(quoted, ", ")
}
