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

package pkgsys

import (
	"github.com/v2-project/v2/internal/env"
)

// InstallCommands synthesizes the install invocation for every
// dependency of the environment, in install order.
func InstallCommands(reg *Registry, e *env.Environment) ([]env.Command, error) {
	cmds := make([]env.Command, 0, len(e.Dependencies))
	for _, dep := range e.Dependencies {
		sys, err := reg.For(dep.System)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, sys.InstallCommand(dep))
	}
	return cmds, nil
}
