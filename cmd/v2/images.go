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

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "build all sandbox container images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, image := range cfg.AllImages() {
				context := filepath.Join(cfg.Images.ContextDir, shortName(image))
				if _, err := os.Stat(context); err != nil {
					return fmt.Errorf("build context for %s: %w", image, err)
				}
				if err := dockerCLI(cmd, "build", "-t", image, context); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newPushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "push all sandbox images to the configured registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Images.Registry == "" {
				return fmt.Errorf("no registry configured")
			}
			for _, image := range cfg.AllImages() {
				if err := dockerCLI(cmd, "push", image); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// dockerCLI delegates image build and push to the docker binary; build
// contexts live on disk, where the CLI's context handling (ignore
// files, multi-stage caching) is what image authors expect.
func dockerCLI(cmd *cobra.Command, args ...string) error {
	log().Infof("docker %s", strings.Join(args, " "))
	c := exec.CommandContext(cmd.Context(), "docker", args...)
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	return c.Run()
}

func shortName(image string) string {
	name := image
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}
