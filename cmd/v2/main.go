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

// v2 discovers a working containerized execution environment for a
// source code snippet by searching over base images and pinned
// dependency versions until the snippet runs clean.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/v2-project/v2/internal/config"
	"github.com/v2-project/v2/internal/infer"
)

var (
	flagConfig  string
	flagVerbose bool

	logger = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:           "v2",
		Short:         "infer container environments for code snippets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (TOML)")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		logger.SetOutput(os.Stderr)
		if flagVerbose {
			logger.SetLevel(logrus.DebugLevel)
		}
	}
	root.AddCommand(newBuildCommand(), newPushCommand(), newRunCommand())

	if err := root.Execute(); err != nil {
		exit(err)
	}
}

// exit writes the structured error to the diagnostic channel and
// terminates with the error's code, defaulting to 1.
func exit(err error) {
	var ie *infer.Error
	if !errors.As(err, &ie) {
		ie = infer.ErrUnexpected(err)
	}
	out, merr := json.Marshal(ie)
	if merr != nil {
		fmt.Fprintln(os.Stderr, ie.Error())
	} else {
		fmt.Fprintln(os.Stderr, string(out))
	}
	code := ie.Code
	if code == 0 {
		code = 1
	}
	os.Exit(code)
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

func log() *logrus.Entry {
	return logrus.NewEntry(logger)
}
