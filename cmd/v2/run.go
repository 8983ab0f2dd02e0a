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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/v2-project/v2/internal/config"
	"github.com/v2-project/v2/internal/emit"
	"github.com/v2-project/v2/internal/env"
	"github.com/v2-project/v2/internal/infer"
	"github.com/v2-project/v2/internal/kgraph"
	"github.com/v2-project/v2/internal/kvsink"
	"github.com/v2-project/v2/internal/parse"
	"github.com/v2-project/v2/internal/pkgcache"
	"github.com/v2-project/v2/internal/pkgsys"
	"github.com/v2-project/v2/internal/sandbox"
	"github.com/v2-project/v2/internal/search"
	"github.com/v2-project/v2/internal/validate"
)

func newRunCommand() *cobra.Command {
	var (
		language        string
		strategy        string
		entryCmd        string
		entryArgs       []string
		format          string
		only            string
		consulAddr      string
		consulKeyPrefix string
		noValidate      bool
	)
	cmd := &cobra.Command{
		Use:   "run [package]",
		Short: "infer an environment for the code at [package] (default .)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := infer.ValidateOnly(only); err != nil {
				return err
			}
			codePath := "."
			if len(args) > 0 {
				codePath = args[0]
			}
			return runInference(cmd.Context(), runOptions{
				codePath:        codePath,
				language:        language,
				strategy:        strategy,
				entryCmd:        entryCmd,
				entryArgs:       entryArgs,
				format:          format,
				only:            only,
				consulAddr:      consulAddr,
				consulKeyPrefix: consulKeyPrefix,
				noValidate:      noValidate,
			})
		},
	}
	cmd.Flags().StringVar(&language, "language", "python", "language of the code under inference")
	cmd.Flags().StringVar(&strategy, "search", search.NameFeedback,
		fmt.Sprintf("search strategy (%s, %s, %s)", search.NameLevelOrder, search.NameIDDFS, search.NameFeedback))
	cmd.Flags().StringVar(&entryCmd, "cmd", "", "override the synthesized entry command")
	cmd.Flags().StringArrayVar(&entryArgs, "arg", nil, "argument for --cmd (repeatable)")
	cmd.Flags().StringVar(&format, "format", emit.FormatDockerfile,
		fmt.Sprintf("output format (%s, %s, %s)", emit.FormatDockerfile, emit.FormatInstallCommands, emit.FormatMetadata))
	cmd.Flags().StringVar(&only, "only", "", "restrict transitive edges (deps, assoc, none)")
	cmd.Flags().StringVar(&consulAddr, "consul", "", "consul address for the key-value sink")
	cmd.Flags().StringVar(&consulKeyPrefix, "consul-key-prefix", "", "key prefix for the sink")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "emit the first resolved environment unvalidated")
	return cmd
}

type runOptions struct {
	codePath        string
	language        string
	strategy        string
	entryCmd        string
	entryArgs       []string
	format          string
	only            string
	consulAddr      string
	consulKeyPrefix string
	noValidate      bool
}

func runInference(parent context.Context, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	entry := log()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigC)
	var (
		sigMu    sync.Mutex
		received os.Signal
	)
	go func() {
		sig, ok := <-sigC
		if !ok {
			return
		}
		sigMu.Lock()
		received = sig
		sigMu.Unlock()
		cancel()
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return err
	}
	store, err := pkgcache.Open(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	docker, err := sandbox.NewDocker(entry)
	if err != nil {
		return err
	}
	defer docker.Close()

	packaging := sandbox.NewPackaging(docker, qualify(cfg, cfg.Images.Packaging))
	registry := pkgsys.NewRegistry(
		pkgsys.NewPip(store, cfg.Index.URL, entry),
		pkgsys.NewApt(store, packaging, entry),
	)

	graph, err := kgraph.Dial(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		return err
	}
	defer graph.Close(context.WithoutCancel(ctx))

	var parsers []parse.Sandbox
	for dialect, image := range cfg.ParsersForLanguage(opts.language) {
		parsers = append(parsers, parse.Sandbox{Dialect: dialect, Image: qualify(cfg, image)})
	}
	validators := make(map[string]string, len(cfg.Images.Validators))
	for dialect, image := range cfg.Images.Validators {
		validators[dialect] = qualify(cfg, image)
	}

	var sink infer.Sink
	consulAddr := opts.consulAddr
	if consulAddr == "" {
		consulAddr = cfg.Consul.Address
	}
	if consulAddr != "" {
		prefix := opts.consulKeyPrefix
		if prefix == "" {
			prefix = cfg.Consul.KeyPrefix
		}
		sink, err = kvsink.NewConsul(consulAddr, prefix)
		if err != nil {
			return err
		}
	}

	driver := infer.NewDriver(
		parse.NewDriver(docker, parsers, entry),
		validate.NewDriver(docker, registry, validators, entry),
		registry, graph, sink, entry,
	)

	inferOpts := infer.Options{
		CodePath:   opts.codePath,
		Strategy:   opts.strategy,
		Only:       opts.only,
		NoValidate: opts.noValidate,
	}
	if opts.entryCmd != "" {
		inferOpts.EntryCmd = &env.Command{Command: opts.entryCmd, Args: opts.entryArgs}
	}

	res, err := driver.Infer(ctx, inferOpts)
	if err != nil {
		sigMu.Lock()
		sig := received
		sigMu.Unlock()
		if sig != nil {
			signo := int(sig.(syscall.Signal))
			return infer.ErrInferenceTerminated(sig.String(), signo)
		}
		return err
	}

	out, err := emit.Render(opts.format, registry, res)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func qualify(cfg *config.Config, image string) string {
	if cfg.Images.Registry == "" || image == "" {
		return image
	}
	return cfg.Images.Registry + "/" + image
}
