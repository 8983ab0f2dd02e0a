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
Package sandbox runs the parser, validation and packaging-system
containers through the Docker Engine API. A sandbox is invoked once per
call: create, start, wait, then read the demultiplexed output streams.

Captured stdout and stderr are each bounded at 10 MiB per call; a
sandbox that writes more to either stream fails that call with
ErrOutputTooLarge.
*/
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// MaxOutput bounds the captured primary output of one sandbox call.
const MaxOutput = 10 << 20

// ErrOutputTooLarge is returned when a sandbox writes more than
// MaxOutput bytes to a captured stream.
var ErrOutputTooLarge = errors.New("sandbox output exceeds capture limit")

// RunSpec describes one sandbox invocation.
type RunSpec struct {
	Image   string
	Cmd     []string
	Binds   []string // host:container[:ro] bind mounts
	WorkDir string
}

// Output carries the demultiplexed streams of a finished sandbox,
// along with its exit code.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes sandbox containers. The docker-backed implementation
// is Docker; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*Output, error)
}

// Docker runs sandboxes against the local Docker engine.
type Docker struct {
	client *client.Client
	log    *logrus.Entry
}

// NewDocker builds a runner over the environment-configured Docker
// engine.
func NewDocker(log *logrus.Entry) (*Docker, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to docker engine: %w", err)
	}
	return &Docker{client: c, log: log}, nil
}

// Close releases the engine connection.
func (d *Docker) Close() error { return d.client.Close() }

// Run creates, starts and waits for one container, returning its
// captured output. The container is removed on all paths; when ctx is
// cancelled the in-flight run is abandoned to the engine's cleanup.
func (d *Docker) Run(ctx context.Context, spec RunSpec) (*Output, error) {
	created, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        spec.Cmd,
			WorkingDir: spec.WorkDir,
		},
		&container.HostConfig{Binds: spec.Binds},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox %s: %w", spec.Image, err)
	}
	id := created.ID
	defer func() {
		// Removal uses a fresh context so a cancelled run still cleans up.
		err := d.client.ContainerRemove(context.WithoutCancel(ctx), id,
			container.RemoveOptions{Force: true})
		if err != nil {
			d.log.WithError(err).WithField("container", id[:12]).Debug("removing sandbox container")
		}
	}()

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting sandbox %s: %w", spec.Image, err)
	}

	waitC, errC := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case res := <-waitC:
		if res.Error != nil {
			return nil, fmt.Errorf("sandbox %s: %s", spec.Image, res.Error.Message)
		}
		exitCode = int(res.StatusCode)
	case err := <-errC:
		return nil, fmt.Errorf("waiting for sandbox %s: %w", spec.Image, err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("reading sandbox %s output: %w", spec.Image, err)
	}
	defer logs.Close()

	stdout := newCappedBuffer(MaxOutput)
	stderr := newCappedBuffer(MaxOutput)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && !errors.Is(err, errCapExceeded) {
		return nil, fmt.Errorf("demultiplexing sandbox %s output: %w", spec.Image, err)
	}
	if stdout.exceeded || stderr.exceeded {
		return nil, fmt.Errorf("sandbox %s: %w", spec.Image, ErrOutputTooLarge)
	}
	return &Output{Stdout: stdout.buf, Stderr: stderr.buf, ExitCode: exitCode}, nil
}

var errCapExceeded = errors.New("capture limit exceeded")

// cappedBuffer accumulates writes up to a fixed cap and flags overflow.
type cappedBuffer struct {
	buf      []byte
	cap      int
	exceeded bool
}

func newCappedBuffer(n int) *cappedBuffer { return &cappedBuffer{cap: n} }

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if len(b.buf)+len(p) > b.cap {
		b.exceeded = true
		return 0, errCapExceeded
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

var _ io.Writer = (*cappedBuffer)(nil)

// Packaging is the packaging-system sandbox: given a package name it
// emits a JSON array of version strings on its primary output channel.
type Packaging struct {
	runner Runner
	image  string
}

// NewPackaging builds the version-enumeration sandbox over the runner.
func NewPackaging(runner Runner, image string) *Packaging {
	return &Packaging{runner: runner, image: image}
}

// ListVersions satisfies the pkgsys.VersionLister contract.
func (p *Packaging) ListVersions(ctx context.Context, name string) ([]string, error) {
	out, err := p.runner.Run(ctx, RunSpec{Image: p.image, Cmd: []string{name}})
	if err != nil {
		return nil, err
	}
	var versions []string
	if err := json.Unmarshal(out.Stdout, &versions); err != nil {
		return nil, fmt.Errorf("decoding version listing for %s: %w", name, err)
	}
	return versions, nil
}
