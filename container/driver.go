// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package container drives an external OCI runtime (runc) and a
// container engine CLI (docker) as child processes: it materialises an
// image into a rootfs, runs a build inside it, then forks ephemeral
// overlay containers off the built rootfs to run tests. A container's
// lifecycle is modelled as three distinct types, CreatedContainer,
// StartedContainer and BuiltContainer: every phase transition consumes
// its predecessor by value and returns a fresh value for the successor
// phase, so the type system rules out calling RunTest before a build
// finished and IntegrateSource after a container already started.
package container

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

// resource is the part of a container every phase shares: the working
// directory and container id it owns, and whether it is still this
// value's job to clean them up. A transition to the next phase hands
// the same resource to the successor and disarms cleanup here, so
// exactly one phase ever runs the cleanup for a given container.
type resource struct {
	mu          sync.Mutex
	workdir     string
	containerID model.ContainerId
	doCleanup   bool
	closed      bool
	log         zerolog.Logger
}

func (r *resource) disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doCleanup = false
}

// Close kills the container (tolerating "already gone") and removes
// its working directory. Idempotent; safe to call from a defer even
// after a successful phase transition already disarmed it.
func (r *resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.doCleanup {
		r.closed = true
		return nil
	}
	r.closed = true

	if err := killContainer(r.containerID); err != nil {
		r.log.Error().Err(err).Str("container_id", string(r.containerID)).Msg("failed to kill container during cleanup")
	}
	if err := os.RemoveAll(r.workdir); err != nil {
		r.log.Error().Err(err).Str("workdir", r.workdir).Msg("failed to remove container working directory during cleanup")
	}
	return nil
}

// CreatedContainer is a freshly materialised, not yet started build
// container: its writable rootfs exists on disk but no OCI runtime
// child process has been spawned.
type CreatedContainer struct {
	res    *resource
	rootfs string
}

// StartedContainer owns the running OCI-runtime child process for a
// build.
type StartedContainer struct {
	res    *resource
	rootfs string
	proc   *spawnedProcess
}

// BuiltContainer carries the build's observed result, the only state a
// test overlay needs to fork off the built rootfs.
type BuiltContainer struct {
	res      *resource
	rootfs   string
	stdout   string
	stderr   string
	exitCode *int
	signal   *int
	runtime  time.Duration
}

// Success reports whether the build exited zero with no signal; tests
// may not run against a rootfs that never finished building.
func (b *BuiltContainer) Success() bool {
	return b.signal == nil && b.exitCode != nil && *b.exitCode == 0
}

func (b *BuiltContainer) Stdout() string         { return b.stdout }
func (b *BuiltContainer) Stderr() string         { return b.stderr }
func (b *BuiltContainer) ExitCodeValue() *int     { return b.exitCode }
func (b *BuiltContainer) SignalValue() *int       { return b.signal }
func (b *BuiltContainer) Runtime() time.Duration  { return b.runtime }

// New materialises image into a fresh working directory and renders
// its writable-rootfs OCI config, ready for IntegrateSource. No child
// process is spawned yet.
func New(ctx context.Context, baseDir string, image model.ImageId, buildArgs []string, log zerolog.Logger) (*CreatedContainer, error) {
	containerID := model.ContainerId(uuid.NewString())
	workdir := filepath.Join(baseDir, "build-"+string(containerID))
	rootfs := filepath.Join(workdir, "rootfs")

	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating build workdir")
	}

	if err := ExportImageUnpacked(ctx, image, rootfs); err != nil {
		os.RemoveAll(workdir)
		return nil, errors.Wrap(err, "materialising image")
	}

	if err := writeWritableRootfsConfig(workdir, rootfs, buildArgs); err != nil {
		os.RemoveAll(workdir)
		return nil, errors.Wrap(err, "rendering build container config")
	}

	return &CreatedContainer{
		res:    &resource{workdir: workdir, containerID: containerID, doCleanup: true, log: log.With().Str("container_id", string(containerID)).Logger()},
		rootfs: rootfs,
	}, nil
}

func (c *CreatedContainer) Close() error           { return c.res.Close() }
func (c *CreatedContainer) ContainerId() model.ContainerId { return c.res.containerID }

func (c *StartedContainer) Close() error           { return c.res.Close() }
func (c *StartedContainer) ContainerId() model.ContainerId { return c.res.containerID }

func (c *BuiltContainer) Close() error           { return c.res.Close() }
func (c *BuiltContainer) ContainerId() model.ContainerId { return c.res.containerID }

// IntegrateSource untars sourceTar into <rootfs>/work, where the build
// command expects to find the team's source tree.
func (c *CreatedContainer) IntegrateSource(ctx context.Context, sourceTar string) error {
	workDir := filepath.Join(c.rootfs, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return errors.Wrap(err, "creating source work directory")
	}

	stdout, stderr, err := runWithTimeout(ctx, "tar", []string{"-C", workDir, "-xf", sourceTar}, c.res.workdir)
	if err != nil {
		return &SourceUntarError{Stdout: stdout, Stderr: stderr}
	}
	return nil
}

// Run spawns the OCI runtime against this container's config and
// returns a StartedContainer owning the running process. Cleanup
// ownership transfers from c to the returned value.
func (c *CreatedContainer) Run() (*StartedContainer, error) {
	proc, err := startProcess(c.res.workdir, string(c.res.containerID))
	if err != nil {
		return nil, errors.Wrap(err, "starting build container")
	}

	c.res.disarm()
	return &StartedContainer{
		res:    &resource{workdir: c.res.workdir, containerID: c.res.containerID, doCleanup: true, log: c.res.log},
		rootfs: c.rootfs,
		proc:   proc,
	}, nil
}

// WaitForBuild waits for the build container to exit, abort, or time
// out, and returns the successor BuiltContainer value. Cleanup
// ownership transfers from c to the returned value.
func (c *StartedContainer) WaitForBuild(aborted *atomic.Bool, timeout time.Duration) (*BuiltContainer, error) {
	outcome, err := waitForContainer(c.proc, aborted, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "waiting for build container")
	}

	c.res.disarm()
	built := &BuiltContainer{
		res:      &resource{workdir: c.res.workdir, containerID: c.res.containerID, doCleanup: true, log: c.res.log},
		rootfs:   c.rootfs,
		stdout:   outcome.Stdout,
		stderr:   outcome.Stderr,
		exitCode: outcome.ExitCode,
		signal:   outcome.Signal,
	}
	if outcome.Timeout {
		return built, errTimeout{}
	}
	if outcome.Aborted {
		return built, errAborted{}
	}
	return built, nil
}

// errTimeout/errAborted let callers distinguish the expected
// wait-loop endings (still returning a usable BuiltContainer value with
// whatever output accumulated) from genuine internal errors.
type errTimeout struct{}

func (errTimeout) Error() string { return "build container timed out" }

type errAborted struct{}

func (errAborted) Error() string { return "build container was aborted" }

func IsTimeout(err error) bool { _, ok := err.(errTimeout); return ok }
func IsAborted(err error) bool { _, ok := err.(errAborted); return ok }

// RunTest forks an ephemeral overlay container off the built rootfs to
// run one test's command. If the build never succeeded it refuses
// immediately with ErrBaseNotBuilt. The overlay's working directory is
// always removed before RunTest returns, success or failure alike.
func (c *BuiltContainer) RunTest(ctx context.Context, args []string, input string, aborted *atomic.Bool, timeout time.Duration) (outcome waitOutcome, err error) {
	if !c.Success() {
		return waitOutcome{}, ErrBaseNotBuilt
	}

	testID := uuid.NewString()
	testWorkdir := filepath.Join(filepath.Dir(c.rootfs), "test-"+testID)
	upper := filepath.Join(testWorkdir, "overlay-upper")
	work := filepath.Join(testWorkdir, "overlay-work")

	defer os.RemoveAll(testWorkdir)
	for _, dir := range []string{upper, work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return waitOutcome{}, errors.Wrap(err, "creating overlay directories")
		}
	}

	if err := writeOverlayRootfsConfig(testWorkdir, c.rootfs, upper, work, args); err != nil {
		return waitOutcome{}, errors.Wrap(err, "rendering test container config")
	}

	if input != "" {
		if err := os.WriteFile(filepath.Join(upper, "input"), []byte(input), 0o644); err != nil {
			return waitOutcome{}, errors.Wrap(err, "writing test input")
		}
	}

	testContainerID := model.ContainerId(testID)
	proc, err := startProcess(testWorkdir, string(testContainerID))
	if err != nil {
		return waitOutcome{}, errors.Wrap(ErrRuncStart, err.Error())
	}
	defer killContainer(testContainerID)

	result, err := waitForContainer(proc, aborted, timeout)
	if err != nil {
		return waitOutcome{}, err
	}

	if looksLikeRuncStartFailure(result.Stderr, result.ExitCode) {
		return waitOutcome{}, errors.Wrapf(ErrRuncStart, "%s", result.Stderr)
	}

	return result, nil
}

// looksLikeRuncStartFailure detects the single-stderr-line pattern
// runc emits when it fails to even start the container, which must be
// surfaced as an internal error rather than a judged test result.
func looksLikeRuncStartFailure(stderr string, exitCode *int) bool {
	if exitCode == nil || *exitCode == 0 {
		return false
	}
	trimmed := stderr
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '\n' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if trimmed == "" {
		return false
	}
	for i, c := range trimmed {
		if c == '\n' {
			_ = i
			return false
		}
	}
	return hasPrefix(trimmed, "runc run failed:")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
