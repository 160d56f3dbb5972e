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

package container

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// spawnedProcess is a runc/docker child process with its output
// streams captured into buffers as they arrive, the idiomatic-Go
// equivalent of the driver's non-blocking poll loop: two reader
// goroutines drain stdout/stderr concurrently with the waiter instead
// of the caller polling fcntl'd file descriptors by hand.
type spawnedProcess struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	mu     sync.Mutex
	done   chan struct{}
	waitErr error
}

func startProcess(workdir, containerID string) (*spawnedProcess, error) {
	cmd := exec.Command("runc", "run", containerID)
	cmd.Dir = workdir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating stderr pipe")
	}
	cmd.Stdin = nil

	sp := &spawnedProcess{cmd: cmd, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, done: make(chan struct{})}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting runc run")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go sp.drain(&wg, stdoutPipe, sp.stdout)
	go sp.drain(&wg, stderrPipe, sp.stderr)

	go func() {
		wg.Wait()
		sp.waitErr = cmd.Wait()
		close(sp.done)
	}()

	return sp, nil
}

func (sp *spawnedProcess) drain(wg *sync.WaitGroup, r interface{ Read([]byte) (int, error) }, buf *bytes.Buffer) {
	defer wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			sp.mu.Lock()
			buf.Write(chunk[:n])
			sp.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (sp *spawnedProcess) output() (stdout, stderr string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.stdout.String(), sp.stderr.String()
}

func (sp *spawnedProcess) kill() {
	if sp.cmd.Process != nil {
		_ = sp.cmd.Process.Signal(syscall.SIGKILL)
	}
}

// waitOutcome is the result of waiting for a spawned container
// process, distinguishing a clean exit from the cooperative-
// cancellation and wall-clock-timeout paths spec.md treats as
// first-class outcomes rather than errors.
type waitOutcome struct {
	ExitCode *int
	Signal   *int
	Stdout   string
	Stderr   string
	Timeout  bool
	Aborted  bool
}

// waitForContainer samples, roughly every 100ms: whether the process
// has exited, whether aborted has been set, and whether timeout has
// elapsed. On timeout or abort it sends SIGKILL and returns the
// accumulated output gathered so far.
func waitForContainer(sp *spawnedProcess, aborted *atomic.Bool, timeout time.Duration) (waitOutcome, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sp.done:
			stdout, stderr := sp.output()
			if sp.waitErr != nil {
				if exitErr, ok := sp.waitErr.(*exec.ExitError); ok {
					code := exitErr.ExitCode()
					outcome := waitOutcome{Stdout: stdout, Stderr: stderr}
					if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
						sig := int(status.Signal())
						outcome.Signal = &sig
					} else {
						outcome.ExitCode = &code
					}
					return outcome, nil
				}
				return waitOutcome{}, errors.Wrap(ErrWaitFailed, sp.waitErr.Error())
			}
			code := sp.cmd.ProcessState.ExitCode()
			return waitOutcome{ExitCode: &code, Stdout: stdout, Stderr: stderr}, nil

		case <-ticker.C:
			if aborted != nil && aborted.Load() {
				sp.kill()
				<-sp.done
				stdout, stderr := sp.output()
				return waitOutcome{Stdout: stdout, Stderr: stderr, Aborted: true}, nil
			}
			if time.Now().After(deadline) {
				sp.kill()
				<-sp.done
				stdout, stderr := sp.output()
				return waitOutcome{Stdout: stdout, Stderr: stderr, Timeout: true}, nil
			}
		}
	}
}

// runWithTimeout runs a short-lived helper command (tar extraction,
// exec copy) to completion, used by phases that need a single
// synchronous child process rather than the long-running container
// wait loop above.
func runWithTimeout(ctx context.Context, name string, args []string, dir string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}
