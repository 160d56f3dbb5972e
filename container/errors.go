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

import "github.com/pkg/errors"

// Sentinel errors a caller can test for with errors.Is/errors.Cause.
var (
	ErrImageNotFound       = errors.New("image not found")
	ErrUnknownDockerReply  = errors.New("unexpected docker response")
	ErrBaseNotBuilt        = errors.New("build container did not exit successfully")
	ErrRuncStart           = errors.New("runtime failed to start the container")
	ErrWaitFailed          = errors.New("wait syscall on container process failed")
	ErrKillUnparsable      = errors.New("could not parse runtime kill log output")
	ErrKillFailed          = errors.New("runtime refused to kill the container")
)

// SourceUntarError wraps the stdout/stderr of a failed source-tarball
// extraction so callers can surface both streams, matching spec.md's
// `SourceUntar{stdout,stderr}` variant.
type SourceUntarError struct {
	Stdout string
	Stderr string
}

func (e *SourceUntarError) Error() string {
	return "failed to extract source tarball: " + e.Stderr
}
