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
	"encoding/json"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/codepr/graderd/model"
)

// runcLogMessage is one line of runc's --log-format=json stderr
// output, used to tell a genuine kill failure apart from "the
// container had already exited".
type runcLogMessage struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Time  string `json:"time"`
}

// killContainer sends SIGKILL via runc's kill subcommand. A reply
// saying the container no longer exists is treated as success, since
// that is exactly the state the caller wants.
func killContainer(id model.ContainerId) error {
	var stderr bytes.Buffer
	cmd := exec.Command("runc", "--log-format=json", "kill", string(id), "KILL")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err == nil {
		return nil
	}

	var msg runcLogMessage
	if jsonErr := json.Unmarshal(lastLine(stderr.Bytes()), &msg); jsonErr != nil {
		return errors.Wrapf(ErrKillUnparsable, "runc kill stderr: %s", stderr.String())
	}

	if msg.Msg == "container does not exist" {
		return nil
	}
	return errors.Wrapf(ErrKillFailed, "runc kill: %s", msg.Msg)
}

func lastLine(b []byte) []byte {
	b = bytes.TrimRight(b, "\n")
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}
