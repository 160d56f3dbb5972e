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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// writableRootfsTemplate is the OCI runtime spec used for build
// containers: the process root is the exported image rootfs itself,
// writable in place.
const writableRootfsTemplate = `{
  "ociVersion": "1.0.2",
  "process": {
    "terminal": false,
    "args": [{args}],
    "cwd": "/"
  },
  "root": {
    "path": "{rootfs}",
    "readonly": false
  },
  "hostname": "graderd-build",
  "mounts": [
    {"destination": "/proc", "type": "proc", "source": "proc"},
    {"destination": "/dev", "type": "tmpfs", "source": "tmpfs"}
  ],
  "linux": {
    "namespaces": [
      {"type": "pid"}, {"type": "network"}, {"type": "ipc"},
      {"type": "uts"}, {"type": "mount"}
    ]
  }
}
`

// overlayRootfsTemplate is the OCI runtime spec used for test
// containers: the process root is an overlay whose lower layer is the
// built (read-only) rootfs and whose upper/work layers are scoped to
// this one test run.
const overlayRootfsTemplate = `{
  "ociVersion": "1.0.2",
  "process": {
    "terminal": false,
    "args": [{args}],
    "cwd": "/"
  },
  "root": {
    "path": "{rootfs}",
    "readonly": false
  },
  "hostname": "graderd-test",
  "mounts": [
    {"destination": "/proc", "type": "proc", "source": "proc"},
    {"destination": "/dev", "type": "tmpfs", "source": "tmpfs"},
    {
      "destination": "{rootfs}",
      "type": "overlay",
      "source": "overlay",
      "options": [
        "lowerdir={lower_dir}",
        "upperdir={upper_dir}",
        "workdir={work_dir}"
      ]
    }
  ],
  "linux": {
    "namespaces": [
      {"type": "pid"}, {"type": "network"}, {"type": "ipc"},
      {"type": "uts"}, {"type": "mount"}
    ]
  }
}
`

func renderArgs(args []string) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", errors.Wrap(err, "encoding process args")
		}
		encoded[i] = string(b)
	}
	return strings.Join(encoded, ", "), nil
}

// writeWritableRootfsConfig renders writableRootfsTemplate substituting
// the rootfs path and process args, and writes it to
// <workdir>/config.json.
func writeWritableRootfsConfig(workdir, rootfs string, args []string) error {
	encodedArgs, err := renderArgs(args)
	if err != nil {
		return err
	}

	rendered := writableRootfsTemplate
	rendered = strings.ReplaceAll(rendered, "{rootfs}", rootfs)
	rendered = strings.ReplaceAll(rendered, "{args}", encodedArgs)

	return atomicWriteFile(filepath.Join(workdir, "config.json"), rendered)
}

// writeOverlayRootfsConfig renders overlayRootfsTemplate substituting
// the built (lower) rootfs path, the upper/work directories scoped to
// this test, and the process args, and writes it to
// <workdir>/config.json.
func writeOverlayRootfsConfig(workdir, lowerDir, upperDir, workDir string, args []string) error {
	encodedArgs, err := renderArgs(args)
	if err != nil {
		return err
	}

	rendered := overlayRootfsTemplate
	rendered = strings.ReplaceAll(rendered, "{rootfs}", lowerDir)
	rendered = strings.ReplaceAll(rendered, "{lower_dir}", lowerDir)
	rendered = strings.ReplaceAll(rendered, "{upper_dir}", upperDir)
	rendered = strings.ReplaceAll(rendered, "{work_dir}", workDir)
	rendered = strings.ReplaceAll(rendered, "{args}", encodedArgs)

	return atomicWriteFile(filepath.Join(workdir, "config.json"), rendered)
}

// atomicWriteFile writes to a sibling temp file then renames it over
// the destination, so a reader never observes a partially written
// config.json.
func atomicWriteFile(path, contents string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(contents), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}
