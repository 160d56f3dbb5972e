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
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/codepr/graderd/model"
)

// ExportImageUnpacked materialises image into targetDir by shelling
// out to the docker CLI in three phases: verify the image exists,
// create a stopped container from it, export that container's
// filesystem to a tar archive, remove the container, then unpack the
// archive. It never talks to the docker daemon through its API; every
// step is a child process, matching the runtime surface runc/docker
// expose on the grading hosts.
func ExportImageUnpacked(ctx context.Context, image model.ImageId, targetDir string) error {
	if err := inspectImage(ctx, image); err != nil {
		return err
	}

	containerID, err := createStoppedContainer(ctx, image)
	if err != nil {
		return err
	}
	defer removeContainer(context.Background(), containerID)

	tarPath := filepath.Join(os.TempDir(), "graderd-export-"+containerID+".tar")
	defer os.Remove(tarPath)

	if err := exportContainer(ctx, containerID, tarPath); err != nil {
		return err
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return errors.Wrap(err, "creating rootfs target directory")
	}

	return unpackTar(tarPath, targetDir)
}

func inspectImage(ctx context.Context, image model.ImageId) error {
	out, err := exec.CommandContext(ctx, "docker", "image", "inspect", string(image)).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return errors.Wrapf(ErrUnknownDockerReply, "docker image inspect: %s", string(exitErr.Stderr))
		}
		return errors.Wrap(err, "invoking docker image inspect")
	}
	if strings.TrimSpace(string(out)) == "[]" {
		return errors.Wrapf(ErrImageNotFound, "image %q", image)
	}
	return nil
}

func createStoppedContainer(ctx context.Context, image model.ImageId) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "create", "-q", string(image)).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errors.Wrapf(ErrUnknownDockerReply, "docker create: %s", string(exitErr.Stderr))
		}
		return "", errors.Wrap(err, "invoking docker create")
	}
	return strings.TrimSpace(string(out)), nil
}

func exportContainer(ctx context.Context, containerID, targetTar string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "export", containerID, "-o", targetTar)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(ErrUnknownDockerReply, "docker export: %s", stderr.String())
	}
	return nil
}

func removeContainer(ctx context.Context, containerID string) {
	_ = exec.CommandContext(ctx, "docker", "rm", containerID).Run()
}

func unpackTar(tarPath, targetDir string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return errors.Wrap(err, "opening exported tar")
	}
	defer f.Close()

	r := tar.NewReader(f)
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading exported tar")
		}

		dest := filepath.Join(targetDir, filepath.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)); err != nil {
				return errors.Wrap(err, "creating directory from tar")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return errors.Wrap(err, "creating parent directory from tar")
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return errors.Wrap(err, "writing file from tar")
			}
			if _, err := io.Copy(out, r); err != nil {
				out.Close()
				return errors.Wrap(err, "writing file contents from tar")
			}
			out.Close()
		case tar.TypeSymlink:
			_ = os.Symlink(hdr.Linkname, dest)
		}
	}
}
