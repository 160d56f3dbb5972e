package worker

import (
	"archive/tar"
	"os"

	"github.com/pkg/errors"
)

// emptySourceTar writes a valid, empty tar archive to a temp file and
// returns its path; test tasting has no source tree to integrate, but
// CreatedContainer.IntegrateSource always expects a tar to untar.
func emptySourceTar() (string, error) {
	f, err := os.CreateTemp("", "taste-*.tar")
	if err != nil {
		return "", errors.Wrap(err, "creating empty source tar")
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	if err := tw.Close(); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "finalising empty source tar")
	}
	return f.Name(), nil
}
