package source

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/codepr/graderd/model"
)

// RepoResolver looks up the remote URL registered for a team, the way
// storage.Store.GetRepo does.
type RepoResolver interface {
	GetRepo(ctx context.Context, team model.TeamId) (string, bool, error)
}

// TeamExporter adapts Exporter to the dispatcher's team-keyed
// TarExporter contract by resolving a team id to its registered remote
// URL before delegating to Exporter.Export.
type TeamExporter struct {
	exporter *Exporter
	repos    RepoResolver
}

func NewTeamExporter(exporter *Exporter, repos RepoResolver) *TeamExporter {
	return &TeamExporter{exporter: exporter, repos: repos}
}

func (t *TeamExporter) Export(ctx context.Context, team, revision string, w io.Writer) error {
	url, ok, err := t.repos.GetRepo(ctx, model.TeamId(team))
	if err != nil {
		return errors.Wrapf(err, "resolving repo for team %q", team)
	}
	if !ok {
		return errors.Errorf("no repo registered for team %q", team)
	}
	return t.exporter.Export(ctx, url, revision, w)
}
