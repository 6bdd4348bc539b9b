// Package catalog wires every connector variant into a registry.
package catalog

import (
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/gerrit"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/github"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/google"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/pararam"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector/youtrack"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

// NewRegistry returns a registry with all built-in source types.
func NewRegistry(deps connector.Deps) *connector.Registry {
	r := connector.NewRegistry(deps)
	connector.Register(r, domain.SourceGerrit, gerrit.New)
	connector.Register(r, domain.SourceYouTrack, youtrack.New)
	connector.Register(r, domain.SourceGitHub, github.New)
	connector.Register(r, domain.SourceGoogle, google.New)
	connector.Register(r, domain.SourcePararam, pararam.New)
	return r
}
