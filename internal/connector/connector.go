// Package connector defines the contract every external activity source implements,
// together with the registry that builds connectors from source rows and the shared
// pagination, chunking and HTTP helpers the variants are written with.
package connector

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

// Connector talks to one external system on behalf of one configured source.
//
// Implementations hold only their validated configuration and are safe for
// concurrent use. Unmapped external actors are dropped, never reported as errors.
type Connector interface {
	// ResolveIdentities maps employees to their identity in the external system.
	// Employees without a match are absent from the result.
	ResolveIdentities(ctx context.Context, employees []domain.Employee) (map[int64]string, error)
	// FetchActivities returns activities inside window for actors present in aliases
	// (external identity → employee id).
	FetchActivities(ctx context.Context, window domain.Window, aliases map[string]int64) ([]domain.Activity, error)
	// FetchDoneTasks returns completed work inside window grouped by employee id.
	FetchDoneTasks(ctx context.Context, window domain.Window, aliases map[string]int64) (map[int64][]domain.DoneTask, error)
}

// NoDoneTasks is embedded by connectors whose source has no completed-work stream.
type NoDoneTasks struct{}

// FetchDoneTasks always returns an empty result.
func (NoDoneTasks) FetchDoneTasks(context.Context, domain.Window, map[string]int64) (map[int64][]domain.DoneTask, error) {
	return map[int64][]domain.DoneTask{}, nil
}

// Deps carries process-level collaborators handed to every connector at construction.
type Deps struct {
	Logger     *zap.Logger
	Clock      quartz.Clock
	HTTPClient *http.Client
}

// withDefaults fills unset collaborators.
func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return d
}
