// Package identity refreshes the alias store: for every active source it asks the
// source's connector to map the employee roster onto external identities.
package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/observability"
)

// ConnectorFactory builds the connector of a source.
type ConnectorFactory interface {
	New(source domain.Source) (connector.Connector, error)
}

// ResolutionError reports a source whose aliases could not be refreshed.
type ResolutionError struct {
	SourceID   int64
	SourceName string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve identities for source %d (%s): %v", e.SourceID, e.SourceName, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// SourceReport is the outcome of one source.
type SourceReport struct {
	SourceID int64
	Aliases  int
	Err      error
}

// Report summarises one Sync call.
type Report struct {
	Sources []SourceReport
}

// Failed returns the per-source errors.
func (r Report) Failed() []error {
	var errs []error
	for _, s := range r.Sources {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

// Syncer refreshes aliases source by source.
type Syncer struct {
	sources domain.SourceRepository
	roster  domain.EmployeeRoster
	aliases domain.AliasRepository
	factory ConnectorFactory
	logger  *zap.Logger
}

// NewSyncer constructs a Syncer.
func NewSyncer(sources domain.SourceRepository, roster domain.EmployeeRoster, aliases domain.AliasRepository, factory ConnectorFactory, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		sources: sources,
		roster:  roster,
		aliases: aliases,
		factory: factory,
		logger:  logger.Named("identity"),
	}
}

// Sync resolves the roster against every active source. Only failure to load the
// sources or the roster is returned; per-source failures land in the report.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	sources, err := s.sources.ListActiveSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active sources: %w", err)
	}
	employees, err := s.roster.ListActiveEmployees(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active employees: %w", err)
	}

	report := Report{Sources: make([]SourceReport, 0, len(sources))}
	for _, source := range sources {
		n, err := s.syncSource(ctx, source, employees)
		entry := SourceReport{SourceID: source.ID, Aliases: n}
		if err != nil {
			entry.Err = &ResolutionError{SourceID: source.ID, SourceName: source.Name, Err: err}
			observability.RecordIdentityFailure(string(source.Type))
			s.logger.Warn("identity resolution failed", append(connector.SourceFields(source), zap.Error(err))...)
		} else {
			observability.RecordAliases(string(source.Type), n)
		}
		report.Sources = append(report.Sources, entry)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	return report, nil
}

func (s *Syncer) syncSource(ctx context.Context, source domain.Source, employees []domain.Employee) (int, error) {
	conn, err := s.factory.New(source)
	if err != nil {
		return 0, err
	}
	resolved, err := conn.ResolveIdentities(ctx, employees)
	if err != nil {
		return 0, err
	}
	if len(resolved) == 0 {
		return 0, nil
	}

	aliases := make([]domain.Alias, 0, len(resolved))
	for _, e := range employees {
		alias, ok := resolved[e.ID]
		if !ok || alias == "" {
			continue
		}
		aliases = append(aliases, domain.Alias{EmployeeID: e.ID, SourceID: source.ID, Alias: alias})
	}
	if err := s.aliases.UpsertAliases(ctx, source.ID, aliases); err != nil {
		return 0, fmt.Errorf("upsert aliases: %w", err)
	}
	return len(aliases), nil
}
