// Package collector runs incremental sync passes: it selects the sources whose
// watermark lags behind now, fetches every source concurrently and commits each
// source's records and new watermark independently.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/identity"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/observability"
)

const (
	// DefaultLag keeps passes away from data the sources may still be settling.
	DefaultLag         = 30 * time.Minute
	DefaultCallTimeout = 10 * time.Minute
)

// ConnectorFactory builds the connector of a source.
type ConnectorFactory interface {
	New(source domain.Source) (connector.Connector, error)
}

// IdentitySyncer refreshes the alias store before a pass.
type IdentitySyncer interface {
	Sync(ctx context.Context) (identity.Report, error)
}

// Options tunes an Orchestrator.
type Options struct {
	Lag         time.Duration
	CallTimeout time.Duration
	Clock       quartz.Clock
	Logger      *zap.Logger
}

// Orchestrator drives sync passes for both record streams.
type Orchestrator struct {
	sources  domain.SourceRepository
	aliases  domain.AliasRepository
	records  domain.RecordWriter
	factory  ConnectorFactory
	identity IdentitySyncer

	lag         time.Duration
	callTimeout time.Duration
	clock       quartz.Clock
	logger      *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(sources domain.SourceRepository, aliases domain.AliasRepository, records domain.RecordWriter, factory ConnectorFactory, identity IdentitySyncer, opts Options) *Orchestrator {
	if opts.Lag <= 0 {
		opts.Lag = DefaultLag
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		sources:     sources,
		aliases:     aliases,
		records:     records,
		factory:     factory,
		identity:    identity,
		lag:         opts.Lag,
		callTimeout: opts.CallTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("collector"),
	}
}

// SourceResult is the outcome of one source in a pass.
type SourceResult struct {
	SourceID   int64
	SourceName string
	Window     domain.Window
	Fetched    int
	Inserted   int
	// Stale is set when the source changed between selection and commit.
	Stale bool
	Err   error
}

// PassResult summarises one pass over one stream.
type PassResult struct {
	Stream   domain.Stream
	NowLag   time.Time
	Identity identity.Report
	Sources  []SourceResult
}

// Failed returns the per-source errors of the pass.
func (r PassResult) Failed() []error {
	var errs []error
	for _, s := range r.Sources {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errs
}

// CollectActivities runs identity sync followed by an activity pass.
func (o *Orchestrator) CollectActivities(ctx context.Context) (PassResult, error) {
	report, err := o.syncIdentities(ctx)
	if err != nil {
		return PassResult{Stream: domain.StreamActivities}, err
	}
	return o.collect(ctx, activityStream, report)
}

// CollectDoneTasks runs identity sync followed by a done-task pass.
func (o *Orchestrator) CollectDoneTasks(ctx context.Context) (PassResult, error) {
	report, err := o.syncIdentities(ctx)
	if err != nil {
		return PassResult{Stream: domain.StreamDoneTasks}, err
	}
	return o.collect(ctx, doneTaskStream, report)
}

// Run syncs identities once and then passes over both streams.
func (o *Orchestrator) Run(ctx context.Context) ([]PassResult, error) {
	report, err := o.syncIdentities(ctx)
	if err != nil {
		return nil, err
	}
	var results []PassResult
	for _, s := range []stream{activityStream, doneTaskStream} {
		res, err := o.collect(ctx, s, report)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (o *Orchestrator) syncIdentities(ctx context.Context) (identity.Report, error) {
	if o.identity == nil {
		return identity.Report{}, nil
	}
	report, err := o.identity.Sync(ctx)
	if err != nil {
		return report, fmt.Errorf("identity sync: %w", err)
	}
	return report, nil
}

type selected struct {
	source  domain.Source
	aliases map[string]int64
}

func (o *Orchestrator) collect(ctx context.Context, s stream, report identity.Report) (PassResult, error) {
	nowLag := o.clock.Now().UTC().Add(-o.lag)
	logger := o.logger.With(zap.String("run_id", uuid.NewString()), zap.String("stream", string(s.name)))
	result := PassResult{Stream: s.name, NowLag: nowLag, Identity: report}
	observability.RecordSyncRun(string(s.name))

	sources, err := o.sources.ListActiveSources(ctx)
	if err != nil {
		return result, fmt.Errorf("list active sources: %w", err)
	}

	var due []selected
	for _, source := range sources {
		if !source.Watermark(s.name).Before(nowLag) {
			continue
		}
		aliases, err := o.aliases.AliasMap(ctx, source.ID)
		if err != nil {
			res := o.fail(logger, s, source, OpLoadAliases, err)
			res.Window = domain.Window{Start: source.Watermark(s.name), End: nowLag}
			result.Sources = append(result.Sources, res)
			continue
		}
		due = append(due, selected{source: source, aliases: aliases})
	}
	logger.Info("sync pass started", zap.Time("now_lag", nowLag), zap.Int("sources", len(due)))

	// Every task reports through its own slot and always returns nil, so one
	// source failing never cancels the others.
	results := make([]SourceResult, len(due))
	var g errgroup.Group
	for i, sel := range due {
		g.Go(func() error {
			results[i] = o.syncSource(ctx, logger, s, sel, nowLag)
			return nil
		})
	}
	_ = g.Wait()

	result.Sources = append(result.Sources, results...)
	logger.Info("sync pass finished", zap.Int("sources", len(due)), zap.Int("failed", len(result.Failed())))
	return result, ctx.Err()
}

func (o *Orchestrator) syncSource(ctx context.Context, logger *zap.Logger, s stream, sel selected, nowLag time.Time) SourceResult {
	source := sel.source
	window := domain.Window{Start: source.Watermark(s.name), End: nowLag}

	conn, err := o.factory.New(source)
	if err != nil {
		res := o.fail(logger, s, source, OpConnect, err)
		res.Window = window
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	started := time.Now()
	batch, err := s.fetch(callCtx, conn, source, window, sel.aliases)
	cancel()
	elapsed := time.Since(started)
	if err != nil {
		observability.RecordFetch(string(source.Type), string(s.name), observability.OutcomeError, elapsed)
		res := o.fail(logger, s, source, OpFetch, err)
		res.Window = window
		return res
	}

	inserted, err := batch.commit(ctx, o.records, source.ID, window)
	res := SourceResult{SourceID: source.ID, SourceName: source.Name, Window: window, Fetched: batch.len()}
	switch {
	case errors.Is(err, domain.ErrStaleSource):
		observability.RecordFetch(string(source.Type), string(s.name), observability.OutcomeStale, elapsed)
		logger.Info("source changed during pass, skipped", connector.SourceFields(source)...)
		res.Stale = true
		return res
	case err != nil:
		observability.RecordFetch(string(source.Type), string(s.name), observability.OutcomeError, elapsed)
		failed := o.fail(logger, s, source, OpCommit, err)
		failed.Window, failed.Fetched = window, batch.len()
		return failed
	}

	observability.RecordFetch(string(source.Type), string(s.name), observability.OutcomeSuccess, elapsed)
	observability.RecordInserted(string(source.Type), string(s.name), inserted)
	observability.RecordWatermark(source.ID, string(s.name), nowLag)
	logger.Info("source synced", append(connector.SourceFields(source),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
		zap.Int("fetched", batch.len()),
		zap.Int("inserted", inserted),
		zap.Duration("elapsed", elapsed),
	)...)
	res.Inserted = inserted
	return res
}

func (o *Orchestrator) fail(logger *zap.Logger, s stream, source domain.Source, op string, err error) SourceResult {
	fetchErr := &FetchError{SourceID: source.ID, SourceName: source.Name, Stream: s.name, Op: op, Err: err}
	logger.Warn("source skipped", append(connector.SourceFields(source), zap.String("op", op), zap.Error(err))...)
	return SourceResult{SourceID: source.ID, SourceName: source.Name, Err: fetchErr}
}

// stream parameterises a pass with the connector call and the commit of one record kind.
type stream struct {
	name  domain.Stream
	fetch func(ctx context.Context, conn connector.Connector, source domain.Source, window domain.Window, aliases map[string]int64) (batch, error)
}

type batch interface {
	len() int
	commit(ctx context.Context, w domain.RecordWriter, sourceID int64, window domain.Window) (int, error)
}

type activityBatch []domain.Activity

func (b activityBatch) len() int { return len(b) }

func (b activityBatch) commit(ctx context.Context, w domain.RecordWriter, sourceID int64, window domain.Window) (int, error) {
	return w.CommitActivities(ctx, sourceID, window.Start, b, window.End)
}

type doneTaskBatch []domain.DoneTask

func (b doneTaskBatch) len() int { return len(b) }

func (b doneTaskBatch) commit(ctx context.Context, w domain.RecordWriter, sourceID int64, window domain.Window) (int, error) {
	return w.CommitDoneTasks(ctx, sourceID, window.Start, b, window.End)
}

var activityStream = stream{
	name: domain.StreamActivities,
	fetch: func(ctx context.Context, conn connector.Connector, source domain.Source, window domain.Window, aliases map[string]int64) (batch, error) {
		records, err := conn.FetchActivities(ctx, window, aliases)
		if err != nil {
			return nil, err
		}
		for i := range records {
			records[i].SourceID = source.ID
		}
		return activityBatch(records), nil
	},
}

var doneTaskStream = stream{
	name: domain.StreamDoneTasks,
	fetch: func(ctx context.Context, conn connector.Connector, source domain.Source, window domain.Window, aliases map[string]int64) (batch, error) {
		grouped, err := conn.FetchDoneTasks(ctx, window, aliases)
		if err != nil {
			return nil, err
		}
		employees := make([]int64, 0, len(grouped))
		for id := range grouped {
			employees = append(employees, id)
		}
		sort.Slice(employees, func(i, j int) bool { return employees[i] < employees[j] })

		var records []domain.DoneTask
		for _, id := range employees {
			for _, task := range grouped[id] {
				task.EmployeeID = id
				task.SourceID = source.ID
				records = append(records, task)
			}
		}
		return doneTaskBatch(records), nil
	},
}
