package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/identity"
)

var t0 = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

// memoryStore mimics the transactional writer: natural-key dedup, staleness
// check against the selected watermark and forward-only watermarks.
type memoryStore struct {
	mu         sync.Mutex
	sources    map[int64]*domain.Source
	aliases    map[int64]map[string]int64
	activities map[string]domain.Activity
	doneTasks  map[string]domain.DoneTask
}

func newMemoryStore(sources ...domain.Source) *memoryStore {
	s := &memoryStore{
		sources:    map[int64]*domain.Source{},
		aliases:    map[int64]map[string]int64{},
		activities: map[string]domain.Activity{},
		doneTasks:  map[string]domain.DoneTask{},
	}
	for i := range sources {
		src := sources[i]
		s.sources[src.ID] = &src
	}
	return s
}

func (s *memoryStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	return s.ListActiveSources(ctx)
}

func (s *memoryStore) ListActiveSources(context.Context) ([]domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Source
	for id := int64(1); id <= int64(len(s.sources)); id++ {
		if src, ok := s.sources[id]; ok && src.Active {
			out = append(out, *src)
		}
	}
	return out, nil
}

func (s *memoryStore) GetSource(_ context.Context, id int64) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, nil
	}
	copied := *src
	return &copied, nil
}

func (s *memoryStore) CreateSource(_ context.Context, src domain.Source) (*domain.Source, error) {
	return &src, nil
}

func (s *memoryStore) UpsertAliases(context.Context, int64, []domain.Alias) error { return nil }

func (s *memoryStore) AliasMap(_ context.Context, sourceID int64) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliases[sourceID], nil
}

func (s *memoryStore) deactivate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[id].Active = false
}

func (s *memoryStore) lock(sourceID int64, stream domain.Stream, from time.Time) (*domain.Source, error) {
	src, ok := s.sources[sourceID]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	if !src.Active || !src.Watermark(stream).Equal(from) {
		return nil, domain.ErrStaleSource
	}
	return src, nil
}

func (s *memoryStore) CommitActivities(_ context.Context, sourceID int64, from time.Time, records []domain.Activity, watermark time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := s.lock(sourceID, domain.StreamActivities, from)
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, a := range records {
		key := fmt.Sprintf("%d/%d/%s/%d/%s", a.EmployeeID, a.SourceID, a.Action, a.Time.UnixNano(), a.TargetID)
		if _, dup := s.activities[key]; dup {
			continue
		}
		s.activities[key] = a
		inserted++
	}
	if src.ActivityCollected.Before(watermark) {
		src.ActivityCollected = watermark
	}
	return inserted, nil
}

func (s *memoryStore) CommitDoneTasks(_ context.Context, sourceID int64, from time.Time, records []domain.DoneTask, watermark time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := s.lock(sourceID, domain.StreamDoneTasks, from)
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, d := range records {
		key := fmt.Sprintf("%d/%d/%s/%s/%d", d.EmployeeID, d.SourceID, d.TaskType, d.TaskID, d.Time.UnixNano())
		if _, dup := s.doneTasks[key]; dup {
			continue
		}
		s.doneTasks[key] = d
		inserted++
	}
	if src.DoneTasksCollected.Before(watermark) {
		src.DoneTasksCollected = watermark
	}
	return inserted, nil
}

type fakeConnector struct {
	mu         sync.Mutex
	activities func(domain.Window, map[string]int64) ([]domain.Activity, error)
	doneTasks  func(domain.Window, map[string]int64) (map[int64][]domain.DoneTask, error)
	windows    []domain.Window
}

func (c *fakeConnector) ResolveIdentities(context.Context, []domain.Employee) (map[int64]string, error) {
	return nil, nil
}

func (c *fakeConnector) FetchActivities(_ context.Context, w domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
	c.mu.Lock()
	c.windows = append(c.windows, w)
	c.mu.Unlock()
	if c.activities == nil {
		return nil, nil
	}
	return c.activities(w, aliases)
}

func (c *fakeConnector) FetchDoneTasks(_ context.Context, w domain.Window, aliases map[string]int64) (map[int64][]domain.DoneTask, error) {
	c.mu.Lock()
	c.windows = append(c.windows, w)
	c.mu.Unlock()
	if c.doneTasks == nil {
		return map[int64][]domain.DoneTask{}, nil
	}
	return c.doneTasks(w, aliases)
}

type fakeFactory map[int64]connector.Connector

func (f fakeFactory) New(source domain.Source) (connector.Connector, error) {
	conn, ok := f[source.ID]
	if !ok {
		return nil, &connector.ConfigError{Type: string(source.Type), Reason: "no connector"}
	}
	return conn, nil
}

type countingSyncer struct {
	calls int
	err   error
}

func (s *countingSyncer) Sync(context.Context) (identity.Report, error) {
	s.calls++
	return identity.Report{}, s.err
}

func newTestOrchestrator(t *testing.T, store *memoryStore, factory fakeFactory, syncer IdentitySyncer, now time.Time) *Orchestrator {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	return NewOrchestrator(store, store, store, factory, syncer, Options{
		Lag:         30 * time.Minute,
		CallTimeout: time.Minute,
		Clock:       clock,
		Logger:      zaptest.NewLogger(t),
	})
}

func activeSource(id int64, name string, watermark time.Time) domain.Source {
	return domain.Source{
		ID:                 id,
		Type:               domain.SourceGerrit,
		Name:               name,
		Active:             true,
		ActivityCollected:  watermark,
		DoneTasksCollected: watermark,
	}
}

func TestCollectActivitiesFetchesLaggedWindow(t *testing.T) {
	store := newMemoryStore(activeSource(1, "review", t0))
	store.aliases[1] = map[string]int64{"alice": 7}
	conn := &fakeConnector{activities: func(w domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
		return []domain.Activity{
			{EmployeeID: aliases["alice"], Action: "CHANGE_CREATED", Time: w.Start.Add(time.Minute), TargetID: "I1"},
			{EmployeeID: aliases["alice"], Action: "CHANGE_MESSAGE", Time: w.Start.Add(2 * time.Minute), TargetID: "I1"},
		}, nil
	}}
	syncer := &countingSyncer{}

	orch := newTestOrchestrator(t, store, fakeFactory{1: conn}, syncer, t0.Add(45*time.Minute))
	res, err := orch.CollectActivities(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, syncer.calls)
	require.Equal(t, t0.Add(15*time.Minute), res.NowLag)

	require.Equal(t, []domain.Window{{Start: t0, End: t0.Add(15 * time.Minute)}}, conn.windows)
	require.Len(t, res.Sources, 1)
	require.NoError(t, res.Sources[0].Err)
	require.Equal(t, 2, res.Sources[0].Fetched)
	require.Equal(t, 2, res.Sources[0].Inserted)

	src, err := store.GetSource(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, t0.Add(15*time.Minute), src.ActivityCollected)
	require.Equal(t, t0, src.DoneTasksCollected)
	for _, a := range store.activities {
		require.EqualValues(t, 1, a.SourceID)
	}
}

func TestCollectIsolatesFailingSource(t *testing.T) {
	store := newMemoryStore(activeSource(1, "down", t0), activeSource(2, "up", t0))
	boom := errors.New("connection refused")
	failing := &fakeConnector{activities: func(domain.Window, map[string]int64) ([]domain.Activity, error) {
		return nil, boom
	}}
	healthy := &fakeConnector{activities: func(w domain.Window, _ map[string]int64) ([]domain.Activity, error) {
		return []domain.Activity{{EmployeeID: 3, Action: "POST", Time: w.Start}}, nil
	}}

	orch := newTestOrchestrator(t, store, fakeFactory{1: failing, 2: healthy}, nil, t0.Add(time.Hour))
	res, err := orch.CollectActivities(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failed(), 1)

	var fetchErr *FetchError
	require.ErrorAs(t, res.Sources[0].Err, &fetchErr)
	require.EqualValues(t, 1, fetchErr.SourceID)
	require.Equal(t, OpFetch, fetchErr.Op)
	require.Equal(t, domain.StreamActivities, fetchErr.Stream)
	require.ErrorIs(t, res.Sources[0].Err, boom)

	down, _ := store.GetSource(context.Background(), 1)
	up, _ := store.GetSource(context.Background(), 2)
	require.Equal(t, t0, down.ActivityCollected)
	require.Equal(t, t0.Add(30*time.Minute), up.ActivityCollected)
	require.Len(t, store.activities, 1)
}

func TestCollectSkipsUpToDateSources(t *testing.T) {
	now := t0.Add(time.Hour)
	store := newMemoryStore(activeSource(1, "fresh", now.Add(-30*time.Minute)))
	conn := &fakeConnector{}

	res, err := newTestOrchestrator(t, store, fakeFactory{1: conn}, nil, now).CollectActivities(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Sources)
	require.Empty(t, conn.windows)
}

func TestCollectDoneTasksDeduplicatesAcrossOverlappingRuns(t *testing.T) {
	store := newMemoryStore(activeSource(1, "review", t0))
	merged := domain.DoneTask{Time: t0.Add(time.Minute), TaskID: "42", TaskType: domain.TaskMergedCommit, TaskName: "fix"}
	conn := &fakeConnector{doneTasks: func(domain.Window, map[string]int64) (map[int64][]domain.DoneTask, error) {
		// Connectors may return records seen in an earlier window again.
		return map[int64][]domain.DoneTask{9: {merged}, 4: {merged}}, nil
	}}

	orch := newTestOrchestrator(t, store, fakeFactory{1: conn}, nil, t0.Add(time.Hour))
	first, err := orch.CollectDoneTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Sources[0].Inserted)

	// Rewind the watermark to simulate a retried window.
	store.sources[1].DoneTasksCollected = t0
	second, err := orch.CollectDoneTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, second.Sources[0].Fetched)
	require.Zero(t, second.Sources[0].Inserted)
	require.Len(t, store.doneTasks, 2)
	for _, d := range store.doneTasks {
		require.EqualValues(t, 1, d.SourceID)
		require.Contains(t, []int64{4, 9}, d.EmployeeID)
	}
}

func TestCollectSkipsSourceDeactivatedDuringPass(t *testing.T) {
	store := newMemoryStore(activeSource(1, "retiring", t0))
	conn := &fakeConnector{}
	conn.activities = func(w domain.Window, _ map[string]int64) ([]domain.Activity, error) {
		store.deactivate(1)
		return []domain.Activity{{EmployeeID: 1, Action: "POST", Time: w.Start}}, nil
	}

	res, err := newTestOrchestrator(t, store, fakeFactory{1: conn}, nil, t0.Add(time.Hour)).CollectActivities(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	require.True(t, res.Sources[0].Stale)
	require.NoError(t, res.Sources[0].Err)
	require.Empty(t, store.activities)
	require.Equal(t, t0, store.sources[1].ActivityCollected)
}

func TestCollectReportsConnectorConfigErrors(t *testing.T) {
	store := newMemoryStore(activeSource(1, "misconfigured", t0))

	res, err := newTestOrchestrator(t, store, fakeFactory{}, nil, t0.Add(time.Hour)).CollectActivities(context.Background())
	require.NoError(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, res.Sources[0].Err, &fetchErr)
	require.Equal(t, OpConnect, fetchErr.Op)
	require.True(t, connector.IsConfigError(res.Sources[0].Err))
}

func TestRunSyncsIdentitiesOnce(t *testing.T) {
	store := newMemoryStore(activeSource(1, "review", t0))
	conn := &fakeConnector{}
	syncer := &countingSyncer{}

	results, err := newTestOrchestrator(t, store, fakeFactory{1: conn}, syncer, t0.Add(time.Hour)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, syncer.calls)
	require.Len(t, results, 2)
	require.Equal(t, domain.StreamActivities, results[0].Stream)
	require.Equal(t, domain.StreamDoneTasks, results[1].Stream)
	require.Equal(t, t0.Add(30*time.Minute), store.sources[1].ActivityCollected)
	require.Equal(t, t0.Add(30*time.Minute), store.sources[1].DoneTasksCollected)
}

func TestRunStopsWhenIdentitySyncFails(t *testing.T) {
	store := newMemoryStore(activeSource(1, "review", t0))
	conn := &fakeConnector{}
	boom := errors.New("roster unavailable")

	_, err := newTestOrchestrator(t, store, fakeFactory{1: conn}, &countingSyncer{err: boom}, t0.Add(time.Hour)).Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Empty(t, conn.windows)
}
