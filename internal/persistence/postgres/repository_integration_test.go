//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/events"
)

func TestRepositoryCommitLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	var employeeID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO employees (email, accounts) VALUES ('alice@example.com', '{"github":"alice-gh"}') RETURNING id`,
	).Scan(&employeeID))

	roster, err := repo.ListActiveEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "alice-gh", roster[0].AccountHint(domain.SourceGitHub))

	start := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	source, err := repo.CreateSource(ctx, domain.Source{
		Type:               domain.SourceGitHub,
		Name:               "github-org",
		Config:             []byte(`{"token":"t","org":"acme"}`),
		Active:             true,
		ActivityCollected:  start,
		DoneTasksCollected: start,
	})
	require.NoError(t, err)

	_, err = repo.CreateSource(ctx, domain.Source{Type: domain.SourceGitHub, Name: "github-org", ActivityCollected: start, DoneTasksCollected: start})
	require.ErrorIs(t, err, domain.ErrSourceExists)

	require.NoError(t, repo.UpsertAliases(ctx, source.ID, []domain.Alias{{EmployeeID: employeeID, SourceID: source.ID, Alias: "old"}}))
	require.NoError(t, repo.UpsertAliases(ctx, source.ID, []domain.Alias{{EmployeeID: employeeID, SourceID: source.ID, Alias: "alice-gh"}}))
	aliases, err := repo.AliasMap(ctx, source.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"alice-gh": employeeID}, aliases)

	activity := domain.Activity{
		EmployeeID: employeeID,
		Action:     "PUSH_EVENT",
		Time:       start.Add(time.Minute),
		TargetID:   "acme/api",
		Duration:   90 * time.Second,
		Meta:       map[string]any{"ref": "main"},
	}
	watermark := start.Add(15 * time.Minute)
	n, err := repo.CommitActivities(ctx, source.ID, start, []domain.Activity{activity, activity}, watermark)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The watermark moved, so a commit from the old position is stale.
	_, err = repo.CommitActivities(ctx, source.ID, start, []domain.Activity{activity}, watermark)
	require.ErrorIs(t, err, domain.ErrStaleSource)

	later := watermark.Add(15 * time.Minute)
	n, err = repo.CommitActivities(ctx, source.ID, watermark, []domain.Activity{activity}, later)
	require.NoError(t, err)
	require.Zero(t, n)

	stored, err := repo.GetSource(ctx, source.ID)
	require.NoError(t, err)
	require.True(t, later.Equal(stored.ActivityCollected))
	require.True(t, start.Equal(stored.DoneTasksCollected))

	listed, next, err := repo.ListActivities(ctx, employeeID, nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, listed, 1)
	require.Equal(t, 90*time.Second, listed[0].Duration)
	require.Equal(t, "main", listed[0].Meta["ref"])

	task := domain.DoneTask{EmployeeID: employeeID, Time: start.Add(2 * time.Minute), TaskID: "acme/api#1", TaskType: domain.TaskMergedCommit}
	n, err = repo.CommitDoneTasks(ctx, source.ID, start, []domain.DoneTask{task}, watermark)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type IN ($1, $2)`,
		events.TypeActivityCollected, events.TypeDoneTaskCollected).Scan(&outboxCount))
	require.Equal(t, 2, outboxCount)
}

func TestRepositorySkipsDeactivatedSource(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	start := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	source, err := repo.CreateSource(ctx, domain.Source{
		Type: domain.SourcePararam, Name: "chat", Active: true,
		ActivityCollected: start, DoneTasksCollected: start,
	})
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE activity_sources SET active = FALSE WHERE id = $1`, source.ID)
	require.NoError(t, err)

	_, err = repo.CommitActivities(ctx, source.ID, start, nil, start.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrStaleSource)

	active, err := repo.ListActiveSources(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("workbench"),
		postgrescontainer.WithUsername("collector"),
		postgrescontainer.WithPassword("collector"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		contents, readErr := os.ReadFile(resolvePath(t, rel))
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
