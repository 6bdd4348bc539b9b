package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/events"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for sources, aliases, the
// employee roster, collected records and their outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sourceColumns = `id, type, name, description, config, active, private, activity_collected, done_tasks_collected`

func scanSource(row pgx.Row) (domain.Source, error) {
	var (
		s          domain.Source
		sourceType string
		config     []byte
	)
	if err := row.Scan(&s.ID, &sourceType, &s.Name, &s.Description, &config, &s.Active, &s.Private, &s.ActivityCollected, &s.DoneTasksCollected); err != nil {
		return domain.Source{}, err
	}
	s.Type = domain.SourceType(sourceType)
	s.Config = json.RawMessage(config)
	s.ActivityCollected = s.ActivityCollected.UTC()
	s.DoneTasksCollected = s.DoneTasksCollected.UTC()
	return s, nil
}

func (r *Repository) listSources(ctx context.Context, query string) ([]domain.Source, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// ListSources returns every source ordered by id.
func (r *Repository) ListSources(ctx context.Context) ([]domain.Source, error) {
	return r.listSources(ctx, `SELECT `+sourceColumns+` FROM activity_sources ORDER BY id`)
}

// ListActiveSources returns the sources sync passes work on.
func (r *Repository) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	return r.listSources(ctx, `SELECT `+sourceColumns+` FROM activity_sources WHERE active ORDER BY id`)
}

// GetSource retrieves a source by id; a missing row yields nil, nil.
func (r *Repository) GetSource(ctx context.Context, id int64) (*domain.Source, error) {
	s, err := scanSource(r.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM activity_sources WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateSource inserts a source and returns it with its assigned id.
func (r *Repository) CreateSource(ctx context.Context, source domain.Source) (*domain.Source, error) {
	config := source.Config
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	const stmt = `INSERT INTO activity_sources (type, name, description, config, active, private, activity_collected, done_tasks_collected)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING ` + sourceColumns

	created, err := scanSource(r.pool.QueryRow(ctx, stmt,
		string(source.Type),
		source.Name,
		source.Description,
		[]byte(config),
		source.Active,
		source.Private,
		source.ActivityCollected,
		source.DoneTasksCollected,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", domain.ErrSourceExists, source.Name)
		}
		return nil, err
	}
	return &created, nil
}

// UpsertAliases stores the aliases of one source, replacing earlier values per employee.
func (r *Repository) UpsertAliases(ctx context.Context, sourceID int64, aliases []domain.Alias) error {
	if len(aliases) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO employee_activity_source_aliases (employee_id, source_id, alias)
        VALUES ($1,$2,$3)
        ON CONFLICT (employee_id, source_id) DO UPDATE SET alias = EXCLUDED.alias, updated_at = NOW()
        WHERE employee_activity_source_aliases.alias <> EXCLUDED.alias`

	for _, a := range aliases {
		if _, err := tx.Exec(ctx, stmt, a.EmployeeID, sourceID, a.Alias); err != nil {
			return fmt.Errorf("upsert alias for employee %d: %w", a.EmployeeID, err)
		}
	}
	return tx.Commit(ctx)
}

// AliasMap returns alias → employee id for the source.
func (r *Repository) AliasMap(ctx context.Context, sourceID int64) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT alias, employee_id FROM employee_activity_source_aliases WHERE source_id=$1`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make(map[string]int64)
	for rows.Next() {
		var (
			alias      string
			employeeID int64
		)
		if err := rows.Scan(&alias, &employeeID); err != nil {
			return nil, err
		}
		aliases[alias] = employeeID
	}
	return aliases, rows.Err()
}

// ListActiveEmployees returns the roster identity sync resolves against.
func (r *Repository) ListActiveEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, accounts FROM employees WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []domain.Employee
	for rows.Next() {
		var (
			e        domain.Employee
			accounts []byte
		)
		if err := rows.Scan(&e.ID, &e.Email, &accounts); err != nil {
			return nil, err
		}
		if len(accounts) > 0 {
			if err := json.Unmarshal(accounts, &e.Accounts); err != nil {
				return nil, fmt.Errorf("decode accounts of employee %d: %w", e.ID, err)
			}
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// watermarkColumn names the activity_sources column holding a stream's watermark.
func watermarkColumn(stream domain.Stream) string {
	if stream == domain.StreamDoneTasks {
		return "done_tasks_collected"
	}
	return "activity_collected"
}

// lockSource re-reads the source row FOR UPDATE and fails with ErrStaleSource when
// it was deactivated or its watermark moved away from the one the pass started from.
func lockSource(ctx context.Context, tx pgx.Tx, sourceID int64, stream domain.Stream, from time.Time) (domain.SourceType, error) {
	query := `SELECT type, active, ` + watermarkColumn(stream) + ` FROM activity_sources WHERE id=$1 FOR UPDATE`

	var (
		sourceType string
		active     bool
		current    time.Time
	)
	if err := tx.QueryRow(ctx, query, sourceID).Scan(&sourceType, &active, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrSourceNotFound
		}
		return "", err
	}
	if !active || !current.Equal(from.Truncate(time.Microsecond)) {
		return "", domain.ErrStaleSource
	}
	return domain.SourceType(sourceType), nil
}

func advanceWatermark(ctx context.Context, tx pgx.Tx, sourceID int64, stream domain.Stream, watermark time.Time) error {
	col := watermarkColumn(stream)
	stmt := `UPDATE activity_sources SET ` + col + ` = $2 WHERE id = $1 AND ` + col + ` < $2`
	_, err := tx.Exec(ctx, stmt, sourceID, watermark.Truncate(time.Microsecond))
	return err
}

// CommitActivities inserts new activities, queues their events and advances the
// activity watermark in one transaction.
func (r *Repository) CommitActivities(ctx context.Context, sourceID int64, from time.Time, records []domain.Activity, watermark time.Time) (inserted int, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	sourceType, err := lockSource(ctx, tx, sourceID, domain.StreamActivities, from)
	if err != nil {
		return 0, err
	}

	const stmt = `INSERT INTO activities (employee_id, source_id, action, time, target_id, target_link, target_name, duration_seconds, meta)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (employee_id, source_id, action, time, target_id) DO NOTHING
        RETURNING id`

	for _, a := range records {
		meta, err := marshalMeta(a.Meta)
		if err != nil {
			return 0, err
		}
		seconds := int64(a.Duration / time.Second)

		var id int64
		err = tx.QueryRow(ctx, stmt, a.EmployeeID, sourceID, a.Action, a.Time, a.TargetID, a.TargetLink, a.TargetName, seconds, meta).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("insert activity: %w", err)
		}
		inserted++

		if err = insertOutbox(ctx, tx, "activity", id, a.EmployeeID, events.TypeActivityCollected, events.ActivityCollected{
			ActivityID:      id,
			EmployeeID:      a.EmployeeID,
			SourceID:        sourceID,
			SourceType:      string(sourceType),
			Action:          a.Action,
			Time:            a.Time.UTC(),
			TargetID:        a.TargetID,
			TargetLink:      a.TargetLink,
			TargetName:      a.TargetName,
			DurationSeconds: seconds,
			Meta:            a.Meta,
		}); err != nil {
			return 0, err
		}
	}

	if err = advanceWatermark(ctx, tx, sourceID, domain.StreamActivities, watermark); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// CommitDoneTasks is CommitActivities for the done-task stream.
func (r *Repository) CommitDoneTasks(ctx context.Context, sourceID int64, from time.Time, records []domain.DoneTask, watermark time.Time) (inserted int, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	sourceType, err := lockSource(ctx, tx, sourceID, domain.StreamDoneTasks, from)
	if err != nil {
		return 0, err
	}

	const stmt = `INSERT INTO done_tasks (employee_id, source_id, time, task_id, task_type, task_name, task_link)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (employee_id, source_id, task_type, task_id, time) DO NOTHING
        RETURNING id`

	for _, d := range records {
		var id int64
		err = tx.QueryRow(ctx, stmt, d.EmployeeID, sourceID, d.Time, d.TaskID, d.TaskType, d.TaskName, d.TaskLink).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("insert done task: %w", err)
		}
		inserted++

		if err = insertOutbox(ctx, tx, "done_task", id, d.EmployeeID, events.TypeDoneTaskCollected, events.DoneTaskCollected{
			DoneTaskID: id,
			EmployeeID: d.EmployeeID,
			SourceID:   sourceID,
			SourceType: string(sourceType),
			Time:       d.Time.UTC(),
			TaskID:     d.TaskID,
			TaskType:   d.TaskType,
			TaskName:   d.TaskName,
			TaskLink:   d.TaskLink,
		}); err != nil {
			return 0, err
		}
	}

	if err = advanceWatermark(ctx, tx, sourceID, domain.StreamDoneTasks, watermark); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType string, aggregateID, employeeID int64, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	route, ok := events.Routes[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	id := strconv.FormatInt(aggregateID, 10)
	// Events of one employee share a partition so consumers see them in order.
	partitionKey := strconv.FormatInt(employeeID, 10)
	dedupeKey := fmt.Sprintf("%s:%s", eventType, id)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt, aggregateType, id, eventType, route.Topic, route.SchemaSubject, partitionKey, body, dedupeKey)
	return err
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte(`{}`), nil
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode activity meta: %w", err)
	}
	return body, nil
}

// ListActivities returns an employee's activities newest first.
func (r *Repository) ListActivities(ctx context.Context, employeeID int64, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{employeeID, limit}
	query := `SELECT id, employee_id, source_id, action, time, target_id, target_link, target_name, duration_seconds, meta
        FROM activities WHERE employee_id=$1`

	if cursor != nil {
		query += ` AND (time, id) < ($3, $4)`
		args = append(args, cursor.Time, cursor.ID)
	}
	query += ` ORDER BY time DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var (
			a       domain.Activity
			seconds int64
			meta    []byte
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.SourceID, &a.Action, &a.Time, &a.TargetID, &a.TargetLink, &a.TargetName, &seconds, &meta); err != nil {
			return nil, nil, err
		}
		a.Time = a.Time.UTC()
		a.Duration = time.Duration(seconds) * time.Second
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &a.Meta); err != nil {
				return nil, nil, fmt.Errorf("decode meta of activity %d: %w", a.ID, err)
			}
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{Time: last.Time, ID: last.ID}
	}
	return results, nextCursor, nil
}

// ListDoneTasks returns an employee's done tasks newest first.
func (r *Repository) ListDoneTasks(ctx context.Context, employeeID int64, cursor *domain.Cursor, limit int) ([]domain.DoneTask, *domain.Cursor, error) {
	args := []interface{}{employeeID, limit}
	query := `SELECT id, employee_id, source_id, time, task_id, task_type, task_name, task_link
        FROM done_tasks WHERE employee_id=$1`

	if cursor != nil {
		query += ` AND (time, id) < ($3, $4)`
		args = append(args, cursor.Time, cursor.ID)
	}
	query += ` ORDER BY time DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.DoneTask, 0, limit)
	for rows.Next() {
		var d domain.DoneTask
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.SourceID, &d.Time, &d.TaskID, &d.TaskType, &d.TaskName, &d.TaskLink); err != nil {
			return nil, nil, err
		}
		d.Time = d.Time.UTC()
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{Time: last.Time, ID: last.ID}
	}
	return results, nextCursor, nil
}
