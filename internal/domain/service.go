package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrSourceNotFound is returned when a source cannot be located.
	ErrSourceNotFound = errors.New("activity source not found")
	// ErrStaleSource is returned by a commit when the source was deactivated or its
	// watermark moved after the sync pass selected it.
	ErrStaleSource = errors.New("activity source changed since selection")
	// ErrSourceExists is returned when a source name is already taken.
	ErrSourceExists = errors.New("activity source already exists")
)

// SourceRepository captures persistence of the source registry.
type SourceRepository interface {
	ListSources(ctx context.Context) ([]Source, error)
	ListActiveSources(ctx context.Context) ([]Source, error)
	GetSource(ctx context.Context, id int64) (*Source, error)
	CreateSource(ctx context.Context, source Source) (*Source, error)
}

// AliasRepository captures persistence of employee ↔ external identity pairs.
type AliasRepository interface {
	UpsertAliases(ctx context.Context, sourceID int64, aliases []Alias) error
	// AliasMap returns external identity → employee id for the source.
	AliasMap(ctx context.Context, sourceID int64) (map[string]int64, error)
}

// EmployeeRoster reads the active employee roster.
type EmployeeRoster interface {
	ListActiveEmployees(ctx context.Context) ([]Employee, error)
}

// RecordWriter persists fetched records and advances the stream watermark in one transaction.
// Duplicates by natural key are dropped silently; the returned count covers new rows only.
type RecordWriter interface {
	CommitActivities(ctx context.Context, sourceID int64, from time.Time, records []Activity, watermark time.Time) (int, error)
	CommitDoneTasks(ctx context.Context, sourceID int64, from time.Time, records []DoneTask, watermark time.Time) (int, error)
}

// RecordReader lists canonical records for one employee, newest first.
type RecordReader interface {
	ListActivities(ctx context.Context, employeeID int64, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	ListDoneTasks(ctx context.Context, employeeID int64, cursor *Cursor, limit int) ([]DoneTask, *Cursor, error)
}

// ConfigValidator checks an opaque source configuration blob for a source type.
type ConfigValidator interface {
	Validate(sourceType SourceType, raw json.RawMessage) error
}

// Cursor models the pagination token for record listings.
type Cursor struct {
	Time time.Time
	ID   int64
}

// Service backs the administrative API.
type Service struct {
	sources   SourceRepository
	records   RecordReader
	validator ConfigValidator
	backfill  time.Duration
	now       func() time.Time
}

// NewService constructs a Service. New sources start collecting from creation time minus backfill.
func NewService(sources SourceRepository, records RecordReader, validator ConfigValidator, backfill time.Duration) *Service {
	return &Service{
		sources:   sources,
		records:   records,
		validator: validator,
		backfill:  backfill,
		now:       time.Now,
	}
}

// CreateSourceInput captures the payload from the API layer.
type CreateSourceInput struct {
	Type        SourceType
	Name        string
	Description string
	Config      json.RawMessage
	Active      bool
	Private     bool
}

// ValidateSourceConfig checks the config blob without persisting anything.
func (s *Service) ValidateSourceConfig(sourceType SourceType, raw json.RawMessage) error {
	return s.validator.Validate(sourceType, raw)
}

// CreateSource validates the configuration and registers the source.
func (s *Service) CreateSource(ctx context.Context, input CreateSourceInput) (*Source, error) {
	if err := s.validator.Validate(input.Type, input.Config); err != nil {
		return nil, err
	}

	start := s.now().UTC().Add(-s.backfill).Truncate(time.Second)
	return s.sources.CreateSource(ctx, Source{
		Type:               input.Type,
		Name:               strings.TrimSpace(input.Name),
		Description:        input.Description,
		Config:             input.Config,
		Active:             input.Active,
		Private:            input.Private,
		ActivityCollected:  start,
		DoneTasksCollected: start,
	})
}

// ListSources returns every configured source including inactive ones.
func (s *Service) ListSources(ctx context.Context) ([]Source, error) {
	return s.sources.ListSources(ctx)
}

// GetSource fetches by ID.
func (s *Service) GetSource(ctx context.Context, id int64) (*Source, error) {
	source, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrSourceNotFound
	}
	return source, nil
}

// ListActivities fetches an employee's activities with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, employeeID int64, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.records.ListActivities(ctx, employeeID, cursor, limit)
}

// ListDoneTasks fetches an employee's done tasks with cursor pagination.
func (s *Service) ListDoneTasks(ctx context.Context, employeeID int64, cursor *Cursor, limit int) ([]DoneTask, *Cursor, error) {
	return s.records.ListDoneTasks(ctx, employeeID, cursor, limit)
}
