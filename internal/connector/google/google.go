// Package google collects Workspace audit events (Meet, Drive, Calendar, ...) from
// the Admin SDK Reports API using a domain-wide delegated service account.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	admin "google.golang.org/api/admin/reports/v1"
	"google.golang.org/api/option"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

const (
	pageSize = 1000
	allUsers = "all"
)

// Parameters that name the object an audit event happened to, most specific first.
var (
	targetIDParams   = []string{"conference_id", "doc_id", "event_id", "meeting_code"}
	targetNameParams = []string{"doc_title", "event_title", "meeting_code"}
)

// Config is the source configuration blob of a Google Workspace source.
type Config struct {
	TokenFile   string `json:"token_file" validate:"required"`
	AdminEmail  string `json:"admin_email" validate:"required,email"`
	Application string `json:"application" validate:"required"`
}

// Connector reads one application's activity report.
type Connector struct {
	connector.NoDoneTasks

	cfg      Config
	source   domain.Source
	host     string
	logger   *zap.Logger
	pageSize int64

	newService func(ctx context.Context) (*admin.Service, error)
}

// New reads the service account key and builds the connector. Every API call mints
// a fresh delegated token for the admin user.
func New(cfg Config, source domain.Source, deps connector.Deps) (connector.Connector, error) {
	key, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, &connector.ConfigError{Type: string(domain.SourceGoogle), Key: "token_file", Reason: "cannot read key file", Err: err}
	}
	jwtCfg, err := google.JWTConfigFromJSON(key, admin.AdminReportsAuditReadonlyScope)
	if err != nil {
		return nil, &connector.ConfigError{Type: string(domain.SourceGoogle), Key: "token_file", Reason: "not a service account key", Err: err}
	}
	jwtCfg.Subject = cfg.AdminEmail

	c := &Connector{
		cfg:      cfg,
		source:   source,
		host:     emailDomain(cfg.AdminEmail),
		logger:   deps.Logger,
		pageSize: pageSize,
	}
	c.newService = func(ctx context.Context) (*admin.Service, error) {
		return serviceFor(ctx, jwtCfg)
	}
	return c, nil
}

func serviceFor(ctx context.Context, cfg *jwt.Config) (*admin.Service, error) {
	return admin.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx)))
}

// ResolveIdentities uses the lower-cased e-mail of every employee in the admin's domain.
func (c *Connector) ResolveIdentities(_ context.Context, employees []domain.Employee) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, e := range employees {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if email == "" || emailDomain(email) != c.host {
			continue
		}
		out[e.ID] = email
	}
	return out, nil
}

// FetchActivities walks the report for the configured application.
func (c *Connector) FetchActivities(ctx context.Context, window domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
	svc, err := c.newService(ctx)
	if err != nil {
		return nil, fmt.Errorf("build reports client: %w", err)
	}

	pager := connector.NewCursorPager(int(c.pageSize), func(ctx context.Context, req connector.PageRequest) (connector.Page[*admin.Activity], error) {
		call := svc.Activities.List(allUsers, c.cfg.Application).
			StartTime(window.Start.UTC().Format(time.RFC3339)).
			EndTime(window.End.UTC().Format(time.RFC3339)).
			MaxResults(int64(req.Limit)).
			Context(ctx)
		if req.Cursor != "" {
			call = call.PageToken(req.Cursor)
		}
		resp, err := call.Do()
		if err != nil {
			return connector.Page[*admin.Activity]{}, malformed(err)
		}
		return connector.Page[*admin.Activity]{Items: resp.Items, NextCursor: resp.NextPageToken}, nil
	})
	items, err := pager.Drain(ctx)
	if err != nil {
		if err := connector.Tolerate(c.logger, "list_activities", err); err != nil {
			return nil, fmt.Errorf("list %s activities: %w", c.cfg.Application, err)
		}
		return nil, nil
	}

	var out []domain.Activity
	for _, item := range items {
		if item.Actor == nil || item.Id == nil {
			continue
		}
		employeeID, ok := aliases[strings.ToLower(item.Actor.Email)]
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, item.Id.Time)
		if err != nil {
			c.logger.Warn("skipping event with bad time", zap.String("time", item.Id.Time), zap.Error(err))
			continue
		}
		ts = ts.UTC()
		if !window.Contains(ts) {
			continue
		}
		for _, ev := range item.Events {
			out = append(out, c.activity(item, ev, employeeID, ts))
		}
	}
	return out, nil
}

func (c *Connector) activity(item *admin.Activity, ev *admin.ActivityEvents, employeeID int64, ts time.Time) domain.Activity {
	params := parameters(ev.Parameters)

	targetID := strconv.FormatInt(item.Id.UniqueQualifier, 10)
	for _, name := range targetIDParams {
		if v, ok := params[name].(string); ok && v != "" {
			targetID = v
			break
		}
	}
	targetName := c.cfg.Application
	for _, name := range targetNameParams {
		if v, ok := params[name].(string); ok && v != "" {
			targetName = v
			break
		}
	}

	var duration time.Duration
	if secs, ok := params["duration_seconds"].(int64); ok {
		duration = time.Duration(secs) * time.Second
	}

	return domain.Activity{
		EmployeeID: employeeID,
		SourceID:   c.source.ID,
		Action:     strings.ToUpper(c.cfg.Application + "_" + ev.Name),
		Time:       ts,
		TargetID:   targetID,
		TargetName: targetName,
		Duration:   duration,
		Meta:       params,
	}
}

func parameters(in []*admin.ActivityEventsParameters) map[string]any {
	out := make(map[string]any, len(in))
	for _, p := range in {
		switch {
		case p.Value != "":
			out[p.Name] = p.Value
		case len(p.MultiValue) > 0:
			out[p.Name] = p.MultiValue
		case p.IntValue != 0:
			out[p.Name] = p.IntValue
		default:
			out[p.Name] = p.BoolValue
		}
	}
	return out
}

// malformed marks JSON decoding failures of the generated client.
func malformed(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", connector.ErrMalformedResponse, err)
	}
	return err
}

func emailDomain(email string) string {
	_, host, _ := strings.Cut(strings.ToLower(email), "@")
	return host
}
