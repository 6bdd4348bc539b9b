// Package gerrit collects review activity from a Gerrit code-review server.
package gerrit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

const (
	pageSize = 100

	actionChangeCreated = "CHANGE_CREATED"
	actionChangeMessage = "CHANGE_MESSAGE"

	timeLayout = "2006-01-02 15:04:05"
)

// Config is the source configuration blob of a Gerrit source.
type Config struct {
	URL  string `json:"url" validate:"required,url"`
	User string `json:"user" validate:"required"`
	Pass string `json:"pass" validate:"required"`
}

// Connector talks to the authenticated (/a/) REST API.
type Connector struct {
	cfg      Config
	source   domain.Source
	client   *connector.HTTPClient
	logger   *zap.Logger
	pageSize int
}

// New builds a Gerrit connector.
func New(cfg Config, source domain.Source, deps connector.Deps) (connector.Connector, error) {
	return &Connector{
		cfg:      cfg,
		source:   source,
		client:   connector.NewHTTPClient(cfg.URL, deps, connector.BasicAuth(cfg.User, cfg.Pass)),
		logger:   deps.Logger,
		pageSize: pageSize,
	}, nil
}

// ResolveIdentities looks every employee up by their account hint or e-mail.
// The alias is the Gerrit username.
func (c *Connector) ResolveIdentities(ctx context.Context, employees []domain.Employee) (map[int64]string, error) {
	out := make(map[int64]string, len(employees))
	for _, e := range employees {
		query := ""
		switch {
		case e.AccountHint(domain.SourceGerrit) != "":
			query = "username:" + e.AccountHint(domain.SourceGerrit)
		case e.Email != "":
			query = "email:" + e.Email
		default:
			continue
		}

		var accounts []account
		err := c.client.GetJSON(ctx, "/a/accounts/", url.Values{"q": {query}, "o": {"DETAILS"}}, &accounts)
		if err := connector.Tolerate(c.logger, "resolve_identities", err); err != nil {
			return nil, fmt.Errorf("query gerrit account %q: %w", query, err)
		}
		if len(accounts) == 1 && accounts[0].Username != "" {
			out[e.ID] = accounts[0].Username
		}
	}
	return out, nil
}

// FetchActivities reports change creation and change messages inside window.
func (c *Connector) FetchActivities(ctx context.Context, window domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
	changes, err := c.changes(ctx, window)
	if err != nil {
		return nil, err
	}

	var out []domain.Activity
	for _, ch := range changes {
		if employeeID, ok := aliases[ch.Owner.Username]; ok && window.Contains(ch.Created.Time) {
			out = append(out, c.activity(ch, employeeID, actionChangeCreated, ch.Created.Time, nil))
		}
		for _, msg := range ch.Messages {
			employeeID, ok := aliases[msg.Author.Username]
			if !ok || !window.Contains(msg.Date.Time) {
				continue
			}
			out = append(out, c.activity(ch, employeeID, actionChangeMessage, msg.Date.Time, map[string]any{
				"message_id": msg.ID,
				"revision":   msg.RevisionNumber,
			}))
		}
	}
	return out, nil
}

// FetchDoneTasks reports merged changes for their owner and review messages
// left on somebody else's change.
func (c *Connector) FetchDoneTasks(ctx context.Context, window domain.Window, aliases map[string]int64) (map[int64][]domain.DoneTask, error) {
	changes, err := c.changes(ctx, window)
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]domain.DoneTask)
	for _, ch := range changes {
		link := c.changeLink(ch)
		if ch.Status == "MERGED" && ch.Submitted != nil && window.Contains(ch.Submitted.Time) {
			if employeeID, ok := aliases[ch.Owner.Username]; ok {
				out[employeeID] = append(out[employeeID], domain.DoneTask{
					EmployeeID: employeeID,
					SourceID:   c.source.ID,
					Time:       ch.Submitted.Time,
					TaskID:     strconv.Itoa(ch.Number),
					TaskType:   domain.TaskMergedCommit,
					TaskName:   ch.Subject,
					TaskLink:   link,
				})
			}
		}
		for _, msg := range ch.Messages {
			if msg.Author.Username == ch.Owner.Username || !window.Contains(msg.Date.Time) {
				continue
			}
			employeeID, ok := aliases[msg.Author.Username]
			if !ok {
				continue
			}
			out[employeeID] = append(out[employeeID], domain.DoneTask{
				EmployeeID: employeeID,
				SourceID:   c.source.ID,
				Time:       msg.Date.Time,
				TaskID:     msg.ID,
				TaskType:   domain.TaskComment,
				TaskName:   ch.Subject,
				TaskLink:   link,
			})
		}
	}
	return out, nil
}

// changes lists every change updated since the window start, messages included.
// There is no upper bound: a change touched again after window.End still carries
// the messages and submission that fall inside the window, and callers filter
// those by window.Contains.
func (c *Connector) changes(ctx context.Context, window domain.Window) ([]change, error) {
	query := fmt.Sprintf(`after:"%s"`, window.Start.UTC().Format(timeLayout))
	pager := connector.NewOffsetPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[change], error) {
		params := url.Values{
			"q": {query},
			"o": {"MESSAGES", "DETAILED_ACCOUNTS"},
			"n": {strconv.Itoa(req.Limit)},
			"S": {strconv.Itoa(req.Offset)},
		}
		var page []change
		if err := c.client.GetJSON(ctx, "/a/changes/", params, &page); err != nil {
			return connector.Page[change]{}, err
		}
		more := len(page) > 0 && page[len(page)-1].MoreChanges
		return connector.Page[change]{Items: page, Last: !more}, nil
	})

	changes, err := pager.Drain(ctx)
	if err != nil {
		if err := connector.Tolerate(c.logger, "list_changes", err); err != nil {
			return nil, fmt.Errorf("list gerrit changes: %w", err)
		}
		return nil, nil
	}
	return changes, nil
}

func (c *Connector) activity(ch change, employeeID int64, action string, ts time.Time, meta map[string]any) domain.Activity {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["project"] = ch.Project
	meta["branch"] = ch.Branch
	return domain.Activity{
		EmployeeID: employeeID,
		SourceID:   c.source.ID,
		Action:     action,
		Time:       ts,
		TargetID:   strconv.Itoa(ch.Number),
		TargetLink: c.changeLink(ch),
		TargetName: ch.Subject,
		Meta:       meta,
	}
}

func (c *Connector) changeLink(ch change) string {
	return fmt.Sprintf("%s/c/%s/+/%d", strings.TrimRight(c.cfg.URL, "/"), ch.Project, ch.Number)
}
