// Package youtrack collects issue activity and resolved issues from YouTrack.
package youtrack

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

const pageSize = 200

const (
	userFields     = "id,login,email,banned"
	activityFields = "id,timestamp,author(login,email),category(id),target(id,idReadable,summary,issue(idReadable,summary))"
	issueFields    = "id,idReadable,summary,resolved,customFields(name,value(login,email))"

	queryTimeLayout = "2006-01-02T15:04:05"
)

var categories = map[string]string{
	"IssueCreatedCategory":    "ISSUE_CREATED",
	"CommentsCategory":        "ISSUE_COMMENTED",
	"CustomFieldCategory":     "ISSUE_UPDATED",
	"SummaryCategory":         "ISSUE_UPDATED",
	"DescriptionCategory":     "ISSUE_UPDATED",
	"IssueResolvedCategory":   "ISSUE_RESOLVED",
	"AttachmentsCategory":     "ISSUE_ATTACHMENT",
	"LinksCategory":           "ISSUE_LINKED",
	"WorkItemCategory":        "ISSUE_WORK_LOGGED",
	"VcsChangeCategory":       "ISSUE_VCS_CHANGE",
	"IssueVisibilityCategory": "ISSUE_UPDATED",
}

// Config is the source configuration blob of a YouTrack source.
type Config struct {
	URL              string `json:"url" validate:"required,url"`
	Token            string `json:"token" validate:"required"`
	ServiceUserEmail string `json:"service_user_email" validate:"required,email"`
}

// Connector talks to the YouTrack REST API with a permanent token.
type Connector struct {
	cfg      Config
	source   domain.Source
	client   *connector.HTTPClient
	logger   *zap.Logger
	pageSize int
}

// New builds a YouTrack connector.
func New(cfg Config, source domain.Source, deps connector.Deps) (connector.Connector, error) {
	return &Connector{
		cfg:      cfg,
		source:   source,
		client:   connector.NewHTTPClient(cfg.URL, deps, connector.BearerToken(cfg.Token)),
		logger:   deps.Logger,
		pageSize: pageSize,
	}, nil
}

// ResolveIdentities matches the user directory by e-mail. The service user the
// token belongs to is never mapped. The alias is the login.
func (c *Connector) ResolveIdentities(ctx context.Context, employees []domain.Employee) (map[int64]string, error) {
	pager := connector.NewOffsetPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[user], error) {
		var page []user
		err := c.client.GetJSON(ctx, "/api/users", c.pageParams(req, url.Values{"fields": {userFields}}), &page)
		return connector.Page[user]{Items: page}, err
	})
	users, err := pager.Drain(ctx)
	if err != nil {
		if err := connector.Tolerate(c.logger, "list_users", err); err != nil {
			return nil, fmt.Errorf("list youtrack users: %w", err)
		}
		return map[int64]string{}, nil
	}

	byEmail := make(map[string]string, len(users))
	for _, u := range users {
		if u.Banned || u.Email == "" || c.isServiceUser(u.Email) {
			continue
		}
		byEmail[strings.ToLower(u.Email)] = u.Login
	}

	out := make(map[int64]string)
	for _, e := range employees {
		if c.isServiceUser(e.Email) {
			continue
		}
		if login, ok := byEmail[strings.ToLower(e.Email)]; ok {
			out[e.ID] = login
		}
	}
	return out, nil
}

// FetchActivities walks the activity log of every issue touched inside window.
func (c *Connector) FetchActivities(ctx context.Context, window domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
	base := url.Values{
		"fields":     {activityFields},
		"categories": {strings.Join(categoryIDs(), ",")},
		"start":      {strconv.FormatInt(window.Start.UnixMilli(), 10)},
		"end":        {strconv.FormatInt(window.End.UnixMilli()-1, 10)},
	}
	pager := connector.NewOffsetPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[activityItem], error) {
		var page []activityItem
		err := c.client.GetJSON(ctx, "/api/activities", c.pageParams(req, base), &page)
		return connector.Page[activityItem]{Items: page}, err
	})
	items, err := pager.Drain(ctx)
	if err != nil {
		if err := connector.Tolerate(c.logger, "list_activities", err); err != nil {
			return nil, fmt.Errorf("list youtrack activities: %w", err)
		}
		return nil, nil
	}

	var out []domain.Activity
	for _, item := range items {
		if c.isServiceUser(item.Author.Email) {
			continue
		}
		employeeID, ok := aliases[item.Author.Login]
		if !ok {
			continue
		}
		ts := time.UnixMilli(item.Timestamp).UTC()
		if !window.Contains(ts) {
			continue
		}
		issueID, summary := item.Target.issue()
		if issueID == "" {
			continue
		}
		out = append(out, domain.Activity{
			EmployeeID: employeeID,
			SourceID:   c.source.ID,
			Action:     action(item.Category.ID),
			Time:       ts,
			TargetID:   issueID,
			TargetLink: c.issueLink(issueID),
			TargetName: summary,
			Meta:       map[string]any{"activity_id": item.ID, "category": item.Category.ID},
		})
	}
	return out, nil
}

// FetchDoneTasks reports issues resolved inside window for their assignee.
func (c *Connector) FetchDoneTasks(ctx context.Context, window domain.Window, aliases map[string]int64) (map[int64][]domain.DoneTask, error) {
	query := fmt.Sprintf("resolved date: %s .. %s",
		window.Start.UTC().Format(queryTimeLayout), window.End.UTC().Format(queryTimeLayout))
	base := url.Values{"fields": {issueFields}, "query": {query}}
	pager := connector.NewOffsetPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[issue], error) {
		var page []issue
		err := c.client.GetJSON(ctx, "/api/issues", c.pageParams(req, base), &page)
		return connector.Page[issue]{Items: page}, err
	})
	issues, err := pager.Drain(ctx)
	if err != nil {
		if err := connector.Tolerate(c.logger, "list_resolved_issues", err); err != nil {
			return nil, fmt.Errorf("list youtrack issues: %w", err)
		}
		return map[int64][]domain.DoneTask{}, nil
	}

	out := make(map[int64][]domain.DoneTask)
	for _, is := range issues {
		if is.Resolved == nil {
			continue
		}
		resolved := time.UnixMilli(*is.Resolved).UTC()
		if !window.Contains(resolved) {
			continue
		}
		assignee := is.assignee()
		if assignee == nil || c.isServiceUser(assignee.Email) {
			continue
		}
		employeeID, ok := aliases[assignee.Login]
		if !ok {
			continue
		}
		out[employeeID] = append(out[employeeID], domain.DoneTask{
			EmployeeID: employeeID,
			SourceID:   c.source.ID,
			Time:       resolved,
			TaskID:     is.IDReadable,
			TaskType:   domain.TaskResolvedIssue,
			TaskName:   is.Summary,
			TaskLink:   c.issueLink(is.IDReadable),
		})
	}
	return out, nil
}

func (c *Connector) pageParams(req connector.PageRequest, base url.Values) url.Values {
	params := url.Values{}
	for k, v := range base {
		params[k] = v
	}
	params.Set("$skip", strconv.Itoa(req.Offset))
	params.Set("$top", strconv.Itoa(req.Limit))
	return params
}

func (c *Connector) isServiceUser(email string) bool {
	return email != "" && strings.EqualFold(strings.TrimSpace(email), c.cfg.ServiceUserEmail)
}

func (c *Connector) issueLink(id string) string {
	return strings.TrimRight(c.cfg.URL, "/") + "/issue/" + id
}

func action(category string) string {
	if a, ok := categories[category]; ok {
		return a
	}
	return "ISSUE_" + strings.ToUpper(strings.TrimSuffix(category, "Category"))
}

func categoryIDs() []string {
	ids := make([]string, 0, len(categories))
	for id := range categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
