// Package github collects organisation events and merged pull requests from GitHub
// or GitHub Enterprise.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	gh "github.com/google/go-github/v61/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

const (
	pageSize    = 100
	searchTime  = "2006-01-02T15:04:05Z"
	defaultHost = "https://github.com"

	profileCacheSize = 8192
	profileCacheTTL  = 24 * time.Hour
)

// profileEmails holds the public e-mail (possibly empty) of every member profile
// fetched, keyed by API base and login. It outlives the per-pass connectors.
var profileEmails = expirable.NewLRU[string, string](profileCacheSize, nil, profileCacheTTL)

// Config is the source configuration blob of a GitHub source.
type Config struct {
	Token string `json:"token" validate:"required"`
	Org   string `json:"org" validate:"required"`
	// APIURL points at a GitHub Enterprise server; empty means github.com.
	APIURL string `json:"api_url" validate:"omitempty,url"`
}

// Connector wraps a token-authenticated go-github client.
type Connector struct {
	cfg      Config
	source   domain.Source
	client   *gh.Client
	logger   *zap.Logger
	pageSize int
	profiles *expirable.LRU[string, string]
}

// New builds a GitHub connector.
func New(cfg Config, source domain.Source, deps connector.Deps) (connector.Connector, error) {
	client := gh.NewClient(deps.HTTPClient).WithAuthToken(cfg.Token)
	if cfg.APIURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.APIURL, cfg.APIURL)
		if err != nil {
			return nil, &connector.ConfigError{Type: string(domain.SourceGitHub), Key: "api_url", Reason: err.Error(), Err: err}
		}
	}
	return &Connector{cfg: cfg, source: source, client: client, logger: deps.Logger, pageSize: pageSize, profiles: profileEmails}, nil
}

// ResolveIdentities maps employees onto organisation members, first by the
// account hint, then by the member's public e-mail. The alias is the login.
func (c *Connector) ResolveIdentities(ctx context.Context, employees []domain.Employee) (map[int64]string, error) {
	pager := connector.NewCursorPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[*gh.User], error) {
		opts := &gh.ListMembersOptions{ListOptions: c.listOptions(req)}
		members, resp, err := c.client.Organizations.ListMembers(ctx, c.cfg.Org, opts)
		if err != nil {
			return connector.Page[*gh.User]{}, err
		}
		return connector.Page[*gh.User]{Items: members, NextCursor: nextCursor(resp)}, nil
	})
	members, err := pager.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", c.cfg.Org, err)
	}

	logins := make(map[string]string, len(members))
	for _, m := range members {
		logins[strings.ToLower(m.GetLogin())] = m.GetLogin()
	}

	out := make(map[int64]string)
	byEmail := make(map[string]int64)
	for _, e := range employees {
		if login, ok := logins[strings.ToLower(e.AccountHint(domain.SourceGitHub))]; ok {
			out[e.ID] = login
			continue
		}
		if e.Email != "" {
			byEmail[strings.ToLower(e.Email)] = e.ID
		}
	}
	if len(byEmail) == 0 {
		return out, nil
	}

	claimed := make(map[string]bool, len(out))
	for _, login := range out {
		claimed[login] = true
	}
	for _, m := range members {
		if claimed[m.GetLogin()] {
			continue
		}
		email, err := c.profileEmail(ctx, m.GetLogin())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("skipping member without profile", zap.String("login", m.GetLogin()), zap.Error(err))
			continue
		}
		if id, ok := byEmail[strings.ToLower(email)]; ok && email != "" {
			if _, taken := out[id]; !taken {
				out[id] = m.GetLogin()
			}
		}
	}
	return out, nil
}

// profileEmail returns the member's public e-mail, fetching the profile only on a
// cache miss. Lookup failures are not cached.
func (c *Connector) profileEmail(ctx context.Context, login string) (string, error) {
	key := c.client.BaseURL.String() + strings.ToLower(login)
	if email, ok := c.profiles.Get(key); ok {
		return email, nil
	}
	user, _, err := c.client.Users.Get(ctx, login)
	if err != nil {
		return "", err
	}
	c.profiles.Add(key, user.GetEmail())
	return user.GetEmail(), nil
}

// FetchActivities reports organisation events by mapped actors. The events feed
// is newest first, so paging stops once a page reaches past the window start.
func (c *Connector) FetchActivities(ctx context.Context, window domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
	pager := connector.NewCursorPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[*gh.Event], error) {
		opts := c.listOptions(req)
		events, resp, err := c.client.Activity.ListEventsForOrganization(ctx, c.cfg.Org, &opts)
		if err != nil {
			return connector.Page[*gh.Event]{}, err
		}
		last := len(events) > 0 && events[len(events)-1].GetCreatedAt().Time.Before(window.Start)
		return connector.Page[*gh.Event]{Items: events, NextCursor: nextCursor(resp), Last: last}, nil
	})
	events, err := pager.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events of %s: %w", c.cfg.Org, err)
	}

	var out []domain.Activity
	for _, ev := range events {
		ts := ev.GetCreatedAt().Time.UTC()
		if !window.Contains(ts) {
			continue
		}
		employeeID, ok := aliases[ev.GetActor().GetLogin()]
		if !ok {
			continue
		}
		repo := ev.GetRepo().GetName()
		out = append(out, domain.Activity{
			EmployeeID: employeeID,
			SourceID:   c.source.ID,
			Action:     eventAction(ev.GetType()),
			Time:       ts,
			TargetID:   repo,
			TargetLink: c.webURL(repo),
			TargetName: repo,
			Meta:       map[string]any{"event_id": ev.GetID(), "event_type": ev.GetType()},
		})
	}
	return out, nil
}

// FetchDoneTasks reports pull requests merged inside window for their author.
func (c *Connector) FetchDoneTasks(ctx context.Context, window domain.Window, aliases map[string]int64) (map[int64][]domain.DoneTask, error) {
	query := fmt.Sprintf("org:%s is:pr is:merged merged:%s..%s", c.cfg.Org,
		window.Start.UTC().Format(searchTime), window.End.UTC().Format(searchTime))
	pager := connector.NewCursorPager(c.pageSize, func(ctx context.Context, req connector.PageRequest) (connector.Page[*gh.Issue], error) {
		result, resp, err := c.client.Search.Issues(ctx, query, &gh.SearchOptions{
			Sort:        "updated",
			Order:       "asc",
			ListOptions: c.listOptions(req),
		})
		if err != nil {
			return connector.Page[*gh.Issue]{}, err
		}
		return connector.Page[*gh.Issue]{Items: result.Issues, NextCursor: nextCursor(resp)}, nil
	})
	prs, err := pager.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("search merged pull requests: %w", err)
	}

	out := make(map[int64][]domain.DoneTask)
	for _, pr := range prs {
		employeeID, ok := aliases[pr.GetUser().GetLogin()]
		if !ok {
			continue
		}
		merged := pr.GetClosedAt().Time.UTC()
		if !window.Contains(merged) {
			continue
		}
		out[employeeID] = append(out[employeeID], domain.DoneTask{
			EmployeeID: employeeID,
			SourceID:   c.source.ID,
			Time:       merged,
			TaskID:     pullRef(pr),
			TaskType:   domain.TaskMergedCommit,
			TaskName:   pr.GetTitle(),
			TaskLink:   pr.GetHTMLURL(),
		})
	}
	return out, nil
}

func (c *Connector) listOptions(req connector.PageRequest) gh.ListOptions {
	opts := gh.ListOptions{PerPage: req.Limit, Page: 1}
	if req.Cursor != "" {
		if page, err := strconv.Atoi(req.Cursor); err == nil {
			opts.Page = page
		}
	}
	return opts
}

func (c *Connector) webURL(repo string) string {
	base := defaultHost
	if c.cfg.APIURL != "" {
		base = strings.TrimSuffix(strings.TrimRight(c.cfg.APIURL, "/"), "/api/v3")
	}
	return base + "/" + repo
}

func nextCursor(resp *gh.Response) string {
	if resp == nil || resp.NextPage == 0 {
		return ""
	}
	return strconv.Itoa(resp.NextPage)
}

// eventAction turns "PullRequestReviewEvent" into "PULL_REQUEST_REVIEW".
func eventAction(eventType string) string {
	name := strings.TrimSuffix(eventType, "Event")
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// pullRef renders "owner/repo#123" from the pull request's web URL.
func pullRef(pr *gh.Issue) string {
	u, err := url.Parse(pr.GetHTMLURL())
	if err != nil {
		return strconv.Itoa(pr.GetNumber())
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return strconv.Itoa(pr.GetNumber())
	}
	return fmt.Sprintf("%s/%s#%d", parts[0], parts[1], pr.GetNumber())
}
