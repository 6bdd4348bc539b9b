// Package pararam collects chat posts through a pararam.io bot. The bot API is
// queried per user, so users are processed in small chunks with a pause between them.
package pararam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/connector"
	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

const (
	defaultURL = "https://bot.pararam.io"
	webURL     = "https://app.pararam.io"

	chunkSize  = 20
	chunkPause = 2 * time.Second

	actionPost  = "POST"
	actionReply = "REPLY"
)

// Config is the source configuration blob of a pararam source.
type Config struct {
	Key string `json:"key" validate:"required"`
	URL string `json:"url" validate:"omitempty,url"`
}

// Connector calls the bot API with the bot key.
type Connector struct {
	connector.NoDoneTasks

	source  domain.Source
	client  *connector.HTTPClient
	logger  *zap.Logger
	chunker connector.Chunker
}

// New builds a pararam connector.
func New(cfg Config, source domain.Source, deps connector.Deps) (connector.Connector, error) {
	base := cfg.URL
	if base == "" {
		base = defaultURL
	}
	return &Connector{
		source: source,
		client: connector.NewHTTPClient(base, deps, apiKey(cfg.Key)),
		logger: deps.Logger,
		chunker: connector.Chunker{
			Size:  chunkSize,
			Pause: chunkPause,
			Clock: deps.Clock,
		},
	}, nil
}

func apiKey(key string) connector.Authorizer {
	return func(req *http.Request) error {
		req.Header.Set("X-APIKEY", key)
		return nil
	}
}

// ResolveIdentities looks every employee up by e-mail. The alias is the numeric user id.
func (c *Connector) ResolveIdentities(ctx context.Context, employees []domain.Employee) (map[int64]string, error) {
	type match struct {
		employeeID int64
		alias      string
	}
	matches, failed, err := connector.RunChunked(ctx, c.chunker, employees, func(ctx context.Context, e domain.Employee) (match, error) {
		if e.Email == "" {
			return match{}, nil
		}
		var resp userResponse
		err := c.client.PostJSON(ctx, "/user/find", map[string]string{"email": strings.ToLower(e.Email)}, &resp)
		if err := connector.Tolerate(c.logger, "find_user", err); err != nil {
			var statusErr *connector.StatusError
			if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
				return match{}, nil
			}
			return match{}, err
		}
		if resp.User == nil || resp.User.ID == 0 {
			return match{}, nil
		}
		return match{employeeID: e.ID, alias: strconv.FormatInt(resp.User.ID, 10)}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkChunks("resolve_identities", failed, len(employees)); err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(matches))
	for _, m := range matches {
		if m.alias != "" {
			out[m.employeeID] = m.alias
		}
	}
	return out, nil
}

// FetchActivities asks the bot for each mapped user's posts inside window.
func (c *Connector) FetchActivities(ctx context.Context, window domain.Window, aliases map[string]int64) ([]domain.Activity, error) {
	users := make([]string, 0, len(aliases))
	for alias := range aliases {
		users = append(users, alias)
	}
	sort.Strings(users)

	perUser, failed, err := connector.RunChunked(ctx, c.chunker, users, func(ctx context.Context, alias string) ([]domain.Activity, error) {
		return c.userPosts(ctx, window, alias, aliases[alias])
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkChunks("list_posts", failed, len(users)); err != nil {
		return nil, err
	}

	var out []domain.Activity
	for _, posts := range perUser {
		out = append(out, posts...)
	}
	return out, nil
}

func (c *Connector) userPosts(ctx context.Context, window domain.Window, alias string, employeeID int64) ([]domain.Activity, error) {
	userID, err := strconv.ParseInt(alias, 10, 64)
	if err != nil {
		c.logger.Warn("skipping non-numeric alias", zap.String("alias", alias))
		return nil, nil
	}

	var resp postsResponse
	err = c.client.PostJSON(ctx, "/user/posts", postsRequest{
		UserID:   userID,
		DateFrom: window.Start.UTC().Format(time.RFC3339),
		DateTo:   window.End.UTC().Format(time.RFC3339),
	}, &resp)
	if err := connector.Tolerate(c.logger, "list_posts", err); err != nil {
		return nil, fmt.Errorf("posts of user %d: %w", userID, err)
	}

	out := make([]domain.Activity, 0, len(resp.Posts))
	for _, p := range resp.Posts {
		if !window.Contains(p.TimeCreated) {
			continue
		}
		act := actionPost
		meta := map[string]any{"chat_id": p.ChatID, "post_no": p.PostNo}
		if p.ReplyNo != nil {
			act = actionReply
			meta["reply_no"] = *p.ReplyNo
		}
		out = append(out, domain.Activity{
			EmployeeID: employeeID,
			SourceID:   c.source.ID,
			Action:     act,
			Time:       p.TimeCreated.UTC(),
			TargetID:   fmt.Sprintf("%d/%d", p.ChatID, p.PostNo),
			TargetLink: fmt.Sprintf("%s/#/chats/%d/%d", webURL, p.ChatID, p.PostNo),
			TargetName: p.ChatTitle,
			Meta:       meta,
		})
	}
	return out, nil
}

// checkChunks logs failed chunks. A call fails only when every chunk did, so a
// total outage keeps the watermark where it is.
func (c *Connector) checkChunks(op string, failed []error, items int) error {
	for _, err := range failed {
		c.logger.Warn("chunk failed", zap.String("op", op), zap.Error(err))
	}
	chunks := (items + c.chunker.Size - 1) / c.chunker.Size
	if chunks > 0 && len(failed) == chunks {
		return fmt.Errorf("all %d chunks failed: %w", chunks, errors.Join(failed...))
	}
	return nil
}
