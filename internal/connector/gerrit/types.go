package gerrit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type account struct {
	ID       int64  `json:"_account_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type change struct {
	ID          string     `json:"id"`
	Number      int        `json:"_number"`
	Project     string     `json:"project"`
	Branch      string     `json:"branch"`
	Subject     string     `json:"subject"`
	Status      string     `json:"status"`
	Owner       account    `json:"owner"`
	Created     timestamp  `json:"created"`
	Updated     timestamp  `json:"updated"`
	Submitted   *timestamp `json:"submitted"`
	Messages    []message  `json:"messages"`
	MoreChanges bool       `json:"_more_changes"`
}

type message struct {
	ID             string    `json:"id"`
	Author         account   `json:"author"`
	Date           timestamp `json:"date"`
	Message        string    `json:"message"`
	RevisionNumber int       `json:"_revision_number"`
}

// timestamp is Gerrit's UTC "2006-01-02 15:04:05.000000000" format; the fraction is optional.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.ParseInLocation(timeLayout, raw, time.UTC)
	if err != nil {
		return fmt.Errorf("parse gerrit timestamp %q: %w", raw, err)
	}
	t.Time = parsed
	return nil
}
