package youtrack

import "encoding/json"

type user struct {
	ID     string `json:"id"`
	Login  string `json:"login"`
	Email  string `json:"email"`
	Banned bool   `json:"banned"`
}

type activityItem struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Author    user   `json:"author"`
	Category  struct {
		ID string `json:"id"`
	} `json:"category"`
	Target target `json:"target"`
}

// target is either an issue or an entity (comment, work item) that links back to one.
type target struct {
	IDReadable string `json:"idReadable"`
	Summary    string `json:"summary"`
	Issue      *struct {
		IDReadable string `json:"idReadable"`
		Summary    string `json:"summary"`
	} `json:"issue"`
}

func (t target) issue() (id, summary string) {
	if t.IDReadable != "" {
		return t.IDReadable, t.Summary
	}
	if t.Issue != nil {
		return t.Issue.IDReadable, t.Issue.Summary
	}
	return "", ""
}

type issue struct {
	ID           string        `json:"id"`
	IDReadable   string        `json:"idReadable"`
	Summary      string        `json:"summary"`
	Resolved     *int64        `json:"resolved"`
	CustomFields []customField `json:"customFields"`
}

type customField struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (is issue) assignee() *user {
	for _, f := range is.CustomFields {
		if f.Name != "Assignee" || len(f.Value) == 0 {
			continue
		}
		var u user
		if err := json.Unmarshal(f.Value, &u); err != nil || u.Login == "" {
			return nil
		}
		return &u
	}
	return nil
}
