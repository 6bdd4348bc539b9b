package domain

import "time"

// Activity is one normalized work event attributed to an employee.
type Activity struct {
	ID         int64
	EmployeeID int64
	SourceID   int64
	Action     string
	Time       time.Time
	TargetID   string
	TargetLink string
	TargetName string
	Duration   time.Duration
	Meta       map[string]any
}

// Task types reported by connectors.
const (
	TaskMergedCommit  = "MERGED_COMMIT"
	TaskResolvedIssue = "RESOLVED_ISSUE"
	TaskComment       = "COMMENT"
)

// DoneTask is a unit of completed work (merged change, resolved issue, review comment).
type DoneTask struct {
	ID         int64
	EmployeeID int64
	SourceID   int64
	Time       time.Time
	TaskID     string
	TaskType   string
	TaskName   string
	TaskLink   string
}

// Employee is the roster entry identity resolution works from.
type Employee struct {
	ID    int64
	Email string
	// Accounts holds external-account hints keyed by source type, e.g. "github": "octocat".
	Accounts map[string]string
}

// AccountHint returns the hint for the given source type, if any.
func (e Employee) AccountHint(t SourceType) string {
	if e.Accounts == nil {
		return ""
	}
	return e.Accounts[string(t)]
}

// Alias maps one employee to their identity in one source.
type Alias struct {
	EmployeeID int64
	SourceID   int64
	Alias      string
}

// Window is the half-open interval [Start, End) requested from a connector.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// Empty reports whether the window has no extent.
func (w Window) Empty() bool {
	return !w.End.After(w.Start)
}
