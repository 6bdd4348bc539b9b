// Package events defines the payloads published for newly collected records.
package events

import "time"

// Event types written to the outbox.
const (
	TypeActivityCollected = "activity.collected"
	TypeDoneTaskCollected = "done_task.collected"
)

// Route tells the outbox dispatcher where an event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

// Routes maps each event type to its Kafka topic and schema registry subject.
var Routes = map[string]Route{
	TypeActivityCollected: {Topic: "work_activities", SchemaSubject: "work_activities-value"},
	TypeDoneTaskCollected: {Topic: "work_done_tasks", SchemaSubject: "work_done_tasks-value"},
}

// ActivityCollected is emitted once per activity row inserted by a sync pass.
type ActivityCollected struct {
	ActivityID      int64          `json:"activity_id"`
	EmployeeID      int64          `json:"employee_id"`
	SourceID        int64          `json:"source_id"`
	SourceType      string         `json:"source_type"`
	Action          string         `json:"action"`
	Time            time.Time      `json:"time"`
	TargetID        string         `json:"target_id"`
	TargetLink      string         `json:"target_link,omitempty"`
	TargetName      string         `json:"target_name,omitempty"`
	DurationSeconds int64          `json:"duration_seconds"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// DoneTaskCollected is emitted once per done-task row inserted by a sync pass.
type DoneTaskCollected struct {
	DoneTaskID int64     `json:"done_task_id"`
	EmployeeID int64     `json:"employee_id"`
	SourceID   int64     `json:"source_id"`
	SourceType string    `json:"source_type"`
	Time       time.Time `json:"time"`
	TaskID     string    `json:"task_id"`
	TaskType   string    `json:"task_type"`
	TaskName   string    `json:"task_name,omitempty"`
	TaskLink   string    `json:"task_link,omitempty"`
}
