package outbox

import "github.com/Star-Solution-FZCO/workbench-sub000/internal/events"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeActivityCollected: {Schema: activityCollectedSchema},
	events.TypeDoneTaskCollected: {Schema: doneTaskCollectedSchema},
}

const activityCollectedSchema = `{
  "type": "object",
  "title": "ActivityCollected",
  "properties": {
    "activity_id": {"type": "integer"},
    "employee_id": {"type": "integer"},
    "source_id": {"type": "integer"},
    "source_type": {"type": "string"},
    "action": {"type": "string"},
    "time": {"type": "string", "format": "date-time"},
    "target_id": {"type": "string"},
    "target_link": {"type": "string"},
    "target_name": {"type": "string"},
    "duration_seconds": {"type": "integer", "minimum": 0},
    "meta": {"type": "object"}
  },
  "required": ["activity_id", "employee_id", "source_id", "source_type", "action", "time", "target_id", "duration_seconds"],
  "additionalProperties": false
}`

const doneTaskCollectedSchema = `{
  "type": "object",
  "title": "DoneTaskCollected",
  "properties": {
    "done_task_id": {"type": "integer"},
    "employee_id": {"type": "integer"},
    "source_id": {"type": "integer"},
    "source_type": {"type": "string"},
    "time": {"type": "string", "format": "date-time"},
    "task_id": {"type": "string"},
    "task_type": {"type": "string", "enum": ["MERGED_COMMIT", "RESOLVED_ISSUE", "COMMENT"]},
    "task_name": {"type": "string"},
    "task_link": {"type": "string"}
  },
  "required": ["done_task_id", "employee_id", "source_id", "source_type", "time", "task_id", "task_type"],
  "additionalProperties": false
}`
