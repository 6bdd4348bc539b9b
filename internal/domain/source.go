// Package domain defines the canonical records and persistence contracts of the collector.
package domain

import (
	"encoding/json"
	"time"
)

// SourceType selects the connector variant for a source.
type SourceType string

// Known source types.
const (
	SourceGerrit   SourceType = "gerrit"
	SourceYouTrack SourceType = "youtrack"
	SourceGitHub   SourceType = "github"
	SourceGoogle   SourceType = "google"
	SourcePararam  SourceType = "pararam"
)

// Source is a configured external system together with its two sync watermarks.
type Source struct {
	ID          int64
	Type        SourceType
	Name        string
	Description string
	Config      json.RawMessage
	Active      bool
	Private     bool
	// ActivityCollected is the exclusive upper bound already synchronized for activities.
	ActivityCollected time.Time
	// DoneTasksCollected is the same bound for the done-task stream.
	DoneTasksCollected time.Time
}

// Stream identifies which of the two record streams a sync pass works on.
type Stream string

// Record streams.
const (
	StreamActivities Stream = "activities"
	StreamDoneTasks  Stream = "done_tasks"
)

// Watermark returns the source's watermark for the stream.
func (s Source) Watermark(stream Stream) time.Time {
	if stream == StreamDoneTasks {
		return s.DoneTasksCollected
	}
	return s.ActivityCollected
}
