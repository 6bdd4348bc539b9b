package collector

import (
	"fmt"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

// Operations a FetchError can originate from.
const (
	OpLoadAliases = "load_aliases"
	OpConnect     = "build_connector"
	OpFetch       = "fetch"
	OpCommit      = "commit"
)

// FetchError reports a source skipped for this pass; its watermark is unchanged.
type FetchError struct {
	SourceID   int64
	SourceName string
	Stream     domain.Stream
	Op         string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s for source %d (%s): %v", e.Stream, e.Op, e.SourceID, e.SourceName, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
