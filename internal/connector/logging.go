package connector

import (
	"go.uber.org/zap"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

// SourceFields identifies a source in log entries.
func SourceFields(source domain.Source) []zap.Field {
	return []zap.Field{
		zap.Int64("source_id", source.ID),
		zap.String("source_name", source.Name),
		zap.String("source_type", string(source.Type)),
	}
}
