package shard

import (
	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

// Level is the granularity at which text is chunked and scored.
type Level string

const (
	LevelDocument  Level = "document"
	LevelParagraph Level = "paragraph"
	LevelSentence  Level = "sentence"
)

// DefaultLevel is used when a query does not name a granularity.
const DefaultLevel = LevelParagraph

// ParseLevel validates a level string, mapping "" to the default.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "":
		return DefaultLevel, nil
	case LevelDocument, LevelParagraph, LevelSentence:
		return Level(s), nil
	default:
		return "", errors.Newf(errors.ErrInvalidInput, "unknown level %q", s)
	}
}
