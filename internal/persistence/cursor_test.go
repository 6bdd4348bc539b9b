package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{Time: time.Date(2030, 1, 1, 12, 0, 0, 123, time.UTC), ID: 42}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("no-separator")))
	require.ErrorContains(t, err, "invalid cursor format")

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("2030-01-01T00:00:00Z|abc")))
	require.ErrorContains(t, err, "invalid cursor id")
}
