package stock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateAcceptsBothLayouts(t *testing.T) {
	t.Parallel()

	compact, err := ParseDate("20240301")
	require.NoError(t, err)
	dashed, err := ParseDate("2024-03-01")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), compact)
	assert.Equal(t, compact, dashed)
	assert.Equal(t, "20240301", FormatDate(compact))

	_, err = ParseDate("2024/03/01")
	require.Error(t, err)
}

func TestCivilDateUsesLocalCalendarDay(t *testing.T) {
	t.Parallel()

	shanghai := time.FixedZone("CST", 8*3600)
	late := time.Date(2024, 3, 1, 23, 30, 0, 0, shanghai)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), CivilDate(late))
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), AddDays(late, 1))
}

func TestParseExchange(t *testing.T) {
	t.Parallel()

	ex, err := ParseExchange("SH")
	require.NoError(t, err)
	assert.Equal(t, []string{VenueSSE}, ex.Venues())

	ex, err = ParseExchange("")
	require.NoError(t, err)
	assert.Equal(t, []string{VenueSSE, VenueSZSE}, ex.Venues())

	_, err = ParseExchange("hk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestSyncWindowEmpty(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, SyncWindow{Start: day, End: day}.Empty())
	assert.True(t, SyncWindow{Start: day.AddDate(0, 0, 1), End: day}.Empty())
	assert.Equal(t, "20240301-20240301", SyncWindow{Start: day, End: day}.String())
}
