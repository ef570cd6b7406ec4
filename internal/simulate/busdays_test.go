package simulate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessDays(t *testing.T) {
	mon := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	sun := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)

	days := BusinessDays(mon, sun)
	require.Len(t, days, 5)
	assert.Equal(t, time.Monday, days[0].Weekday())
	assert.Equal(t, time.Friday, days[4].Weekday())

	sat := time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, BusinessDays(sat, sun), "a weekend-only range has no business days")

	single := BusinessDays(mon, mon)
	assert.Len(t, single, 1, "the range is inclusive on both ends")
}

func TestAddBusinessDays(t *testing.T) {
	fri := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)

	next := AddBusinessDays(fri, 1)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Day())

	week := AddBusinessDays(fri, 5)
	assert.Equal(t, time.Friday, week.Weekday())
	assert.Equal(t, 13, week.Day())
}
