package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2024-03")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2024, Month: time.March}, p)
	assert.Equal(t, "2024-03", p.String())

	for _, bad := range []string{"", "2024-3", "2024-13", "03-2024", "2024/03"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestPeriodBounds(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	start, end := Period{Year: 2024, Month: time.March}.Bounds(loc)
	assert.Equal(t, time.Date(2024, time.March, 1, 3, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, time.Date(2024, time.April, 1, 3, 0, 0, 0, time.UTC), end.UTC())

	start, end = Period{Year: 2024, Month: time.December}.Bounds(time.UTC)
	assert.Equal(t, time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodLastDayAndPrevious(t *testing.T) {
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), Period{Year: 2024, Month: time.February}.LastDay(time.UTC))
	assert.Equal(t, time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), Period{Year: 2024, Month: time.March}.LastDay(time.UTC))

	assert.Equal(t, Period{Year: 2023, Month: time.December}, Period{Year: 2024, Month: time.January}.Previous())
	assert.Equal(t, Period{Year: 2024, Month: time.February}, PeriodOf(time.Date(2024, time.March, 1, 1, 0, 0, 0, time.UTC), time.FixedZone("BRT", -3*3600)))
}
