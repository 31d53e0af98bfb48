package daterange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	dr, err := Parse("2026-07-01", "2026-07-08")
	require.NoError(t, err)
	assert.Equal(t, 7, dr.Nights())
	assert.Equal(t, "2026-07-01", dr.CheckInDate())
	assert.Equal(t, "2026-07-08", dr.CheckOutDate())
}

func TestParseRejects(t *testing.T) {
	cases := map[string][2]string{
		"same day":  {"2026-07-01", "2026-07-01"},
		"reversed":  {"2026-07-08", "2026-07-01"},
		"bad in":    {"07/01/2026", "2026-07-08"},
		"bad out":   {"2026-07-01", "tomorrow"},
		"empty out": {"2026-07-01", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(tc[0], tc[1])
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestNewNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	dr, err := New(time.Date(2026, 1, 1, 12, 0, 0, 0, loc), time.Date(2026, 1, 3, 12, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, dr.CheckIn.Location())
	assert.Equal(t, 2, dr.Nights())

	assert.ErrorIs(t, DateRange{}.Validate(), ErrInvalidRange)
}
