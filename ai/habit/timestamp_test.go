package habit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)

	testCases := []struct {
		name     string
		raw      string
		expected time.Time
	}{
		{"rfc3339", "2026-03-02T07:00:00Z", time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)},
		{"rfc3339 nano", "2026-03-02T07:00:00.5+02:00", time.Date(2026, 3, 2, 5, 0, 0, 500000000, time.UTC)},
		{"local datetime", "2026-03-02 07:00:00", time.Date(2026, 3, 2, 7, 0, 0, 0, loc)},
		{"local T datetime", "2026-03-02T07:00:00", time.Date(2026, 3, 2, 7, 0, 0, 0, loc)},
		{"minutes only", "2026-03-02 07:05", time.Date(2026, 3, 2, 7, 5, 0, 0, loc)},
		{"unix seconds", "1772434800", time.Unix(1772434800, 0)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTimestamp(tc.raw, loc)
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "expected %s, got %s", tc.expected, got)
		})
	}
}

func TestParseTimestamp_Malformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "yesterday", "2026-13-40", "0", "-5", "07:00"} {
		_, err := ParseTimestamp(raw, time.UTC)
		assert.Error(t, err, "raw %q", raw)
	}
}
