package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2024, 3, 10, 10, 3, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		last time.Time
		next time.Time
	}{
		{
			name: "every five minutes",
			expr: "*/5 * * * *",
			last: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
			next: time.Date(2024, 3, 10, 10, 5, 0, 0, time.UTC),
		},
		{
			name: "daily",
			expr: "30 18 * * *",
			last: time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC),
			next: time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC),
		},
		{
			name: "descriptor",
			expr: "@hourly",
			last: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
			next: time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := GetTriggerInfo(tt.expr, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.last, info.Last)
			assert.Equal(t, tt.next, info.Next)
			assert.Equal(t, ref.Sub(tt.last), info.TimeSinceLast)
			assert.Equal(t, tt.next.Sub(ref), info.TimeUntilNext)
		})
	}
}

func TestGetTriggerInfo_ActivationAtRefTime(t *testing.T) {
	ref := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	info, err := GetTriggerInfo("0 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, ref, info.Last)
	assert.Equal(t, ref.Add(time.Hour), info.Next)
}

func TestParse_RejectsSecondsField(t *testing.T) {
	_, err := Parse("0 */5 * * * *")
	assert.Error(t, err)

	_, err = GetTriggerInfo("not a schedule", time.Now())
	assert.Error(t, err)
}
