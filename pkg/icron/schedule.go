// Package icron describes standard five-field cron schedules.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// lookback windows tried in order when searching for the previous trigger.
var lookback = []time.Duration{
	time.Hour,
	24 * time.Hour,
	31 * 24 * time.Hour,
	366 * 24 * time.Hour,
}

// maxSteps bounds the forward walk inside one lookback window.
const maxSteps = 100000

// Parse accepts the same expressions as cron.New().AddFunc.
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       previous(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// previous returns the latest activation at or before ref, or zero when none
// happened within a year.
func previous(schedule cron.Schedule, ref time.Time) time.Time {
	for _, window := range lookback {
		var last time.Time
		t := schedule.Next(ref.Add(-window).Add(-time.Second))
		for i := 0; i < maxSteps && !t.IsZero() && !t.After(ref); i++ {
			last = t
			t = schedule.Next(t)
		}
		if !last.IsZero() {
			return last
		}
	}
	return time.Time{}
}
