package core

import (
	"math"
	"slices"
	"time"

	"github.com/samber/lo"
)

// DayBounds returns the half-open interval [start, end) covering the calendar
// day of t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Summarize aggregates events into the summary for date. Callers are
// responsible for passing only events that fall on that date.
func Summarize(date string, events []UsageEvent) DailySummary {
	out := DailySummary{Date: date, Models: []string{}}
	if len(events) == 0 {
		return out
	}

	for _, ev := range events {
		out.TotalCost += ev.CostUSD
		out.TotalTokens += ev.TotalTokens()
		out.TasksCount++
	}
	out.TotalCost = RoundUSD(out.TotalCost)

	models := lo.Uniq(lo.Compact(lo.Map(events, func(ev UsageEvent, _ int) string {
		return ev.Model
	})))
	slices.Sort(models)
	out.Models = models
	return out
}

// RoundUSD rounds a dollar amount to six decimal places.
func RoundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
