package service

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wallet-tracker/internal/types"
)

// activityDateLayouts are the date shapes seen in first_in/last_in/last_out cells
var activityDateLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
	"Jan 2, 2006",
	"02.01.2006",
}

// ParseActivityDay returns the UTC calendar day of an upstream activity date
func ParseActivityDay(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == types.NeverSentinel {
		return time.Time{}, false
	}

	for _, layout := range activityDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return truncateDay(t), true
		}
	}

	// tolerate trailing labels after an ISO date, e.g. "2025-06-01 (block 899000)"
	if len(value) >= 10 {
		if t, err := time.Parse("2006-01-02", value[:10]); err == nil {
			return truncateDay(t), true
		}
	}

	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ComputeDailyFlow derives per-day net flow from the latest state.
//
// Every address contributes +1 event and +balance to the day of its last_in
// and, unless it never spent, -1 and -balance to the day of its last_out.
// This approximates activity from the dates the ranking exposes; it is not a
// transaction ledger. The window covers windowDays calendar days ending at the
// most recent day present in the data; days without events are omitted.
// The result is ordered newest first.
func ComputeDailyFlow(latest []types.WalletSnapshot, windowDays int) (stats []types.DailyFlowStat, unparsed int) {
	if windowDays < 1 {
		return nil, 0
	}

	byDay := make(map[time.Time]*types.DailyFlowStat)
	statFor := func(day time.Time) *types.DailyFlowStat {
		stat, ok := byDay[day]
		if !ok {
			stat = &types.DailyFlowStat{
				Day:            day,
				NetVolume:      decimal.Zero,
				IncomingVolume: decimal.Zero,
				OutgoingVolume: decimal.Zero,
			}
			byDay[day] = stat
		}
		return stat
	}

	for _, snapshot := range latest {
		if snapshot.LastIn != "" {
			if day, ok := ParseActivityDay(snapshot.LastIn); ok {
				stat := statFor(day)
				stat.IncomingEvents++
				stat.IncomingVolume = stat.IncomingVolume.Add(snapshot.Balance)
			} else {
				unparsed++
			}
		}

		if types.HasOutgoing(snapshot.LastOut) {
			if day, ok := ParseActivityDay(snapshot.LastOut); ok {
				stat := statFor(day)
				stat.OutgoingEvents++
				stat.OutgoingVolume = stat.OutgoingVolume.Add(snapshot.Balance)
			} else {
				unparsed++
			}
		}
	}

	if len(byDay) == 0 {
		return []types.DailyFlowStat{}, unparsed
	}

	var anchor time.Time
	for day := range byDay {
		if day.After(anchor) {
			anchor = day
		}
	}
	earliest := anchor.AddDate(0, 0, -(windowDays - 1))

	stats = make([]types.DailyFlowStat, 0, len(byDay))
	for day, stat := range byDay {
		if day.Before(earliest) {
			continue
		}
		stat.NetTransactions = stat.IncomingEvents - stat.OutgoingEvents
		stat.NetVolume = stat.IncomingVolume.Sub(stat.OutgoingVolume)
		stats = append(stats, *stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Day.After(stats[j].Day)
	})

	return stats, unparsed
}
