package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wallet-tracker/internal/types"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flowSeries builds one stat per day ending on 2025-06-30, oldest first
func flowSeries(tx []int, volume []string) []types.DailyFlowStat {
	end := day("2025-06-30")
	stats := make([]types.DailyFlowStat, len(tx))
	for i := range tx {
		stats[i] = types.DailyFlowStat{
			Day:             end.AddDate(0, 0, i-len(tx)+1),
			NetTransactions: tx[i],
			NetVolume:       mustDecimal(volume[i]),
		}
	}
	return stats
}

func TestClassifySignal_EmptyIsInsufficientData(t *testing.T) {
	signal := ClassifySignal(nil)

	assert.Equal(t, types.SignalNeutral, signal.Label)
	assert.Equal(t, 0.0, signal.Confidence)
	assert.Equal(t, "insufficient data", signal.Reason)
}

func TestClassifySignal(t *testing.T) {
	tests := []struct {
		name       string
		stats      []types.DailyFlowStat
		label      types.SignalLabel
		confidence float64
	}{
		{
			name:       "inflow",
			stats:      flowSeries([]int{2, 4}, []string{"10", "20"}),
			label:      types.SignalBuy,
			confidence: 0.3,
		},
		{
			name:       "outflow",
			stats:      flowSeries([]int{-5, -3}, []string{"-1", "-2"}),
			label:      types.SignalSell,
			confidence: 0.4,
		},
		{
			name:       "confidence capped at one",
			stats:      flowSeries([]int{40, 60}, []string{"1", "1"}),
			label:      types.SignalBuy,
			confidence: 1.0,
		},
		{
			name:       "transactions and volume disagree",
			stats:      flowSeries([]int{3, 3}, []string{"-5", "-5"}),
			label:      types.SignalNeutral,
			confidence: 0.5,
		},
		{
			name:       "flat",
			stats:      flowSeries([]int{0}, []string{"0"}),
			label:      types.SignalNeutral,
			confidence: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := ClassifySignal(tt.stats)
			assert.Equal(t, tt.label, signal.Label)
			assert.InDelta(t, tt.confidence, signal.Confidence, 1e-9)
			assert.NotEmpty(t, signal.Reason)
		})
	}
}

func TestClassifySignal_UsesLastSevenPoints(t *testing.T) {
	// old heavy outflow falls outside the moving average
	tx := []int{-100, -100, -100, 1, 1, 1, 1, 1, 1, 1}
	volume := []string{"-500", "-500", "-500", "1", "1", "1", "1", "1", "1", "1"}

	signal := ClassifySignal(flowSeries(tx, volume))
	assert.Equal(t, types.SignalBuy, signal.Label)
	assert.InDelta(t, 0.1, signal.Confidence, 1e-9)
	assert.Equal(t, 7.0, signal.Metrics["smoothing_points"])
	assert.Equal(t, 10.0, signal.Metrics["days"])
}

func TestClassifySignal_OrderIndependent(t *testing.T) {
	ascending := flowSeries([]int{-9, -9, -9, -9, -9, -9, -9, 2}, []string{"-1", "-1", "-1", "-1", "-1", "-1", "-1", "5"})
	descending := make([]types.DailyFlowStat, len(ascending))
	for i := range ascending {
		descending[len(ascending)-1-i] = ascending[i]
	}

	assert.Equal(t, ClassifySignal(ascending), ClassifySignal(descending))
}

func TestClassifySignal_ConfidenceInRange(t *testing.T) {
	for n := -50; n <= 50; n += 7 {
		signal := ClassifySignal([]types.DailyFlowStat{{
			Day:             time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			NetTransactions: n,
			NetVolume:       decimal.NewFromInt(int64(n)),
		}})
		assert.GreaterOrEqual(t, signal.Confidence, 0.0)
		assert.LessOrEqual(t, signal.Confidence, 1.0)
	}
}
