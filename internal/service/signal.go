package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/types"
)

const (
	// SignalSmoothingPoints is the trailing moving average length
	SignalSmoothingPoints = 7

	// SignalWindowDays is the daily flow window the signal reads
	SignalWindowDays = 30

	// signalConfidenceScale maps the smoothed net transaction count to [0, 1]
	signalConfidenceScale = 10.0

	neutralConfidence = 0.5
)

// ClassifySignal computes the market signal from daily flow stats (any order).
// It never panics: computation failures produce an ERROR-labelled signal.
func ClassifySignal(stats []types.DailyFlowStat) (signal types.MarketSignal) {
	defer func() {
		if r := recover(); r != nil {
			signal = ErrorSignal(apperrors.NewAnalysisError(fmt.Sprintf("signal computation panicked: %v", r), nil))
		}
	}()

	if len(stats) == 0 {
		return types.MarketSignal{
			Label:      types.SignalNeutral,
			Confidence: 0,
			Reason:     "insufficient data",
		}
	}

	txSeries, volumeSeries := ascendingSeries(stats)
	txTrend := trailingMean(txSeries, SignalSmoothingPoints)
	volumeTrend := trailingMeanDecimal(volumeSeries, SignalSmoothingPoints)

	volumeFloat, _ := volumeTrend.Float64()
	if math.IsNaN(txTrend) || math.IsInf(txTrend, 0) {
		return ErrorSignal(apperrors.NewAnalysisError("non-finite transaction trend", nil))
	}

	metrics := map[string]float64{
		"avg_net_transactions": txTrend,
		"avg_net_volume":       volumeFloat,
		"days":                 float64(len(stats)),
		"smoothing_points":     float64(min(len(stats), SignalSmoothingPoints)),
	}

	switch {
	case txTrend > 0 && volumeTrend.IsPositive():
		return types.MarketSignal{
			Label:      types.SignalBuy,
			Confidence: math.Min(math.Abs(txTrend)/signalConfidenceScale, 1.0),
			Reason:     fmt.Sprintf("net inflow: avg %.2f transactions/day, avg volume %s", txTrend, volumeTrend.StringFixed(8)),
			Metrics:    metrics,
		}
	case txTrend < 0 && volumeTrend.IsNegative():
		return types.MarketSignal{
			Label:      types.SignalSell,
			Confidence: math.Min(math.Abs(txTrend)/signalConfidenceScale, 1.0),
			Reason:     fmt.Sprintf("net outflow: avg %.2f transactions/day, avg volume %s", txTrend, volumeTrend.StringFixed(8)),
			Metrics:    metrics,
		}
	default:
		return types.MarketSignal{
			Label:      types.SignalNeutral,
			Confidence: neutralConfidence,
			Reason:     "transaction and volume trends disagree or are flat",
			Metrics:    metrics,
		}
	}
}

// ErrorSignal wraps a failure into an ERROR-labelled signal
func ErrorSignal(err error) types.MarketSignal {
	return types.MarketSignal{
		Label:      types.SignalError,
		Confidence: 0,
		Reason:     err.Error(),
	}
}

// ascendingSeries returns net transactions and net volume oldest first
func ascendingSeries(stats []types.DailyFlowStat) ([]float64, []decimal.Decimal) {
	ordered := make([]types.DailyFlowStat, len(stats))
	copy(ordered, stats)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Day.Before(ordered[j].Day)
	})

	tx := make([]float64, len(ordered))
	volume := make([]decimal.Decimal, len(ordered))
	for i, stat := range ordered {
		tx[i] = float64(stat.NetTransactions)
		volume[i] = stat.NetVolume
	}
	return tx, volume
}

// trailingMean is the mean of the last n values, or of all values when fewer exist
func trailingMean(values []float64, n int) float64 {
	window := values[max(len(values)-n, 0):]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

func trailingMeanDecimal(values []decimal.Decimal, n int) decimal.Decimal {
	window := values[max(len(values)-n, 0):]
	return decimal.Sum(decimal.Zero, window...).Div(decimal.NewFromInt(int64(len(window))))
}
