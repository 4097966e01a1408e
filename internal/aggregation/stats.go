package aggregation

import (
	"log/slog"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

const sketchAccuracy = 0.01

// rateAccumulator keeps exact mean/max and DDSketch quantiles for one rate series.
type rateAccumulator struct {
	count  int
	sum    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newRateAccumulator() *rateAccumulator {
	acc := &rateAccumulator{max: -math.MaxFloat64}
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		slog.Warn("Failed to create quantile sketch", "error", err)
	} else {
		acc.sketch = sketch
	}
	return acc
}

func (a *rateAccumulator) add(v float64) {
	a.count++
	a.sum += v
	if v > a.max {
		a.max = v
	}
	if a.sketch != nil {
		if err := a.sketch.Add(v); err != nil {
			slog.Debug("Failed to add value to sketch", "value", v, "error", err)
		}
	}
}

func (a *rateAccumulator) result() RateStats {
	if a.count == 0 {
		return RateStats{}
	}
	stats := RateStats{
		Mean: a.sum / float64(a.count),
		Max:  a.max,
	}
	if a.sketch != nil && !a.sketch.IsEmpty() {
		stats.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		stats.P95, _ = a.sketch.GetValueAtQuantile(0.95)
	}
	return stats
}
