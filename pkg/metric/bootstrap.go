package metric

import (
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// Interval is a bootstrap estimate of a statistic
type Interval struct {
	Mean   float64
	StdDev float64
	Lower  float64
	Upper  float64
}

// Bootstrap resamples values with replacement rounds times, applies measure
// to every resample and returns the central confidence interval of the results.
func Bootstrap(values []float64, measure func([]float64) float64, rounds int, confidence float64) Interval {
	if len(values) == 0 || rounds <= 0 {
		return Interval{}
	}
	confidence = min(max(confidence, 0), 1)

	estimates := lo.Times(rounds, func(int) float64 {
		return measure(resample(values))
	})
	sort.Float64s(estimates)

	tail := (1 - confidence) / 2
	mean, stdDev := stat.MeanStdDev(estimates, nil)
	return Interval{
		Mean:   mean,
		StdDev: stdDev,
		Lower:  stat.Quantile(tail, stat.LinInterp, estimates, nil),
		Upper:  stat.Quantile(1-tail, stat.LinInterp, estimates, nil),
	}
}

func resample(values []float64) []float64 {
	return lo.Times(len(values), func(int) float64 {
		return lo.Sample(values)
	})
}
