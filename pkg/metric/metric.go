// Package metric summarizes the bar-to-bar returns of a candle history
package metric

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/tradedash/pkg/core"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the closed-to-close returns of a history, in percent
type Summary struct {
	Bars         int
	Mean         float64
	StdDev       float64
	Best         float64
	Worst        float64
	UpBars       int
	DownBars     int
	Payoff       float64
	ProfitFactor float64
	MeanInterval Interval
}

// Returns computes the percent change between consecutive closes
func Returns(candles []core.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (candles[i].Close-prev)/prev*100)
	}
	return returns
}

// Mean calculates the arithmetic mean of the values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Payoff calculates the ratio of the average up move to the average down move
func Payoff(values []float64) float64 {
	ups, downs := partition(values)

	if len(downs) == 0 {
		return 10 // Default value when nothing went down
	}

	avgUp := Mean(ups)
	avgDown := Mean(downs)

	if avgDown == 0 {
		return 10
	}

	return math.Abs(avgUp / avgDown)
}

// ProfitFactor calculates the ratio of total up moves to total down moves
func ProfitFactor(values []float64) float64 {
	var (
		totalUp   float64
		totalDown float64
	)

	for _, value := range values {
		if value >= 0 {
			totalUp += value
		} else {
			totalDown += value
		}
	}

	if totalDown == 0 {
		return 10
	}

	return math.Abs(totalUp / totalDown)
}

// partition separates up moves from down moves, the latter as absolute values
func partition(values []float64) (ups []float64, downs []float64) {
	for _, value := range values {
		if value >= 0 {
			ups = append(ups, value)
		} else {
			downs = append(downs, math.Abs(value))
		}
	}
	return ups, downs
}

// Summarize computes the return statistics of candles. The mean interval is
// a 95% bootstrap confidence interval over samples resamplings.
func Summarize(candles []core.Candle, samples int) Summary {
	returns := Returns(candles)
	s := Summary{Bars: len(candles)}
	if len(returns) == 0 {
		return s
	}

	s.Mean, s.StdDev = stat.MeanStdDev(returns, nil)
	if len(returns) == 1 {
		s.StdDev = 0
	}
	s.Best, s.Worst = returns[0], returns[0]
	for _, r := range returns {
		s.Best = math.Max(s.Best, r)
		s.Worst = math.Min(s.Worst, r)
		if r >= 0 {
			s.UpBars++
		} else {
			s.DownBars++
		}
	}
	s.Payoff = Payoff(returns)
	s.ProfitFactor = ProfitFactor(returns)
	s.MeanInterval = Bootstrap(returns, Mean, samples, 0.95)

	return s
}

// String formats the summary as a text table
func (s Summary) String() string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)

	data := [][]string{
		{"Bars", fmt.Sprintf("%d", s.Bars)},
		{"Up / Down", fmt.Sprintf("%d / %d", s.UpBars, s.DownBars)},
		{"Mean %", fmt.Sprintf("%.4f", s.Mean)},
		{"Mean 95% CI", fmt.Sprintf("%.4f .. %.4f", s.MeanInterval.Lower, s.MeanInterval.Upper)},
		{"Std dev %", fmt.Sprintf("%.4f", s.StdDev)},
		{"Best %", fmt.Sprintf("%.4f", s.Best)},
		{"Worst %", fmt.Sprintf("%.4f", s.Worst)},
		{"Payoff", fmt.Sprintf("%.2f", s.Payoff)},
		{"Pr.Fact", fmt.Sprintf("%.2f", s.ProfitFactor)},
	}

	table.AppendBulk(data)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.Render()

	return tableString.String()
}

// FprintHistogram draws the distribution of returns on w
func FprintHistogram(w io.Writer, returns []float64, bins int) error {
	if len(returns) == 0 {
		return nil
	}
	hist := histogram.Hist(bins, returns)
	return histogram.Fprint(w, hist, histogram.Linear(10))
}
