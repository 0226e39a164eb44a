// Package export writes historical candles and their indicator values to CSV
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/timeseries"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
)

// CSV header names preceding the indicator columns
var csvHeaders = []string{"time", "open", "high", "low", "close", "volume", "closed"}

// Exporter downloads history from a fetcher into one CSV file per selection
type Exporter struct {
	fetcher  marketdata.HistoricalFetcher
	log      logger.Logger
	progress io.Writer
}

// Option configures an Exporter
type Option func(*Exporter)

// WithProgress renders the progress bar on w instead of stderr
func WithProgress(w io.Writer) Option {
	return func(e *Exporter) {
		e.progress = w
	}
}

// NewExporter creates an exporter reading from fetcher
func NewExporter(fetcher marketdata.HistoricalFetcher, log logger.Logger, options ...Option) *Exporter {
	e := &Exporter{fetcher: fetcher, log: log, progress: os.Stderr}
	for _, option := range options {
		option(e)
	}
	return e
}

// FileName returns the file a selection is written to, e.g. "BTCUSDT_1m.csv"
func FileName(sel core.Selection) string {
	return sel.String() + ".csv"
}

// Export writes limit candles of every selection into dir and returns the
// written file paths
func (e *Exporter) Export(ctx context.Context, selections []core.Selection, limit int, dir string) ([]string, error) {
	limit = marketdata.ClampLimit(limit)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	e.log.Infof("Exporting %d candles for %d selections", limit, len(selections))

	progressBar := progressbar.NewOptions64(int64(limit*len(selections)),
		progressbar.OptionSetWriter(e.progress),
		progressbar.OptionSetDescription("exporting"),
		progressbar.OptionShowCount(),
	)

	paths := make([]string, 0, len(selections))
	for _, sel := range selections {
		h, err := e.fetcher.Historical(ctx, sel, limit)
		if err != nil {
			return paths, fmt.Errorf("failed to fetch %s: %w", sel, err)
		}

		merger := timeseries.New(timeseries.WithCapacity(limit))
		merger.Replace(h.Candles, h.Indicators)
		snap := merger.Snapshot()

		path := filepath.Join(dir, FileName(sel))
		if err := writeFile(path, snap); err != nil {
			return paths, err
		}
		paths = append(paths, path)

		if missing := limit - len(snap.Candles); missing > 0 {
			e.log.WithField("selection", sel.String()).Warnf("%d missing candles", missing)
		}

		if err := progressBar.Add(limit); err != nil {
			e.log.WithError(err).Warn("Failed to update progress bar")
		}
	}

	if err := progressBar.Close(); err != nil {
		e.log.WithError(err).Warn("Failed to close progress bar")
	}

	e.log.Info("Done!")
	return paths, nil
}

func writeFile(path string, snap timeseries.Snapshot) error {
	recordFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer recordFile.Close()

	if err := Write(recordFile, snap); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return recordFile.Close()
}

// Write renders snap as CSV, one row per candle with a column per indicator
// series. Absent values are left empty.
func Write(w io.Writer, snap timeseries.Snapshot) error {
	keys := lo.Keys(snap.Series)
	sort.Strings(keys)

	writer := csv.NewWriter(w)
	if err := writer.Write(append(slices.Clone(csvHeaders), keys...)); err != nil {
		return err
	}

	for i, c := range snap.Candles {
		row := []string{
			strconv.FormatInt(c.Time, 10),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			strconv.FormatBool(c.Closed),
		}

		for _, key := range keys {
			value := ""
			if p := snap.Series[key][i]; p.Present() {
				value = formatFloat(*p.Value)
			}
			row = append(row, value)
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
