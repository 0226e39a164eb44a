package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/raykavin/tradedash/internal/config"
	"github.com/raykavin/tradedash/pkg/chart"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFamiliesTable(t *testing.T) {
	table := familiesTable(chart.DefaultFamilies())
	for _, name := range chart.FamilyNames(chart.DefaultFamilies()) {
		require.Contains(t, table, name)
	}
	require.Contains(t, table, "rsi_14")
}

func TestAnalysisOptions(t *testing.T) {
	cfg := config.MarketConfig{Source: config.SourceAPI, RestURL: "http://localhost:8000", Analysis: true}
	require.Len(t, analysisOptions(cfg, zerolog.Nop()), 2)

	cfg.Analysis = false
	require.Empty(t, analysisOptions(cfg, zerolog.Nop()))

	cfg.Analysis, cfg.Source = true, config.SourceSimulate
	require.Empty(t, analysisOptions(cfg, zerolog.Nop()))
}

func TestRiskCommand(t *testing.T) {
	cmd := buildRiskCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{
		"--symbol", "BTCUSDT", "--balance", "1000", "--risk", "1", "--leverage", "10",
		"--entry", "50000", "--stop", "49000", "--target", "53000", "--side", "buy",
	})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "BTCUSDT BUY (MMR 0.40%)")
	require.Contains(t, out.String(), "5000.00")
	require.Contains(t, out.String(), "1 : 3.00")
}

func TestRiskCommand_InvalidNumber(t *testing.T) {
	cmd := buildRiskCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--symbol", "BTCUSDT", "--balance", "lots", "--entry", "1", "--stop", "2"})

	require.ErrorContains(t, cmd.Execute(), `invalid --balance value "lots"`)
}

func TestExportCommand(t *testing.T) {
	t.Setenv("TRADEDASH_LOG_LEVEL", "error")
	dir := t.TempDir()

	cmd := buildExportCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--symbols", "btcusdt,ethusdt", "--interval", "15m", "--limit", "20", "--output", dir})

	require.NoError(t, cmd.Execute())
	require.Equal(t, filepath.Join(dir, "BTCUSDT_15m.csv")+"\n"+filepath.Join(dir, "ETHUSDT_15m.csv")+"\n", out.String())
}

func TestStatsCommand(t *testing.T) {
	t.Setenv("TRADEDASH_LOG_LEVEL", "error")

	cmd := buildStatsCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--symbols", "solusdt", "--interval", "1d", "--limit", "50"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "SOLUSDT_1d")
	require.Contains(t, out.String(), "Pr.Fact")
}
