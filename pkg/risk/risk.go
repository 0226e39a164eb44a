// Package risk sizes a leveraged position from an account balance, a risk
// budget and the distance between entry and stop loss.
package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid risk input")

// Side is the direction of the position
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Input holds the calculator parameters. TakeProfitPrice is optional.
type Input struct {
	Symbol          string           `json:"symbol"`
	AccountBalance  decimal.Decimal  `json:"accountBalance"`
	RiskPercent     decimal.Decimal  `json:"riskPercent"`
	Leverage        decimal.Decimal  `json:"leverage"`
	EntryPrice      decimal.Decimal  `json:"entryPrice"`
	StopLossPrice   decimal.Decimal  `json:"stopLossPrice"`
	TakeProfitPrice *decimal.Decimal `json:"takeProfitPrice,omitempty"`
	Side            Side             `json:"positionSide"`
}

// Result is the outcome of a calculation. Optional values are nil when
// they cannot be derived.
type Result struct {
	Symbol             string
	PositionSizeAsset  decimal.Decimal
	PositionSizeUSD    decimal.Decimal
	AmountToRiskUSD    decimal.Decimal
	PotentialLossUSD   decimal.Decimal
	StopLossPercentage decimal.Decimal
	PotentialProfitUSD *decimal.Decimal
	RiskRewardRatio    *decimal.Decimal
	LiquidationPrice   *decimal.Decimal
	MaintenanceMargin  decimal.Decimal
}

var (
	hundred  = decimal.NewFromInt(100)
	one      = decimal.NewFromInt(1)
	nearLiq  = decimal.RequireFromString("0.001")
	mmrTable = []struct {
		assets []string
		rate   decimal.Decimal
	}{
		{[]string{"BTC", "ETH"}, decimal.RequireFromString("0.004")},
		{[]string{"SOL"}, decimal.RequireFromString("0.007")},
		{[]string{"DOGE", "SHIB"}, decimal.RequireFromString("0.015")},
	}
	defaultMMR = decimal.RequireFromString("0.005")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func contains(symbol string, assets ...string) bool {
	symbol = strings.ToUpper(symbol)
	for _, asset := range assets {
		if strings.Contains(symbol, asset) {
			return true
		}
	}
	return false
}

// MaintenanceMarginRate approximates the maintenance margin of symbol as a
// fraction of the entry price. Exchanges use position-size tiers instead.
func MaintenanceMarginRate(symbol string) decimal.Decimal {
	for _, row := range mmrTable {
		if contains(symbol, row.assets...) {
			return row.rate
		}
	}
	return defaultMMR
}

// AssetPrecision is the number of decimals shown for a position size
func AssetPrecision(symbol string) int32 {
	switch {
	case contains(symbol, "SHIB"):
		return 8
	case contains(symbol, "XRP", "DOGE"):
		return 0
	}
	return 5
}

// PricePrecision is the number of decimals shown for a price
func PricePrecision(symbol string) int32 {
	switch {
	case contains(symbol, "SHIB"):
		return 8
	case contains(symbol, "DOGE"):
		return 4
	}
	return 2
}

// Validate checks in and returns the first rule it breaks
func Validate(in Input) error {
	if strings.TrimSpace(in.Symbol) == "" {
		return invalid("Missing required parameters: symbol")
	}

	if !in.AccountBalance.IsPositive() ||
		!in.RiskPercent.IsPositive() || in.RiskPercent.GreaterThan(hundred) ||
		in.Leverage.LessThan(one) ||
		!in.EntryPrice.IsPositive() || !in.StopLossPrice.IsPositive() {
		return invalid("Numeric inputs (Balance, Risk%%, Leverage, Entry, SL) must be positive and within valid ranges.")
	}

	tp := in.TakeProfitPrice
	if tp != nil && !tp.IsPositive() {
		return invalid("Take profit, if provided, must be positive.")
	}

	if in.Side != Buy && in.Side != Sell {
		return invalid("Position side must be 'BUY' or 'SELL'.")
	}

	if in.EntryPrice.Equal(in.StopLossPrice) {
		return invalid("Entry and stop loss prices cannot be identical.")
	}

	switch in.Side {
	case Buy:
		if in.StopLossPrice.GreaterThanOrEqual(in.EntryPrice) {
			return invalid("BUY: Stop Loss must be BELOW Entry Price.")
		}
		if tp != nil && tp.LessThanOrEqual(in.EntryPrice) {
			return invalid("BUY: Take Profit must be ABOVE Entry Price.")
		}
	case Sell:
		if in.StopLossPrice.LessThanOrEqual(in.EntryPrice) {
			return invalid("SELL: Stop Loss must be ABOVE Entry Price.")
		}
		if tp != nil && tp.GreaterThanOrEqual(in.EntryPrice) {
			return invalid("SELL: Take Profit must be BELOW Entry Price.")
		}
	}

	return nil
}

// Calculate sizes the position so that hitting the stop loses exactly the
// risked share of the balance, scaled by leverage
func Calculate(in Input) (Result, error) {
	if err := Validate(in); err != nil {
		return Result{}, err
	}

	amountToRisk := in.AccountBalance.Mul(in.RiskPercent).Div(hundred)
	stopDistance := in.EntryPrice.Sub(in.StopLossPrice).Abs()
	stopFraction := stopDistance.Div(in.EntryPrice)
	if stopFraction.IsZero() {
		return Result{}, invalid("Stop loss price is too close to entry price.")
	}

	sizeUSD := amountToRisk.Mul(in.Leverage).Div(stopFraction)
	sizeAsset := sizeUSD.Div(in.EntryPrice)

	result := Result{
		Symbol:             strings.ToUpper(in.Symbol),
		PositionSizeAsset:  sizeAsset,
		PositionSizeUSD:    sizeUSD,
		AmountToRiskUSD:    amountToRisk,
		PotentialLossUSD:   amountToRisk,
		StopLossPercentage: stopFraction.Mul(hundred),
		MaintenanceMargin:  MaintenanceMarginRate(in.Symbol),
	}

	if tp := in.TakeProfitPrice; tp != nil {
		tpDistance := in.EntryPrice.Sub(*tp).Abs()
		profit := sizeAsset.Mul(tpDistance)
		ratio := tpDistance.Div(stopDistance)
		result.PotentialProfitUSD = &profit
		result.RiskRewardRatio = &ratio
	}

	if liq, ok := liquidationPrice(in.EntryPrice, in.Leverage, result.MaintenanceMargin, in.Side); ok {
		result.LiquidationPrice = &liq
	}

	return result, nil
}

// liquidationPrice estimates the isolated-margin liquidation price. When the
// maintenance margin eats the whole initial margin the position is treated
// as liquidated 0.1% away from entry.
func liquidationPrice(entry, leverage, mmr decimal.Decimal, side Side) (decimal.Decimal, bool) {
	initialMargin := one.Div(leverage)

	move := nearLiq
	if initialMargin.GreaterThan(mmr) {
		move = initialMargin.Sub(mmr)
	}

	var liq decimal.Decimal
	if side == Buy {
		liq = entry.Mul(one.Sub(move))
	} else {
		liq = entry.Mul(one.Add(move))
	}

	if !liq.IsPositive() {
		return decimal.Zero, false
	}
	return liq, true
}

// Summary holds the display strings of a Result
type Summary struct {
	PositionSizeAsset  string `json:"positionSizeAsset"`
	PositionSizeUSD    string `json:"positionSizeUSD"`
	PotentialLossUSD   string `json:"potentialLossUSD"`
	AmountToRiskUSD    string `json:"amountToRiskUSD"`
	StopLossPercentage string `json:"stopLossPercentage"`
	PotentialProfitUSD string `json:"potentialProfitUSD"`
	RiskRewardRatio    string `json:"riskRewardRatio"`
	LiquidationPrice   string `json:"liquidationPrice"`
}

// Summary formats r with the precision of its symbol
func (r Result) Summary() Summary {
	s := Summary{
		PositionSizeAsset:  r.PositionSizeAsset.StringFixed(AssetPrecision(r.Symbol)),
		PositionSizeUSD:    r.PositionSizeUSD.StringFixed(2),
		PotentialLossUSD:   r.PotentialLossUSD.StringFixed(2),
		AmountToRiskUSD:    r.AmountToRiskUSD.StringFixed(2),
		StopLossPercentage: r.StopLossPercentage.StringFixed(2) + "%",
		PotentialProfitUSD: "-",
		RiskRewardRatio:    "-",
		LiquidationPrice:   "N/A (check Lvg/MMR)",
	}

	if r.PotentialProfitUSD != nil {
		s.PotentialProfitUSD = r.PotentialProfitUSD.StringFixed(2)
	}
	if r.RiskRewardRatio != nil {
		s.RiskRewardRatio = "1 : " + r.RiskRewardRatio.StringFixed(2)
	}
	if r.LiquidationPrice != nil {
		s.LiquidationPrice = "~ " + r.LiquidationPrice.StringFixed(PricePrecision(r.Symbol))
	}

	return s
}

// String formats the summary as a text table
func (s Summary) String() string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)

	data := [][]string{
		{"Position (asset)", s.PositionSizeAsset},
		{"Position (USD)", s.PositionSizeUSD},
		{"Amount at risk", s.AmountToRiskUSD},
		{"Potential loss", s.PotentialLossUSD},
		{"Stop distance %", s.StopLossPercentage},
		{"Potential profit", s.PotentialProfitUSD},
		{"Risk/reward", s.RiskRewardRatio},
		{"Liquidation", s.LiquidationPrice},
	}

	table.AppendBulk(data)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.Render()

	return tableString.String()
}
