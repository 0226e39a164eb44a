package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var requiredFields = []string{
	"accountBalance", "riskPercent", "leverage", "entryPrice", "stopLossPrice", "symbol", "positionSide",
}

var numericFields = []string{"accountBalance", "riskPercent", "leverage", "entryPrice", "stopLossPrice"}

// ParseRequest decodes a calculator request. Numbers may be sent as JSON
// numbers or numeric strings; an empty takeProfitPrice means none.
func ParseRequest(body []byte) (Input, error) {
	if !gjson.ValidBytes(body) {
		return Input{}, invalid("Invalid JSON in request body.")
	}

	doc := gjson.ParseBytes(body)

	var missing []string
	for _, field := range requiredFields {
		if v := doc.Get(field); !v.Exists() || v.Type == gjson.Null {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Input{}, invalid("Missing required parameters: %s", strings.Join(missing, ", "))
	}

	values := make(map[string]decimal.Decimal, len(numericFields))
	for _, field := range numericFields {
		d, err := parseDecimal(doc.Get(field))
		if err != nil {
			return Input{}, invalid("Invalid numeric value for parameter: %s", field)
		}
		values[field] = d
	}

	in := Input{
		Symbol:         doc.Get("symbol").String(),
		AccountBalance: values["accountBalance"],
		RiskPercent:    values["riskPercent"],
		Leverage:       values["leverage"],
		EntryPrice:     values["entryPrice"],
		StopLossPrice:  values["stopLossPrice"],
		Side:           Side(doc.Get("positionSide").String()),
	}

	if tp := doc.Get("takeProfitPrice"); tp.Exists() && tp.Type != gjson.Null && tp.String() != "" {
		d, err := parseDecimal(tp)
		if err != nil {
			return Input{}, invalid("Invalid numeric value for parameter: takeProfitPrice")
		}
		in.TakeProfitPrice = &d
	}

	return in, nil
}

func parseDecimal(v gjson.Result) (decimal.Decimal, error) {
	switch v.Type {
	case gjson.Number:
		return decimal.NewFromString(v.Raw)
	case gjson.String:
		return decimal.NewFromString(strings.TrimSpace(v.Str))
	}
	return decimal.Zero, fmt.Errorf("not a number: %s", v.Raw)
}
