package registry

import "strings"

// Reference USD prices used to put native fees and token fees on one scale
// when scoring. Config may override any entry.
var defaultPrices = map[string]float64{
	"ETH":  3000,
	"WETH": 3000,
	"POL":  0.5,
	"AVAX": 30,
	"BNB":  600,
	"XDAI": 1,
	"USDC": 1,
	"USDT": 1,
	"DAI":  1,
}

// DefaultPrices returns a copy of the reference price table.
func DefaultPrices() map[string]float64 {
	out := make(map[string]float64, len(defaultPrices))
	for k, v := range defaultPrices {
		out[k] = v
	}
	return out
}

// Price looks a symbol up in table, falling back to the reference prices.
func Price(table map[string]float64, symbol string) (float64, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if v, ok := table[symbol]; ok && v > 0 {
		return v, true
	}
	v, ok := defaultPrices[symbol]
	return v, ok
}
