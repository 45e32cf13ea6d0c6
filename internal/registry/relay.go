package registry

import "strings"

// Gasless transfers are only offered where the relay sponsors the chain and
// accepts the token as fee payment.
var gaslessAllowList = map[string]map[string][]string{
	ProviderStargate: {
		"arbitrum": {"USDC", "USDT"},
		"polygon":  {"USDC", "USDT"},
		"optimism": {"USDC"},
	},
	ProviderAcross: {
		"arbitrum": {"USDC"},
		"base":     {"USDC"},
		"optimism": {"USDC"},
		"polygon":  {"USDC"},
	},
	ProviderHop: {
		"polygon": {"USDC"},
	},
}

// GaslessSupported reports whether the relay can carry a token-fee transfer
// for the provider, source chain and token.
func GaslessSupported(provider, chain, token string) bool {
	chains, ok := gaslessAllowList[strings.ToLower(provider)]
	if !ok {
		return false
	}
	for _, symbol := range chains[strings.ToLower(chain)] {
		if strings.EqualFold(symbol, token) {
			return true
		}
	}
	return false
}
