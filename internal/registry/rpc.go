package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain ID.
// These values are used whenever no per-chain override is configured.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	56:    "https://bsc-dataseed.binance.org",
	100:   "https://rpc.gnosischain.com",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	43114: "https://api.avax.network/ext/bc/C/rpc",
	59144: "https://rpc.linea.build",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// ResolveRPCURLs returns the override endpoints first, then the default one.
// Callers dial them in order and keep the first that answers.
func ResolveRPCURLs(overrides []string, chainID int64) ([]string, error) {
	out := make([]string, 0, len(overrides)+1)
	seen := map[string]struct{}{}
	for _, raw := range overrides {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		if _, dup := seen[value]; !dup {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rpc configured for chain id %d; set rpc_urls in config", chainID)
	}
	return out, nil
}
