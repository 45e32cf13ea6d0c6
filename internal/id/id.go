package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// NativeAddress is the sentinel token address used for a chain's gas token.
const NativeAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

type Chain struct {
	Name         string
	Slug         string
	CAIP2        string
	EVMChainID   int64
	NativeSymbol string
}

func (c Chain) String() string { return c.Slug }

type Token struct {
	Symbol   string
	Decimals int
	Native   bool
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	"optimism":  {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	"bsc":       {Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56, NativeSymbol: "BNB"},
	"gnosis":    {Name: "Gnosis", Slug: "gnosis", CAIP2: "eip155:100", EVMChainID: 100, NativeSymbol: "XDAI"},
	"polygon":   {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeSymbol: "POL"},
	"base":      {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH"},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH"},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, NativeSymbol: "AVAX"},
	"linea":     {Name: "Linea", Slug: "linea", CAIP2: "eip155:59144", EVMChainID: 59144, NativeSymbol: "ETH"},
}

var chainAliases = map[string]string{
	"mainnet": "ethereum",
	"eth":     "ethereum",
	"op":      "optimism",
	"arb":     "arbitrum",
	"matic":   "polygon",
	"avax":    "avalanche",
	"bnb":     "bsc",
	"xdai":    "gnosis",
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.EVMChainID] = chain
	}
	return out
}()

// Token metadata is chain independent except for decimals on BSC, where
// bridged stables use 18 decimals.
var tokenBySymbol = map[string]Token{
	"USDC": {Symbol: "USDC", Decimals: 6},
	"USDT": {Symbol: "USDT", Decimals: 6},
	"DAI":  {Symbol: "DAI", Decimals: 18},
	"WETH": {Symbol: "WETH", Decimals: 18},
	"ETH":  {Symbol: "ETH", Decimals: 18, Native: true},
}

var decimalsOverride = map[string]map[string]int{
	"bsc": {"USDC": 18, "USDT": 18},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if alias, ok := chainAliases[norm]; ok {
		norm = alias
	}
	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	var chainID int64
	switch {
	case eip155ChainPattern.MatchString(norm):
		chainID, _ = strconv.ParseInt(strings.TrimPrefix(norm, "eip155:"), 10, 64)
	default:
		n, err := strconv.ParseInt(norm, 10, 64)
		if err != nil {
			return Chain{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unsupported chain input: %s", input))
		}
		chainID = n
	}
	if chain, ok := chainByID[chainID]; ok {
		return chain, nil
	}
	return Chain{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unsupported chain id: %d", chainID))
}

// Chains returns the known chains sorted by EVM chain id.
func Chains() []Chain {
	out := make([]Chain, 0, len(chainBySlug))
	for _, chain := range chainBySlug {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EVMChainID < out[j].EVMChainID })
	return out
}

// ParseToken normalizes a token symbol and resolves its decimals on the chain.
// Native gas tokens other than ETH resolve through the chain's native symbol.
func ParseToken(input string, chain Chain) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	symbol := strings.ToUpper(raw)
	if evmAddressPattern.MatchString(raw) {
		return Token{}, clierr.New(clierr.CodeUsage, "token must be a symbol; provider tables resolve addresses per chain")
	}
	if symbol == chain.NativeSymbol {
		return Token{Symbol: symbol, Decimals: 18, Native: true}, nil
	}
	token, ok := tokenBySymbol[symbol]
	if !ok {
		return Token{}, clierr.New(clierr.CodeUnsupportedAsset, fmt.Sprintf("unsupported token %s", symbol))
	}
	if token.Native && chain.NativeSymbol != token.Symbol {
		return Token{}, clierr.New(clierr.CodeUnsupportedAsset, fmt.Sprintf("%s is not the native asset on %s", symbol, chain.Slug))
	}
	if dec, ok := decimalsOverride[chain.Slug][symbol]; ok {
		token.Decimals = dec
	}
	return token, nil
}

// IsNativeAddress reports whether address is the native gas token sentinel.
func IsNativeAddress(address string) bool {
	return strings.EqualFold(strings.TrimSpace(address), NativeAddress)
}

func IsAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}
