package registry

import (
	"sort"
	"strings"
)

// Provider names used as stable identifiers in quotes, records and config.
const (
	ProviderStargate = "stargate"
	ProviderHop      = "hop"
	ProviderAcross   = "across"
	ProviderSocket   = "socket"
)

// Default scores for providers without a curated profile.
const (
	DefaultReliability = 5.0
	DefaultLiquidity   = 5.0
)

// Contracts groups the addresses a protocol uses for one token on one chain.
type Contracts struct {
	// Entrypoint receives the transfer call and is the ERC-20 spender.
	Entrypoint string
	// Quoter answers fee reads. Empty means Entrypoint.
	Quoter string
	// Receiver emits the completion event when this chain is the destination.
	Receiver string
	// Target is the address a completion event names as its addressee.
	Target string
}

func (c Contracts) QuoterAddress() string {
	if strings.TrimSpace(c.Quoter) != "" {
		return c.Quoter
	}
	return c.Entrypoint
}

// CompletionEvent describes the destination-side log that proves a transfer landed.
type CompletionEvent struct {
	ABI  string
	Name string
	// SourceChainArg names the event argument carrying the protocol source chain id.
	SourceChainArg string
	// ImpliedSource is the only source chain slug the event can report when
	// SourceChainArg is empty.
	ImpliedSource string
	// RecipientArg names an argument that must equal the transfer recipient.
	RecipientArg string
	// TargetArg names an address argument that must equal the destination
	// chain's Target contract.
	TargetArg string
	// SourceEvent is emitted by the source chain Receiver and carries the
	// transfer id under TransferIDArg. The completion event must carry the
	// same id under the same argument name.
	SourceEvent   string
	TransferIDArg string
}

// AppliesTo reports whether the event can prove transfers from source.
func (e CompletionEvent) AppliesTo(source string) bool {
	return e.ImpliedSource == "" || strings.EqualFold(e.ImpliedSource, source)
}

// Descriptor is the immutable table for one bridge protocol.
type Descriptor struct {
	Name        string
	Kind        string
	Website     string
	ChainIDs    map[string]uint64
	Tokens      map[string]map[string]string
	Contracts   map[string]map[string]Contracts
	PoolIDs     map[string]uint64
	FeeBps      int64
	Minutes     map[string]int
	DefaultMins int
	Reliability float64
	Liquidity   float64
	// Completions are tried in order; the first that applies to the
	// transfer's source chain is used.
	Completions []CompletionEvent
}

const (
	KindOnchain    = "onchain"
	KindAggregator = "aggregator"
)

// CompletionFor picks the completion event that proves transfers from source.
func (d Descriptor) CompletionFor(source string) (CompletionEvent, bool) {
	for _, e := range d.Completions {
		if e.AppliesTo(source) {
			return e, true
		}
	}
	return CompletionEvent{}, false
}

// ProtocolChainID maps a chain slug to the id the protocol uses on the wire.
func (d Descriptor) ProtocolChainID(slug string) (uint64, bool) {
	v, ok := d.ChainIDs[slug]
	return v, ok
}

// SlugForProtocolChainID is the inverse of ProtocolChainID.
func (d Descriptor) SlugForProtocolChainID(chainID uint64) (string, bool) {
	for slug, v := range d.ChainIDs {
		if v == chainID {
			return slug, true
		}
	}
	return "", false
}

func (d Descriptor) TokenAddress(symbol, slug string) (string, bool) {
	byChain, ok := d.Tokens[strings.ToUpper(symbol)]
	if !ok {
		return "", false
	}
	addr, ok := byChain[slug]
	return addr, ok
}

func (d Descriptor) ContractsFor(symbol, slug string) (Contracts, bool) {
	byChain, ok := d.Contracts[strings.ToUpper(symbol)]
	if !ok {
		return Contracts{}, false
	}
	c, ok := byChain[slug]
	return c, ok
}

// SupportsRoute is true only when both chains are mapped and the token has an
// address on both of them.
func (d Descriptor) SupportsRoute(source, destination, symbol string) bool {
	if source == destination {
		return false
	}
	if _, ok := d.ChainIDs[source]; !ok {
		return false
	}
	if _, ok := d.ChainIDs[destination]; !ok {
		return false
	}
	if _, ok := d.TokenAddress(symbol, source); !ok {
		return false
	}
	_, ok := d.TokenAddress(symbol, destination)
	return ok
}

// EstimatedMinutes looks up the chain-pair table and falls back to the
// protocol default for pairs that are not tabulated.
func (d Descriptor) EstimatedMinutes(source, destination string) int {
	if v, ok := d.Minutes[source+">"+destination]; ok {
		return v
	}
	return d.DefaultMins
}

// Chains returns the chain slugs the protocol is deployed on, sorted.
func (d Descriptor) Chains() []string {
	out := make([]string, 0, len(d.ChainIDs))
	for slug := range d.ChainIDs {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// TokenSymbols returns the token symbols the protocol carries, sorted.
func (d Descriptor) TokenSymbols() []string {
	out := make([]string, 0, len(d.Tokens))
	for symbol := range d.Tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

var descriptors = map[string]Descriptor{
	ProviderStargate: stargateDescriptor(),
	ProviderHop:      hopDescriptor(),
	ProviderAcross:   acrossDescriptor(),
	ProviderSocket:   socketDescriptor(),
}

// Lookup returns the descriptor for a provider name.
func Lookup(name string) (Descriptor, bool) {
	d, ok := descriptors[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Descriptors returns every descriptor sorted by provider name.
func Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Profile returns the curated reliability and liquidity scores for a provider.
func Profile(name string) (reliability, liquidity float64) {
	d, ok := Lookup(name)
	if !ok || d.Reliability <= 0 {
		return DefaultReliability, DefaultLiquidity
	}
	return d.Reliability, d.Liquidity
}
