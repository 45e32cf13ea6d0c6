// Package onchain implements bridge adapters that talk to protocol contracts
// directly. One generic Adapter is driven by a registry descriptor plus a
// small Protocol strategy that knows the protocol's fee read and calldata.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/chain"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

// DefaultQuoteTTL bounds how long a quote may be executed after it was read.
const DefaultQuoteTTL = 5 * time.Minute

// Route is what a Protocol sees when quoting or building a call.
type Route struct {
	Descriptor  registry.Descriptor
	Source      registry.Contracts
	Destination registry.Contracts
	Backend     chain.Backend
}

// Protocol is the per-bridge part of an on-chain adapter.
type Protocol interface {
	// Quote fills protocol details such as pool ids or token-denominated
	// relayer fees.
	Quote(ctx context.Context, r Route, req providers.RouteRequest, q *model.RouteQuote) error
	// MessagingFee reads the native fee for sending to recipient.
	MessagingFee(ctx context.Context, r Route, q model.RouteQuote, recipient common.Address) (*big.Int, error)
	// Calldata builds the transfer call.
	Calldata(r Route, req providers.TransferRequest) (chain.TxRequest, error)
}

type Adapter struct {
	desc     registry.Descriptor
	protocol Protocol
	backends chain.Backends
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func New(desc registry.Descriptor, protocol Protocol, backends chain.Backends, log zerolog.Logger) *Adapter {
	return &Adapter{
		desc:     desc,
		protocol: protocol,
		backends: backends,
		ttl:      DefaultQuoteTTL,
		now:      time.Now,
		log:      log.With().Str("provider", desc.Name).Logger(),
	}
}

func (a *Adapter) Name() string { return a.desc.Name }

func (a *Adapter) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name: a.desc.Name,
		Type: a.desc.Kind,
		Capabilities: []string{
			"bridge.quote",
			"bridge.execute",
			"bridge.status",
		},
		Chains:  a.desc.Chains(),
		Tokens:  a.desc.TokenSymbols(),
		FeeBps:  a.desc.FeeBps,
		Website: a.desc.Website,
	}
}

func (a *Adapter) SupportsRoute(source, destination, token string) bool {
	return a.desc.SupportsRoute(source, destination, token)
}

func (a *Adapter) EstimatedTime(source, destination string) int {
	return a.desc.EstimatedMinutes(source, destination)
}

func (a *Adapter) contracts(source, destination, symbol string) (Route, error) {
	src, ok := a.desc.ContractsFor(symbol, source)
	if !ok {
		return Route{}, a.unsupported(symbol, source)
	}
	dst, ok := a.desc.ContractsFor(symbol, destination)
	if !ok {
		return Route{}, a.unsupported(symbol, destination)
	}
	return Route{Descriptor: a.desc, Source: src, Destination: dst}, nil
}

// route resolves contracts and connects to the source chain.
func (a *Adapter) route(ctx context.Context, source, destination, symbol string) (Route, error) {
	r, err := a.contracts(source, destination, symbol)
	if err != nil {
		return Route{}, err
	}
	sourceChain, err := id.ParseChain(source)
	if err != nil {
		return Route{}, err
	}
	backend, err := a.backends.Backend(ctx, sourceChain)
	if err != nil {
		return Route{}, clierr.Wrap(clierr.CodeUnavailable, a.desc.Name+": connect "+source, err)
	}
	r.Backend = backend
	return r, nil
}

func (a *Adapter) unsupported(symbol, slug string) error {
	return clierr.New(clierr.CodeUnsupportedAsset, fmt.Sprintf("%s: %s is not supported on %s", a.desc.Name, strings.ToUpper(symbol), slug))
}

func (a *Adapter) GetRoute(ctx context.Context, req providers.RouteRequest) (model.RouteQuote, error) {
	source, destination, symbol := req.Source.Slug, req.Destination.Slug, req.Token.Symbol
	srcToken, ok := a.desc.TokenAddress(symbol, source)
	if !ok {
		return model.RouteQuote{}, a.unsupported(symbol, source)
	}
	dstToken, ok := a.desc.TokenAddress(symbol, destination)
	if !ok {
		return model.RouteQuote{}, a.unsupported(symbol, destination)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return model.RouteQuote{}, clierr.New(clierr.CodeInvalidRequest, "amount must be greater than zero")
	}
	srcID, ok := a.desc.ProtocolChainID(source)
	if !ok {
		return model.RouteQuote{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("%s: %s is not supported", a.desc.Name, source))
	}
	dstID, ok := a.desc.ProtocolChainID(destination)
	if !ok {
		return model.RouteQuote{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("%s: %s is not supported", a.desc.Name, destination))
	}
	r, err := a.route(ctx, source, destination, symbol)
	if err != nil {
		return model.RouteQuote{}, err
	}

	now := a.now().UTC()
	protocolFee := providers.ProtocolFee(req.Amount, a.desc.FeeBps)
	q := model.RouteQuote{
		Provider:         a.desc.Name,
		SourceChain:      source,
		DestinationChain: destination,
		Token:            req.Token.Symbol,
		Amount:           providers.AmountInfo(req.Amount, req.Token.Decimals, req.Token.Symbol),
		ProtocolFee:      providers.AmountInfo(protocolFee, req.Token.Decimals, req.Token.Symbol),
		EstimatedMinutes: a.desc.EstimatedMinutes(source, destination),
		Details: model.RouteDetails{
			SourceToken:        srcToken,
			DestinationToken:   dstToken,
			SourceChainID:      srcID,
			DestinationChainID: dstID,
			Entrypoint:         r.Source.Entrypoint,
		},
		QuotedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if !id.IsNativeAddress(srcToken) {
		q.Details.Spender = r.Source.Entrypoint
	}
	if err := a.protocol.Quote(ctx, r, req, &q); err != nil {
		return model.RouteQuote{}, a.feeFailure(err)
	}

	recipient := common.HexToAddress(providers.PlaceholderAccount)
	if common.IsHexAddress(req.Sender) {
		recipient = common.HexToAddress(req.Sender)
	}
	nativeFee, err := a.protocol.MessagingFee(ctx, r, q, recipient)
	if err != nil {
		return model.RouteQuote{}, a.feeFailure(err)
	}
	q.NativeFee = providers.AmountInfo(nativeFee, 18, req.Source.NativeSymbol)

	out := new(big.Int).Sub(req.Amount, protocolFee)
	if relayer, ok := new(big.Int).SetString(q.Details.RelayerFee, 10); ok {
		out.Sub(out, relayer)
	}
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	q.EstimatedOut = providers.AmountInfo(out, req.Token.Decimals, req.Token.Symbol)

	a.log.Debug().
		Str("source", source).
		Str("destination", destination).
		Str("token", symbol).
		Str("native_fee", nativeFee.String()).
		Msg("quoted route")
	return q, nil
}

func (a *Adapter) feeFailure(err error) error {
	if clierr.HasCode(err, clierr.CodeUnsupportedAsset) || clierr.HasCode(err, clierr.CodeUnsupportedChain) {
		return err
	}
	return clierr.Wrap(clierr.CodeFeeQuoteFailure, a.desc.Name+": fee quote failed", err)
}

func (a *Adapter) QuoteMessagingFee(ctx context.Context, req providers.TransferRequest) (*big.Int, error) {
	q := req.Quote
	r, err := a.route(ctx, q.SourceChain, q.DestinationChain, q.Token)
	if err != nil {
		return nil, err
	}
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = req.Sender
	}
	fee, err := a.protocol.MessagingFee(ctx, r, q, recipient)
	if err != nil {
		return nil, a.feeFailure(err)
	}
	return fee, nil
}

func (a *Adapter) Spender(_ context.Context, req providers.TransferRequest) (common.Address, bool, error) {
	if req.Native() {
		return common.Address{}, false, nil
	}
	c, ok := a.desc.ContractsFor(req.Quote.Token, req.Quote.SourceChain)
	if !ok {
		return common.Address{}, false, a.unsupported(req.Quote.Token, req.Quote.SourceChain)
	}
	return common.HexToAddress(c.Entrypoint), true, nil
}

func (a *Adapter) BuildTransfer(_ context.Context, req providers.TransferRequest) (chain.TxRequest, error) {
	q := req.Quote
	r, err := a.contracts(q.SourceChain, q.DestinationChain, q.Token)
	if err != nil {
		return chain.TxRequest{}, err
	}
	if req.MinAmountOut == nil {
		return chain.TxRequest{}, clierr.New(clierr.CodeInvalidRequest, "minimum amount out is required")
	}
	if req.MessagingFee == nil {
		req.MessagingFee = new(big.Int)
	}
	call, err := a.protocol.Calldata(r, req)
	if err != nil {
		return chain.TxRequest{}, clierr.Wrap(clierr.CodeInternal, a.desc.Name+": build transfer", err)
	}
	return call, nil
}

func (a *Adapter) ExecuteBridge(ctx context.Context, req providers.TransferRequest, tx chain.Transactor) (model.BridgeRecord, error) {
	return providers.ExecuteTransfer(ctx, a, req, tx)
}

// nativeValue is amount + fee for native transfers and fee alone otherwise.
func nativeValue(req providers.TransferRequest) *big.Int {
	v := new(big.Int).Set(req.MessagingFee)
	if req.Native() {
		v.Add(v, req.Amount())
	}
	return v
}

var _ providers.Adapter = (*Adapter)(nil)
