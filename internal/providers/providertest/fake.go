// Package providertest provides a scriptable providers.Adapter for tests.
package providertest

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
)

type Fake struct {
	ProviderName string
	// Supported defaults to every route when nil.
	Supported func(source, destination, token string) bool
	// Quote overrides the default quote when set.
	Quote func(ctx context.Context, req providers.RouteRequest) (model.RouteQuote, error)

	// SourceToken is the token address put on default quotes.
	SourceToken  string
	NativeFee    *big.Int
	ProtocolFee  *big.Int
	Minutes      int
	MessagingFee *big.Int
	FeeErr       error
	// SpenderAddr is the allowance target; zero means none is needed.
	SpenderAddr common.Address
	Target      common.Address
	Calldata    []byte

	calls atomic.Int32
}

func (f *Fake) Calls() int { return int(f.calls.Load()) }

func (f *Fake) Name() string { return f.ProviderName }

func (f *Fake) Info() model.ProviderInfo {
	return model.ProviderInfo{Name: f.ProviderName, Type: "fake", Capabilities: []string{"bridge.quote", "bridge.execute"}}
}

func (f *Fake) SupportsRoute(source, destination, token string) bool {
	if f.Supported == nil {
		return source != destination
	}
	return f.Supported(source, destination, token)
}

func (f *Fake) EstimatedTime(string, string) int { return f.Minutes }

func (f *Fake) GetRoute(ctx context.Context, req providers.RouteRequest) (model.RouteQuote, error) {
	f.calls.Add(1)
	if f.Quote != nil {
		return f.Quote(ctx, req)
	}
	return f.DefaultQuote(req), nil
}

// DefaultQuote builds a quote from the Fake's fee settings.
func (f *Fake) DefaultQuote(req providers.RouteRequest) model.RouteQuote {
	nativeFee := orZero(f.NativeFee)
	protocolFee := orZero(f.ProtocolFee)
	out := new(big.Int).Sub(req.Amount, protocolFee)
	token := f.SourceToken
	if token == "" {
		token = id.NativeAddress
	}
	now := time.Now().UTC()
	return model.RouteQuote{
		Provider:         f.ProviderName,
		SourceChain:      req.Source.Slug,
		DestinationChain: req.Destination.Slug,
		Token:            req.Token.Symbol,
		Amount:           providers.AmountInfo(req.Amount, req.Token.Decimals, req.Token.Symbol),
		NativeFee:        providers.AmountInfo(nativeFee, 18, req.Source.NativeSymbol),
		ProtocolFee:      providers.AmountInfo(protocolFee, req.Token.Decimals, req.Token.Symbol),
		EstimatedOut:     providers.AmountInfo(out, req.Token.Decimals, req.Token.Symbol),
		EstimatedMinutes: f.Minutes,
		Details: model.RouteDetails{
			SourceToken:        token,
			DestinationToken:   token,
			SourceChainID:      uint64(req.Source.EVMChainID),
			DestinationChainID: uint64(req.Destination.EVMChainID),
			Entrypoint:         f.Target.Hex(),
		},
		QuotedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func (f *Fake) QuoteMessagingFee(context.Context, providers.TransferRequest) (*big.Int, error) {
	if f.FeeErr != nil {
		return nil, f.FeeErr
	}
	return orZero(f.MessagingFee), nil
}

func (f *Fake) Spender(_ context.Context, req providers.TransferRequest) (common.Address, bool, error) {
	if req.Native() || f.SpenderAddr == (common.Address{}) {
		return common.Address{}, false, nil
	}
	return f.SpenderAddr, true, nil
}

func (f *Fake) BuildTransfer(_ context.Context, req providers.TransferRequest) (chain.TxRequest, error) {
	value := orZero(req.MessagingFee)
	if req.Native() {
		value.Add(value, req.Amount())
	}
	data := f.Calldata
	if data == nil {
		data = []byte{0x01}
	}
	return chain.TxRequest{To: f.Target, Data: data, Value: value}, nil
}

func (f *Fake) ExecuteBridge(ctx context.Context, req providers.TransferRequest, tx chain.Transactor) (model.BridgeRecord, error) {
	return providers.ExecuteTransfer(ctx, f, req, tx)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

var _ providers.Adapter = (*Fake)(nil)
