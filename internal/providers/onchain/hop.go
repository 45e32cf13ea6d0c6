package onchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

var (
	hopL1BridgeABI     = chain.MustParseABI(registry.HopL1BridgeABI)
	hopL2AmmWrapperABI = chain.MustParseABI(registry.HopL2AmmWrapperABI)
	hopL2BridgeABI     = chain.MustParseABI(registry.HopL2BridgeABI)
)

const (
	hopL1 = "ethereum"
	// Swap deadline on the source AMM and the bonded swap on the destination.
	hopSourceDeadline      = time.Hour
	hopDestinationDeadline = 7 * 24 * time.Hour
)

// hop sends from Ethereum through the L1 bridge and from rollups through the
// AMM wrapper, which pays a bonder in the bridged token.
type hop struct{}

func NewHop(backends chain.Backends, log zerolog.Logger) *Adapter {
	d, _ := registry.Lookup(registry.ProviderHop)
	return New(d, hop{}, backends, log)
}

func (hop) Quote(ctx context.Context, r Route, req providers.RouteRequest, q *model.RouteQuote) error {
	if req.Source.Slug == hopL1 {
		return nil
	}
	fee, err := hopBonderFee(ctx, r, req.Amount)
	if err != nil {
		return err
	}
	q.Details.RelayerFee = fee.String()
	return nil
}

// hopBonderFee is max(amount * minBonderBps / 10000, minBonderFeeAbsolute).
func hopBonderFee(ctx context.Context, r Route, amount *big.Int) (*big.Int, error) {
	bridge := common.HexToAddress(r.Source.QuoterAddress())
	bps, err := callSingleUint(ctx, r.Backend, bridge, "minBonderBps")
	if err != nil {
		return nil, err
	}
	absolute, err := callSingleUint(ctx, r.Backend, bridge, "minBonderFeeAbsolute")
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(amount, bps)
	fee.Quo(fee, big.NewInt(10_000))
	if fee.Cmp(absolute) < 0 {
		fee.Set(absolute)
	}
	return fee, nil
}

func callSingleUint(ctx context.Context, backend chain.Backend, to common.Address, method string) (*big.Int, error) {
	values, err := chain.CallView(ctx, backend, hopL2BridgeABI, to, method)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

// Hop charges in the bridged token, so there is no native messaging fee.
func (hop) MessagingFee(context.Context, Route, model.RouteQuote, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (hop) Calldata(r Route, req providers.TransferRequest) (chain.TxRequest, error) {
	q := req.Quote
	at := req.At()
	dstChainID := new(big.Int).SetUint64(q.Details.DestinationChainID)
	to := common.HexToAddress(r.Source.Entrypoint)

	var (
		data []byte
		err  error
	)
	if q.SourceChain == hopL1 {
		data, err = hopL1BridgeABI.Pack("sendToL2",
			dstChainID,
			req.Recipient,
			req.Amount(),
			req.MinAmountOut,
			big.NewInt(at.Add(hopDestinationDeadline).Unix()),
			common.Address{},
			new(big.Int),
		)
	} else {
		bonderFee, ok := new(big.Int).SetString(q.Details.RelayerFee, 10)
		if !ok {
			return chain.TxRequest{}, fmt.Errorf("quote is missing the hop bonder fee")
		}
		destMin := new(big.Int).Sub(req.MinAmountOut, bonderFee)
		if destMin.Sign() < 0 {
			destMin.SetInt64(0)
		}
		destDeadline := big.NewInt(at.Add(hopDestinationDeadline).Unix())
		if q.DestinationChain == hopL1 {
			// Withdrawals to L1 are not swapped on arrival.
			destMin.SetInt64(0)
			destDeadline.SetInt64(0)
		}
		data, err = hopL2AmmWrapperABI.Pack("swapAndSend",
			dstChainID,
			req.Recipient,
			req.Amount(),
			bonderFee,
			req.MinAmountOut,
			big.NewInt(at.Add(hopSourceDeadline).Unix()),
			destMin,
			destDeadline,
		)
	}
	if err != nil {
		return chain.TxRequest{}, err
	}
	return chain.TxRequest{To: to, Data: data, Value: nativeValue(req)}, nil
}
