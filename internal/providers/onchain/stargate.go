package onchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

var (
	stargateRouterABI    = chain.MustParseABI(registry.StargateRouterABI)
	stargateRouterETHABI = chain.MustParseABI(registry.StargateRouterETHABI)
)

// functionTypeSwapRemote is the LayerZero message type for a plain swap.
const functionTypeSwapRemote uint8 = 1

type lzTxObj struct {
	DstGasForCall   *big.Int
	DstNativeAmount *big.Int
	DstNativeAddr   []byte
}

func emptyLzTxObj() lzTxObj {
	return lzTxObj{DstGasForCall: new(big.Int), DstNativeAmount: new(big.Int), DstNativeAddr: []byte{}}
}

type stargate struct{}

func NewStargate(backends chain.Backends, log zerolog.Logger) *Adapter {
	d, _ := registry.Lookup(registry.ProviderStargate)
	return New(d, stargate{}, backends, log)
}

func (stargate) Quote(_ context.Context, r Route, _ providers.RouteRequest, q *model.RouteQuote) error {
	pool, ok := r.Descriptor.PoolIDs[q.Token]
	if !ok {
		return fmt.Errorf("no stargate pool for %s", q.Token)
	}
	q.Details.SourcePoolID = pool
	q.Details.DestinationPoolID = pool
	return nil
}

func (stargate) MessagingFee(ctx context.Context, r Route, q model.RouteQuote, recipient common.Address) (*big.Int, error) {
	values, err := chain.CallView(ctx, r.Backend, stargateRouterABI, common.HexToAddress(r.Source.QuoterAddress()), "quoteLayerZeroFee",
		uint16(q.Details.DestinationChainID),
		functionTypeSwapRemote,
		recipient.Bytes(),
		[]byte{},
		emptyLzTxObj(),
	)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("quoteLayerZeroFee returned no values")
	}
	fee, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quoteLayerZeroFee returned %T", values[0])
	}
	return fee, nil
}

func (stargate) Calldata(r Route, req providers.TransferRequest) (chain.TxRequest, error) {
	q := req.Quote
	dstID := uint16(q.Details.DestinationChainID)
	to := common.HexToAddress(r.Source.Entrypoint)
	var (
		data []byte
		err  error
	)
	if req.Native() {
		data, err = stargateRouterETHABI.Pack("swapETH", dstID, req.Sender, req.Recipient.Bytes(), req.Amount(), req.MinAmountOut)
	} else {
		data, err = stargateRouterABI.Pack("swap",
			dstID,
			new(big.Int).SetUint64(q.Details.SourcePoolID),
			new(big.Int).SetUint64(q.Details.DestinationPoolID),
			req.Sender,
			req.Amount(),
			req.MinAmountOut,
			emptyLzTxObj(),
			req.Recipient.Bytes(),
			[]byte{},
		)
	}
	if err != nil {
		return chain.TxRequest{}, err
	}
	return chain.TxRequest{To: to, Data: data, Value: nativeValue(req)}, nil
}
