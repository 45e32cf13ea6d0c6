package providers

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// Adapter is the uniform capability every bridge protocol exposes.
type Adapter interface {
	Provider
	Name() string
	// SupportsRoute is true only if both chains are mapped and the token has
	// an address on both of them.
	SupportsRoute(source, destination, token string) bool
	// GetRoute quotes a transfer. It reads live fees and never mutates state.
	GetRoute(ctx context.Context, req RouteRequest) (model.RouteQuote, error)
	// QuoteMessagingFee reads the native-asset fee needed to submit req.
	QuoteMessagingFee(ctx context.Context, req TransferRequest) (*big.Int, error)
	// Spender returns the address that must hold an ERC-20 allowance, or
	// false for native transfers.
	Spender(ctx context.Context, req TransferRequest) (common.Address, bool, error)
	// BuildTransfer prepares the value-moving call without sending it.
	BuildTransfer(ctx context.Context, req TransferRequest) (chain.TxRequest, error)
	// ExecuteBridge ensures allowance, submits the transfer and returns a
	// pending record.
	ExecuteBridge(ctx context.Context, req TransferRequest, tx chain.Transactor) (model.BridgeRecord, error)
	EstimatedTime(source, destination string) int
}

type RouteRequest struct {
	Source      id.Chain
	Destination id.Chain
	Token       id.Token
	Amount      *big.Int
	// Sender is optional; quotes use a placeholder account when empty.
	Sender string
}

type TransferRequest struct {
	Quote        model.RouteQuote
	Sender       common.Address
	Recipient    common.Address
	MinAmountOut *big.Int
	// SlippagePercent mirrors MinAmountOut for APIs that take a percentage.
	SlippagePercent float64
	// MessagingFee is the native fee to attach. Nil means quote it live.
	MessagingFee *big.Int
	Now          time.Time
}

// Amount is the quoted transfer amount in base units.
func (r TransferRequest) Amount() *big.Int {
	return r.Quote.Amount.BaseUnits()
}

func (r TransferRequest) Native() bool {
	return id.IsNativeAddress(r.Quote.Details.SourceToken)
}

// At is the request time used for deadlines and record timestamps.
func (r TransferRequest) At() time.Time {
	if r.Now.IsZero() {
		return time.Now().UTC()
	}
	return r.Now
}

// PlaceholderAccount stands in for the user when quoting without a sender.
const PlaceholderAccount = "0x0000000000000000000000000000000000000001"

// ProtocolFee is amount * bps / 10000, rounded down.
func ProtocolFee(amount *big.Int, bps int64) *big.Int {
	if amount == nil || bps <= 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Quo(fee, big.NewInt(10_000))
}

func AmountInfo(v *big.Int, decimals int, symbol string) model.AmountInfo {
	if v == nil {
		v = new(big.Int)
	}
	return model.AmountInfo{
		AmountBaseUnits: v.String(),
		AmountDecimal:   id.FormatAmount(v, decimals),
		Decimals:        decimals,
		Symbol:          symbol,
	}
}
