package execution

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
	"github.com/ggonzalez94/xbridge/internal/execution/signer"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
	"github.com/ggonzalez94/xbridge/internal/relay"
)

// DefaultReserveGasUnits is the extra gas budgeted on top of the messaging
// fee when checking the sender can pay for submission.
const DefaultReserveGasUnits uint64 = 300_000

// AdapterSource resolves the adapter that produced a quote.
type AdapterSource interface {
	Adapter(name string) (providers.Adapter, bool)
}

// Relayer submits a signed call on the sender's behalf.
type Relayer interface {
	Submit(ctx context.Context, s relay.MessageSigner, call relay.Call) (common.Hash, error)
}

// RecordSaver persists submitted records.
type RecordSaver interface {
	Save(ctx context.Context, rec model.BridgeRecord) error
}

type Options struct {
	Send            chain.SendOptions
	ReserveGasUnits uint64
	Relayer         Relayer
	Store           RecordSaver
	// OnSubmitted receives every pending record, typically to start monitoring.
	OnSubmitted func(model.BridgeRecord)
}

type Engine struct {
	adapters AdapterSource
	backends chain.Backends
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
}

type Request struct {
	Quote           model.RouteQuote
	Recipient       common.Address
	SlippagePercent float64
	FeeMode         string
}

func NewEngine(adapters AdapterSource, backends chain.Backends, opts Options, log zerolog.Logger) *Engine {
	if opts.ReserveGasUnits == 0 {
		opts.ReserveGasUnits = DefaultReserveGasUnits
	}
	return &Engine{
		adapters: adapters,
		backends: backends,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "execution").Logger(),
	}
}

// Execute validates and submits one quoted transfer. Every returned error
// carries a bridge taxonomy code.
func (e *Engine) Execute(ctx context.Context, req Request, s signer.Signer) (model.BridgeRecord, error) {
	if s == nil {
		return model.BridgeRecord{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	q := req.Quote
	adapter, source, err := e.validate(q)
	if err != nil {
		return model.BridgeRecord{}, err
	}
	amount := q.Amount.BaseUnits()

	minOut, err := MinAmountOut(amount, req.SlippagePercent)
	if err != nil {
		return model.BridgeRecord{}, err
	}

	backend, err := e.backends.Backend(ctx, source)
	if err != nil {
		return model.BridgeRecord{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("connect %s", source.Slug), err)
	}
	sender := s.Address()
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = sender
	}
	treq := providers.TransferRequest{
		Quote:           q,
		Sender:          sender,
		Recipient:       recipient,
		MinAmountOut:    minOut,
		SlippagePercent: req.SlippagePercent,
		Now:             e.now(),
	}

	if err := e.checkBalance(ctx, backend, treq); err != nil {
		return model.BridgeRecord{}, err
	}

	fee, err := adapter.QuoteMessagingFee(ctx, treq)
	if err != nil {
		if _, ok := clierr.As(err); ok {
			return model.BridgeRecord{}, Classify(adapter.Name(), err)
		}
		return model.BridgeRecord{}, clierr.Wrap(clierr.CodeFeeQuoteFailure, adapter.Name()+": messaging fee quote failed", err)
	}
	treq.MessagingFee = fee

	relayed := e.useRelay(q, req.FeeMode, treq.Native())
	if !relayed {
		if err := e.checkGas(ctx, backend, treq); err != nil {
			return model.BridgeRecord{}, err
		}
	}

	wallet := chain.NewWallet(backend, s, e.opts.Send)
	var rec model.BridgeRecord
	if relayed {
		rec, err = e.executeRelayed(ctx, adapter, treq, source, wallet, s)
	} else {
		rec, err = adapter.ExecuteBridge(ctx, treq, wallet)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("provider", adapter.Name()).Msg("bridge execution failed")
		return model.BridgeRecord{}, Classify(adapter.Name(), err)
	}

	e.log.Info().
		Str("record", rec.ID).
		Str("provider", rec.Provider).
		Str("tx", rec.SourceTxHash).
		Bool("relayed", rec.Relayed).
		Msg("bridge transfer submitted")
	if e.opts.Store != nil {
		if err := e.opts.Store.Save(ctx, rec); err != nil {
			e.log.Error().Err(err).Str("record", rec.ID).Msg("persist record failed")
		}
	}
	if e.opts.OnSubmitted != nil {
		e.opts.OnSubmitted(rec)
	}
	return rec, nil
}

func (e *Engine) validate(q model.RouteQuote) (providers.Adapter, id.Chain, error) {
	amount := q.Amount.BaseUnits()
	if amount.Sign() <= 0 {
		return nil, id.Chain{}, clierr.New(clierr.CodeInvalidRequest, "amount must be greater than zero")
	}
	source, err := id.ParseChain(q.SourceChain)
	if err != nil {
		return nil, id.Chain{}, clierr.Wrap(clierr.CodeInvalidRequest, "invalid source chain", err)
	}
	destination, err := id.ParseChain(q.DestinationChain)
	if err != nil {
		return nil, id.Chain{}, clierr.Wrap(clierr.CodeInvalidRequest, "invalid destination chain", err)
	}
	if source.Slug == destination.Slug {
		return nil, id.Chain{}, clierr.New(clierr.CodeInvalidRequest, "source and destination chains must differ")
	}
	adapter, ok := e.adapters.Adapter(q.Provider)
	if !ok {
		return nil, id.Chain{}, clierr.New(clierr.CodeInvalidRequest, fmt.Sprintf("unknown provider %q", q.Provider))
	}
	if !adapter.SupportsRoute(source.Slug, destination.Slug, q.Token) || strings.TrimSpace(q.Details.SourceToken) == "" {
		return nil, id.Chain{}, clierr.New(clierr.CodeInvalidRequest, fmt.Sprintf("%s cannot resolve %s on %s and %s", adapter.Name(), q.Token, source.Slug, destination.Slug))
	}
	if q.Expired(e.now()) {
		return nil, id.Chain{}, clierr.New(clierr.CodeInvalidRequest, "quote expired; request a new route")
	}
	return adapter, source, nil
}

// checkBalance runs before any fee read so a short balance fails fast.
func (e *Engine) checkBalance(ctx context.Context, backend chain.Backend, req providers.TransferRequest) error {
	amount := req.Amount()
	var (
		balance *big.Int
		err     error
	)
	if req.Native() {
		balance, err = chain.NativeBalance(ctx, backend, req.Sender)
	} else {
		balance, err = chain.TokenBalance(ctx, backend, common.HexToAddress(req.Quote.Details.SourceToken), req.Sender)
	}
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read sender balance", err)
	}
	if balance.Cmp(amount) >= 0 {
		return nil
	}
	shortfall := new(big.Int).Sub(amount, balance)
	decimals := req.Quote.Amount.Decimals
	return clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf("insufficient %s balance: short by %s", req.Quote.Token, id.FormatAmount(shortfall, decimals))).
		WithDetail("shortfall", shortfall.String()).
		WithDetail("shortfall_decimal", id.FormatAmount(shortfall, decimals)).
		WithDetail("balance", balance.String()).
		WithDetail("required", amount.String())
}

// checkGas requires messaging fee + reserve gas (+ amount for native
// transfers) in the sender's native balance.
func (e *Engine) checkGas(ctx context.Context, backend chain.Backend, req providers.TransferRequest) error {
	feeCap, err := chain.FeeCap(ctx, backend)
	if err != nil {
		return err
	}
	gasReserve := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(e.opts.ReserveGasUnits))
	fee := req.MessagingFee
	if fee == nil {
		fee = new(big.Int)
	}
	required := new(big.Int).Add(fee, gasReserve)
	if req.Native() {
		required.Add(required, req.Amount())
	}
	balance, err := chain.NativeBalance(ctx, backend, req.Sender)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	if balance.Cmp(required) >= 0 {
		return nil
	}
	shortfall := new(big.Int).Sub(required, balance)
	return clierr.New(clierr.CodeInsufficientGas, fmt.Sprintf("insufficient native balance for messaging fee and gas: short by %s wei", shortfall)).
		WithDetail("shortfall_wei", shortfall.String()).
		WithDetail("messaging_fee_wei", fee.String()).
		WithDetail("gas_reserve_wei", gasReserve.String()).
		WithDetail("balance_wei", balance.String())
}

func (e *Engine) useRelay(q model.RouteQuote, feeMode string, native bool) bool {
	if native || e.opts.Relayer == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(feeMode), model.FeeModeToken) {
		return false
	}
	return registry.GaslessSupported(q.Provider, q.SourceChain, q.Token)
}

// executeRelayed routes the approval (if needed) and the transfer through the
// relay. The approval must be mined before the transfer is handed over.
func (e *Engine) executeRelayed(ctx context.Context, adapter providers.Adapter, req providers.TransferRequest, source id.Chain, wallet chain.Transactor, s signer.Signer) (model.BridgeRecord, error) {
	token := common.HexToAddress(req.Quote.Details.SourceToken)
	var approvalHash string
	spender, needed, err := adapter.Spender(ctx, req)
	if err != nil {
		return model.BridgeRecord{}, err
	}
	if needed {
		current, err := chain.Allowance(ctx, wallet.Backend(), token, req.Sender, spender)
		if err != nil {
			return model.BridgeRecord{}, clierr.Wrap(clierr.CodeUnavailable, "read token allowance", err)
		}
		if current.Cmp(req.Amount()) < 0 {
			data, err := chain.ApproveCalldata(spender, chain.MaxUint256)
			if err != nil {
				return model.BridgeRecord{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
			}
			hash, err := e.opts.Relayer.Submit(ctx, s, relay.Call{ChainID: source.EVMChainID, Target: token, Data: data, Value: new(big.Int), FeeToken: token})
			if err != nil {
				return model.BridgeRecord{}, clierr.Wrap(clierr.CodeAllowanceFailure, adapter.Name()+": relayed approval", err)
			}
			approvalHash = hash.Hex()
			if _, err := wallet.WaitReceipt(ctx, hash); err != nil {
				return model.BridgeRecord{}, clierr.Wrap(clierr.CodeAllowanceFailure, adapter.Name()+": relayed approval did not confirm", err).WithDetail("approval_tx_hash", approvalHash)
			}
			e.log.Info().Str("provider", adapter.Name()).Str("tx", approvalHash).Msg("relayed approval confirmed")
		}
	}

	call, err := adapter.BuildTransfer(ctx, req)
	if err != nil {
		return model.BridgeRecord{}, err
	}
	hash, err := e.opts.Relayer.Submit(ctx, s, relay.Call{ChainID: source.EVMChainID, Target: call.To, Data: call.Data, Value: call.Value, FeeToken: token})
	if err != nil {
		return model.BridgeRecord{}, err
	}
	rec := providers.NewRecord(req, hash.Hex())
	rec.ApprovalTxHash = approvalHash
	rec.Relayed = true
	return rec, nil
}
