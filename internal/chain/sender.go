package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

// TxSigner is the signing capability the sender needs.
type TxSigner interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Transactor submits transactions from one account on one chain.
type Transactor interface {
	Address() common.Address
	Backend() Backend
	Send(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type SendOptions struct {
	Simulate           bool
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultSendOptions() SendOptions {
	return SendOptions{
		Simulate:       true,
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

// Wallet is a Transactor backed by a local signer and a JSON-RPC backend.
type Wallet struct {
	backend Backend
	signer  TxSigner
	opts    SendOptions
}

func NewWallet(backend Backend, txSigner TxSigner, opts SendOptions) *Wallet {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	return &Wallet{backend: backend, signer: txSigner, opts: opts}
}

func (w *Wallet) Address() common.Address { return w.signer.Address() }

func (w *Wallet) Backend() Backend { return w.backend }

// Send simulates, prices, signs and broadcasts an EIP-1559 transaction.
func (w *Wallet) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	msg := ethereum.CallMsg{From: w.signer.Address(), To: &to, Value: value, Data: req.Data}

	if w.opts.Simulate {
		if _, err := w.backend.CallContract(ctx, msg, nil); err != nil {
			return common.Hash{}, revertError("simulate transaction (eth_call)", err)
		}
	}

	gasLimit, err := w.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, revertError("estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * w.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, w.backend, w.opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	baseFee, err := latestBaseFee(ctx, w.backend)
	if err != nil {
		return common.Hash{}, err
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, w.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.signer.Address())
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := w.signer.SignTx(chainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	return signed.Hash(), nil
}

// WaitReceipt polls until the receipt is available or the receipt timeout
// elapses. Polling errors are retried; a reverted receipt is returned together
// with an execution error.
func (w *Wallet) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := w.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, clierr.New(clierr.CodeExecutionFailure, "transaction reverted on-chain").WithDetail("tx_hash", hash.Hex())
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err()).WithDetail("tx_hash", hash.Hex())
		case <-ticker.C:
		}
	}
}

// FeeCap is the per-gas price the sender would currently bid.
func FeeCap(ctx context.Context, backend Backend) (*big.Int, error) {
	tipCap, err := resolveTipCap(ctx, backend, "")
	if err != nil {
		return nil, err
	}
	baseFee, err := latestBaseFee(ctx, backend)
	if err != nil {
		return nil, err
	}
	return resolveFeeCap(baseFee, tipCap, "")
}

func latestBaseFee(ctx context.Context, backend Backend) (*big.Int, error) {
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	if header.BaseFee == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return header.BaseFee, nil
}

func resolveTipCap(ctx context.Context, backend Backend, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := ParseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := ParseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func ParseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
