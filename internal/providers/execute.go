package providers

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ggonzalez94/xbridge/internal/chain"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

// EnsureAllowance reads the current allowance and, only when it is below
// amount, approves an unbounded allowance and waits for the approval receipt.
// It returns the approval hash when one was sent.
func EnsureAllowance(ctx context.Context, tx chain.Transactor, token, spender common.Address, amount *big.Int) (string, error) {
	current, err := chain.Allowance(ctx, tx.Backend(), token, tx.Address(), spender)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "read token allowance", err)
	}
	if current.Cmp(amount) >= 0 {
		return "", nil
	}
	data, err := chain.ApproveCalldata(spender, chain.MaxUint256)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	hash, err := tx.Send(ctx, chain.TxRequest{To: token, Data: data, Value: new(big.Int)})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeAllowanceFailure, "submit approval", err)
	}
	if _, err := tx.WaitReceipt(ctx, hash); err != nil {
		return hash.Hex(), clierr.Wrap(clierr.CodeAllowanceFailure, "approval did not confirm", err).WithDetail("approval_tx_hash", hash.Hex())
	}
	return hash.Hex(), nil
}

// ExecuteTransfer is the shared executeBridge flow: allowance first, then the
// transfer call, then a pending record.
func ExecuteTransfer(ctx context.Context, a Adapter, req TransferRequest, tx chain.Transactor) (model.BridgeRecord, error) {
	name := a.Name()
	if !strings.EqualFold(req.Quote.Provider, name) {
		return model.BridgeRecord{}, clierr.New(clierr.CodeInvalidRequest, fmt.Sprintf("%s cannot execute a %s quote", name, req.Quote.Provider))
	}
	if req.Sender == (common.Address{}) {
		req.Sender = tx.Address()
	}
	if req.Recipient == (common.Address{}) {
		req.Recipient = req.Sender
	}
	if req.MessagingFee == nil {
		fee, err := a.QuoteMessagingFee(ctx, req)
		if err != nil {
			return model.BridgeRecord{}, err
		}
		req.MessagingFee = fee
	}

	var approvalHash string
	if !req.Native() {
		spender, needed, err := a.Spender(ctx, req)
		if err != nil {
			return model.BridgeRecord{}, err
		}
		if needed {
			token := common.HexToAddress(req.Quote.Details.SourceToken)
			approvalHash, err = EnsureAllowance(ctx, tx, token, spender, req.Amount())
			if err != nil {
				return model.BridgeRecord{}, clierr.Wrap(clierr.CodeAllowanceFailure, name+": allowance", err)
			}
		}
	}

	call, err := a.BuildTransfer(ctx, req)
	if err != nil {
		return model.BridgeRecord{}, err
	}
	hash, err := tx.Send(ctx, call)
	if err != nil {
		return model.BridgeRecord{}, clierr.Wrap(clierr.CodeExecutionFailure, name+": submit transfer", err)
	}
	rec := NewRecord(req, hash.Hex())
	rec.ApprovalTxHash = approvalHash
	return rec, nil
}

// NewRecord builds the pending record for a submitted transfer.
func NewRecord(req TransferRequest, sourceTxHash string) model.BridgeRecord {
	now := req.At()
	q := req.Quote
	minOut := req.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	fee := ""
	if req.MessagingFee != nil {
		fee = req.MessagingFee.String()
	}
	return model.BridgeRecord{
		ID:               uuid.NewString(),
		Provider:         q.Provider,
		SourceChain:      q.SourceChain,
		DestinationChain: q.DestinationChain,
		Token:            q.Token,
		Amount:           q.Amount,
		MinAmountOut:     AmountInfo(minOut, q.Amount.Decimals, q.Amount.Symbol),
		MessagingFee:     fee,
		Sender:           req.Sender.Hex(),
		Recipient:        req.Recipient.Hex(),
		SourceTxHash:     sourceTxHash,
		Status:           model.StatusPending,
		SubmittedAt:      now,
		UpdatedAt:        now,
	}
}
