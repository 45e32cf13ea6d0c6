package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/xbridge/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

func TestWalletSendBuildsDynamicFeeTx(t *testing.T) {
	backend := chaintest.New(42161)
	target := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	backend.Contracts[target] = func(common.Address, []byte, *big.Int) ([]byte, error) { return nil, nil }

	w := NewWallet(backend, chaintest.Signer{}, SendOptions{Simulate: true, PollInterval: time.Millisecond, ReceiptTimeout: time.Second})
	hash, err := w.Send(context.Background(), TxRequest{To: target, Data: []byte{0x01}, Value: big.NewInt(5)})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sent := backend.SentTransactions()
	if len(sent) != 1 || sent[0].Hash() != hash {
		t.Fatalf("unexpected sent transactions: %d", len(sent))
	}
	tx := sent[0]
	if tx.Type() != types.DynamicFeeTxType {
		t.Fatalf("expected dynamic fee tx, got type %d", tx.Type())
	}
	// 2*base + tip with base=1 gwei, tip=1 gwei.
	if tx.GasFeeCap().Cmp(big.NewInt(3_000_000_000)) != 0 {
		t.Fatalf("unexpected fee cap %s", tx.GasFeeCap())
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("expected gas multiplier applied, got %d", tx.Gas())
	}
	receipt, err := w.WaitReceipt(context.Background(), hash)
	if err != nil || receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("expected successful receipt, err=%v", err)
	}
}

func TestWalletSendSurfacesSimulationRevert(t *testing.T) {
	backend := chaintest.New(1)
	target := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	backend.Contracts[target] = func(common.Address, []byte, *big.Int) ([]byte, error) {
		return nil, errors.New("execution reverted: Stargate: slippage too high")
	}
	w := NewWallet(backend, chaintest.Signer{}, DefaultSendOptions())
	_, err := w.Send(context.Background(), TxRequest{To: target})
	if err == nil {
		t.Fatal("expected simulation failure")
	}
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeExecutionFailure {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if cliErr.Details["revert_reason"] != "Stargate: slippage too high" {
		t.Fatalf("unexpected revert reason %q", cliErr.Details["revert_reason"])
	}
	if len(backend.SentTransactions()) != 0 {
		t.Fatal("did not expect a broadcast after failed simulation")
	}
}

func TestWaitReceiptReportsRevert(t *testing.T) {
	backend := chaintest.New(1)
	target := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	backend.Reverting[target] = true
	w := NewWallet(backend, chaintest.Signer{}, SendOptions{PollInterval: time.Millisecond, ReceiptTimeout: time.Second})
	hash, err := w.Send(context.Background(), TxRequest{To: target})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	receipt, err := w.WaitReceipt(context.Background(), hash)
	if receipt == nil || receipt.Status != types.ReceiptStatusFailed {
		t.Fatal("expected failed receipt to be returned")
	}
	if !clierr.HasCode(err, clierr.CodeExecutionFailure) {
		t.Fatalf("expected execution failure, got %v", err)
	}
}

func TestWaitReceiptTimesOut(t *testing.T) {
	backend := chaintest.New(1)
	w := NewWallet(backend, chaintest.Signer{}, SendOptions{PollInterval: time.Millisecond, ReceiptTimeout: 10 * time.Millisecond})
	_, err := w.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	if !clierr.HasCode(err, clierr.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestERC20Helpers(t *testing.T) {
	backend := chaintest.New(1)
	token := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	owner := chaintest.Signer{}.Address()
	spender := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	backend.SetTokenBalance(token, owner, big.NewInt(1_000))
	backend.SetAllowance(token, owner, spender, big.NewInt(7))

	bal, err := TokenBalance(context.Background(), backend, token, owner)
	if err != nil || bal.Int64() != 1_000 {
		t.Fatalf("unexpected balance %v err=%v", bal, err)
	}
	allowance, err := Allowance(context.Background(), backend, token, owner, spender)
	if err != nil || allowance.Int64() != 7 {
		t.Fatalf("unexpected allowance %v err=%v", allowance, err)
	}
	data, err := ApproveCalldata(spender, MaxUint256)
	if err != nil || len(data) != 4+64 {
		t.Fatalf("unexpected approve calldata len=%d err=%v", len(data), err)
	}
}

func TestParseGwei(t *testing.T) {
	v, err := ParseGwei("1.5")
	if err != nil || v.Int64() != 1_500_000_000 {
		t.Fatalf("unexpected gwei parse %v err=%v", v, err)
	}
	if _, err := ParseGwei("0.0000000001"); err == nil {
		t.Fatal("expected sub-wei value to be rejected")
	}
}
