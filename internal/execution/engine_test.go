package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/providers/providertest"
	"github.com/ggonzalez94/xbridge/internal/relay"
)

var (
	usdcAddr    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	spenderAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	targetAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fakeBackends map[string]*chaintest.Backend

func (f fakeBackends) Backend(_ context.Context, c id.Chain) (chain.Backend, error) {
	b, ok := f[c.Slug]
	if !ok {
		return nil, fmt.Errorf("no backend for %s", c.Slug)
	}
	return b, nil
}

type adapterSet map[string]providers.Adapter

func (s adapterSet) Adapter(name string) (providers.Adapter, bool) {
	a, ok := s[strings.ToLower(name)]
	return a, ok
}

func usdcQuote(t *testing.T, f *providertest.Fake, amount int64) model.RouteQuote {
	t.Helper()
	src, _ := id.ParseChain("base")
	dst, _ := id.ParseChain("arbitrum")
	tok, err := id.ParseToken("USDC", src)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return f.DefaultQuote(providers.RouteRequest{Source: src, Destination: dst, Token: tok, Amount: big.NewInt(amount)})
}

func newFake(name string) *providertest.Fake {
	return &providertest.Fake{
		ProviderName: name,
		SourceToken:  usdcAddr.Hex(),
		MessagingFee: big.NewInt(1_000_000_000_000_000),
		SpenderAddr:  spenderAddr,
		Target:       targetAddr,
		Minutes:      3,
	}
}

func newEngine(f *providertest.Fake, b *chaintest.Backend, opts Options) *Engine {
	if opts.Send.PollInterval == 0 {
		opts.Send = chain.SendOptions{Simulate: false, PollInterval: time.Millisecond, ReceiptTimeout: time.Second}
	}
	return NewEngine(adapterSet{f.ProviderName: f}, fakeBackends{"base": b}, opts, zerolog.Nop())
}

func codeOf(t *testing.T, err error) *clierr.Error {
	t.Helper()
	cliErr, ok := clierr.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	return cliErr
}

func TestExecuteInsufficientBalanceBeforeFeeQuote(t *testing.T) {
	f := newFake("stargate")
	f.FeeErr = errors.New("fee endpoint must not be called")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(50))

	e := newEngine(f, b, Options{})
	_, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 100), SlippagePercent: 0.5}, chaintest.Signer{})
	if err == nil {
		t.Fatal("expected insufficient balance")
	}
	cliErr := codeOf(t, err)
	if cliErr.Code != clierr.CodeInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if cliErr.Details["shortfall"] != "50" {
		t.Fatalf("expected shortfall 50, got %+v", cliErr.Details)
	}
	if len(b.SentTransactions()) != 0 {
		t.Fatal("did not expect transactions")
	}
}

func TestExecuteInsufficientGasBreakdown(t *testing.T) {
	f := newFake("stargate")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(1_000_000))
	b.Native[sender] = big.NewInt(1_000_000_000_000_000)

	e := newEngine(f, b, Options{})
	_, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 1_000_000), SlippagePercent: 0.5}, chaintest.Signer{})
	cliErr := codeOf(t, err)
	if cliErr.Code != clierr.CodeInsufficientGas {
		t.Fatalf("expected insufficient gas, got %v", err)
	}
	// fee cap = 2*1 gwei base + 1 gwei tip; reserve = 300k * 3 gwei
	if cliErr.Details["gas_reserve_wei"] != "900000000000000" {
		t.Fatalf("unexpected gas reserve: %+v", cliErr.Details)
	}
	if cliErr.Details["messaging_fee_wei"] != "1000000000000000" || cliErr.Details["shortfall_wei"] != "900000000000000" {
		t.Fatalf("unexpected breakdown: %+v", cliErr.Details)
	}
}

func TestExecuteApprovesThenSubmits(t *testing.T) {
	f := newFake("stargate")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(100_000_000))
	b.Native[sender] = big.NewInt(1_000_000_000_000_000_000)

	store := openTestStore(t)
	var submitted []model.BridgeRecord
	e := newEngine(f, b, Options{Store: store, OnSubmitted: func(r model.BridgeRecord) { submitted = append(submitted, r) }})

	rec, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 100_000_000), SlippagePercent: 0.5}, chaintest.Signer{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	sent := b.SentTransactions()
	if len(sent) != 2 {
		t.Fatalf("expected approval and transfer, got %d txs", len(sent))
	}
	if *sent[0].To() != usdcAddr || *sent[1].To() != targetAddr {
		t.Fatal("expected approval before transfer")
	}
	if sent[1].Value().Cmp(big.NewInt(1_000_000_000_000_000)) != 0 {
		t.Fatalf("expected messaging fee as value, got %s", sent[1].Value())
	}
	if got := b.AllowanceOf(usdcAddr, sender, spenderAddr); got.Cmp(chain.MaxUint256) != 0 {
		t.Fatalf("expected unbounded allowance, got %s", got)
	}
	if rec.Status != model.StatusPending || rec.MinAmountOut.AmountBaseUnits != "99500000" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.SourceTxHash != sent[1].Hash().Hex() || rec.ApprovalTxHash != sent[0].Hash().Hex() {
		t.Fatalf("unexpected hashes on record: %+v", rec)
	}
	if len(submitted) != 1 || submitted[0].ID != rec.ID {
		t.Fatal("expected record handed to the submit hook")
	}
	stored, err := store.Get(context.Background(), rec.ID)
	if err != nil || stored.SourceTxHash != rec.SourceTxHash {
		t.Fatalf("expected stored record, got %+v err=%v", stored, err)
	}
}

func TestExecuteClassifiesSlippageRevert(t *testing.T) {
	f := newFake("stargate")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(100_000_000))
	b.Native[sender] = big.NewInt(1_000_000_000_000_000_000)
	b.Contracts[targetAddr] = func(common.Address, []byte, *big.Int) ([]byte, error) {
		return nil, errors.New("execution reverted: Stargate: slippage too high")
	}

	e := newEngine(f, b, Options{Send: chain.SendOptions{Simulate: true, PollInterval: time.Millisecond, ReceiptTimeout: time.Second}})
	_, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 100_000_000), SlippagePercent: 0.1}, chaintest.Signer{})
	cliErr := codeOf(t, err)
	if cliErr.Code != clierr.CodeSlippageExceeded {
		t.Fatalf("expected slippage exceeded, got %v", err)
	}
	if cliErr.Details["revert_reason"] != "Stargate: slippage too high" {
		t.Fatalf("expected raw revert as detail, got %+v", cliErr.Details)
	}
}

func TestExecuteClassifiesGenericRevert(t *testing.T) {
	f := newFake("stargate")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(100_000_000))
	b.SetAllowance(usdcAddr, sender, spenderAddr, chain.MaxUint256)
	b.Native[sender] = big.NewInt(1_000_000_000_000_000_000)
	b.Contracts[targetAddr] = func(common.Address, []byte, *big.Int) ([]byte, error) {
		return nil, errors.New("execution reverted: Pausable: paused")
	}

	e := newEngine(f, b, Options{Send: chain.SendOptions{Simulate: true, PollInterval: time.Millisecond, ReceiptTimeout: time.Second}})
	_, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 100_000_000), SlippagePercent: 0.5}, chaintest.Signer{})
	cliErr := codeOf(t, err)
	if cliErr.Code != clierr.CodeExecutionFailure {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if cliErr.Details["revert_reason"] != "Pausable: paused" {
		t.Fatalf("expected revert reason detail, got %+v", cliErr.Details)
	}
	if strings.Contains(cliErr.Message, "paused") {
		t.Fatalf("raw revert leaked into message: %q", cliErr.Message)
	}
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	f := newFake("stargate")
	b := chaintest.New(8453)
	e := newEngine(f, b, Options{})

	zero := usdcQuote(t, f, 1)
	zero.Amount.AmountBaseUnits = "0"
	same := usdcQuote(t, f, 1)
	same.DestinationChain = "base"
	unknown := usdcQuote(t, f, 1)
	unknown.Provider = "nope"
	expired := usdcQuote(t, f, 1)
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	for name, q := range map[string]model.RouteQuote{"zero": zero, "same": same, "unknown": unknown, "expired": expired} {
		_, err := e.Execute(context.Background(), Request{Quote: q}, chaintest.Signer{})
		if cliErr := codeOf(t, err); cliErr.Code != clierr.CodeInvalidRequest {
			t.Fatalf("%s: expected invalid request, got %v", name, err)
		}
	}

	f.Supported = func(string, string, string) bool { return false }
	_, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 1)}, chaintest.Signer{})
	if cliErr := codeOf(t, err); cliErr.Code != clierr.CodeInvalidRequest {
		t.Fatalf("expected unresolvable token to be invalid, got %v", err)
	}
	f.Supported = nil
	_, err = e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 1), SlippagePercent: 101}, chaintest.Signer{})
	if cliErr := codeOf(t, err); cliErr.Code != clierr.CodeInvalidRequest {
		t.Fatalf("expected slippage bound violation, got %v", err)
	}
}

func TestExecuteThroughRelayWhenPayingInToken(t *testing.T) {
	f := newFake("across")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(100_000_000))

	approvalHash := common.HexToHash("0xa1")
	transferHash := common.HexToHash("0xa2")
	var (
		mu      sync.Mutex
		targets []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Target   string `json:"target"`
			FeeToken string `json:"feeToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		targets = append(targets, body.Target)
		mu.Unlock()
		hash := transferHash
		if common.HexToAddress(body.Target) == usdcAddr {
			hash = approvalHash
			b.SetAllowance(usdcAddr, sender, spenderAddr, chain.MaxUint256)
			b.AddReceipt(&types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: approvalHash, BlockNumber: big.NewInt(1000)})
		}
		_, _ = fmt.Fprintf(w, `{"taskId":"t","txHash":%q}`, hash.Hex())
	}))
	defer srv.Close()
	relayer, err := relay.New(httpx.New(2*time.Second, 0), srv.URL, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("relay client: %v", err)
	}

	e := newEngine(f, b, Options{Relayer: relayer})
	rec, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 100_000_000), SlippagePercent: 0.5, FeeMode: model.FeeModeToken}, chaintest.Signer{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !rec.Relayed || rec.SourceTxHash != transferHash.Hex() || rec.ApprovalTxHash != approvalHash.Hex() {
		t.Fatalf("unexpected relayed record: %+v", rec)
	}
	if len(b.SentTransactions()) != 0 {
		t.Fatal("did not expect direct submissions on the relay path")
	}
	if len(targets) != 2 || common.HexToAddress(targets[1]) != targetAddr {
		t.Fatalf("expected approve then transfer through relay, got %v", targets)
	}
}

func TestExecuteIgnoresTokenFeeModeOffAllowList(t *testing.T) {
	f := newFake("stargate")
	b := chaintest.New(8453)
	sender := chaintest.Signer{}.Address()
	b.SetTokenBalance(usdcAddr, sender, big.NewInt(100_000_000))
	b.Native[sender] = big.NewInt(1_000_000_000_000_000_000)
	relayer, _ := relay.New(httpx.New(time.Second, 0), "http://127.0.0.1:1", "", zerolog.Nop())

	e := newEngine(f, b, Options{Relayer: relayer})
	rec, err := e.Execute(context.Background(), Request{Quote: usdcQuote(t, f, 100_000_000), SlippagePercent: 0.5, FeeMode: model.FeeModeToken}, chaintest.Signer{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.Relayed || len(b.SentTransactions()) != 2 {
		t.Fatalf("expected direct submission for base stargate usdc, got %+v", rec)
	}
}
