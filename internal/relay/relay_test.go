package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
)

func testCall() Call {
	return Call{
		ChainID:  8453,
		Target:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Data:     []byte{0xde, 0xad},
		Value:    big.NewInt(0),
		FeeToken: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	}
}

func TestSubmitSignsAndReturnsHash(t *testing.T) {
	var got submitBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/relays/v2/call" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(apiKeyHeader) != "secret" {
			t.Fatalf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"taskId":"t-1","txHash":"0x00000000000000000000000000000000000000000000000000000000000000ff"}`))
	}))
	defer srv.Close()

	c, err := New(httpx.New(2*time.Second, 0), srv.URL, "secret", zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	hash, err := c.Submit(context.Background(), chaintest.Signer{}, testCall())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != common.HexToHash("0xff") {
		t.Fatalf("unexpected hash %s", hash.Hex())
	}
	if got.ChainID != 8453 || got.Data != "0xdead" || got.Value != "0" {
		t.Fatalf("unexpected body %+v", got)
	}

	sig, err := hexutil.Decode(got.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	from := chaintest.Signer{}.Address()
	pub, err := crypto.SigToPub(accounts.TextHash(Digest(from, testCall())), sig)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != from || got.From != from.Hex() {
		t.Fatalf("signature does not recover to sender")
	}
}

func TestSubmitPollsTaskUntilHash(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"taskId":"t-2"}`))
			return
		}
		if r.URL.Path != "/tasks/status/t-2" {
			t.Fatalf("unexpected poll path %s", r.URL.Path)
		}
		if polls.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"task":{"taskState":"CheckPending"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"task":{"taskState":"ExecSuccess","transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000ee"}}`))
	}))
	defer srv.Close()

	c, _ := New(httpx.New(2*time.Second, 0), srv.URL, "", zerolog.Nop())
	c.WithPolling(5*time.Millisecond, 10)
	hash, err := c.Submit(context.Background(), chaintest.Signer{}, testCall())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != common.HexToHash("0xee") {
		t.Fatalf("unexpected hash %s", hash.Hex())
	}
}

func TestSubmitReportsRevertedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"taskId":"t-3"}`))
			return
		}
		_, _ = w.Write([]byte(`{"task":{"taskState":"ExecReverted","lastCheckMessage":"amountOutMin not met"}}`))
	}))
	defer srv.Close()

	c, _ := New(httpx.New(2*time.Second, 0), srv.URL, "", zerolog.Nop())
	c.WithPolling(5*time.Millisecond, 3)
	_, err := c.Submit(context.Background(), chaintest.Signer{}, testCall())
	if err == nil {
		t.Fatal("expected reverted task error")
	}
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeExecutionFailure {
		t.Fatalf("unexpected error %v", err)
	}
	if cliErr.Details["revert_reason"] != "amountOutMin not met" {
		t.Fatalf("expected relay message as revert reason, got %+v", cliErr.Details)
	}
}

func TestNewRejectsPlainHTTP(t *testing.T) {
	if _, err := New(httpx.New(time.Second, 0), "http://relay.example.com", "", zerolog.Nop()); err == nil {
		t.Fatal("expected plain http relay endpoint to be rejected")
	}
}
