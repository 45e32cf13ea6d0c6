package aggregator

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/cache"
	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/providers"
)

const (
	txTarget        = "0x3a23F943181408EAC424116Af7b7790c94Cb97a5"
	allowanceTarget = "0x3a23F943181408EAC424116Af7b7790c94Cb97a5"
)

func usdcRequest(t *testing.T, amount int64) providers.RouteRequest {
	t.Helper()
	src, _ := id.ParseChain("arbitrum")
	dst, _ := id.ParseChain("base")
	tok, err := id.ParseToken("USDC", src)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return providers.RouteRequest{Source: src, Destination: dst, Token: tok, Amount: big.NewInt(amount)}
}

func socketServer(t *testing.T, quotes *int32, builds *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-KEY") != "secret" {
			t.Fatalf("missing api key header on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/quote":
			atomic.AddInt32(quotes, 1)
			user := r.URL.Query().Get("userAddress")
			recipient := r.URL.Query().Get("recipient")
			_, _ = w.Write([]byte(`{"success":true,"result":{"routes":[
				{"routeId":"r-slow","fromAmount":"1000000","toAmount":"990000","usedBridgeNames":["hop"],"serviceTime":600,"sender":"` + user + `","recipient":"` + recipient + `"},
				{"routeId":"r-best","fromAmount":"1000000","toAmount":"996000","usedBridgeNames":["across"],"serviceTime":120,"sender":"` + user + `","recipient":"` + recipient + `"}
			]}}`))
		case "/build-tx":
			atomic.AddInt32(builds, 1)
			if r.Method != http.MethodPost {
				t.Fatalf("expected POST build-tx, got %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			var payload map[string]map[string]any
			if err := json.Unmarshal(body, &payload); err != nil || payload["route"]["routeId"] != "r-best" {
				t.Fatalf("unexpected build body: %s", body)
			}
			_, _ = w.Write([]byte(`{"success":true,"result":{"txTarget":"` + txTarget + `","chainId":42161,"txData":"0xdeadbeef","value":"0x2710",
				"approvalData":{"minimumApprovalAmount":"1000000","approvalTokenAddress":"0xaf88d065e77c8cC2239327C5EDb3A432268e5831","allowanceTarget":"` + allowanceTarget + `"}}}`))
		case "/bridge-status":
			if r.URL.Query().Get("transactionHash") != "0xabc" {
				t.Fatalf("unexpected status query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"success":true,"result":{"sourceTxStatus":"completed","destinationTxStatus":"PENDING"}}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func TestGetRoutePicksLargestOutput(t *testing.T) {
	var quotes, builds int32
	srv := socketServer(t, &quotes, &builds)
	defer srv.Close()

	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "secret", zerolog.Nop())
	q, err := c.GetRoute(context.Background(), usdcRequest(t, 1_000_000))
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	if q.Details.RouteID != "r-best" || q.EstimatedOut.AmountBaseUnits != "996000" {
		t.Fatalf("expected best route, got %+v", q.Details)
	}
	if q.ProtocolFee.AmountBaseUnits != "5000" {
		t.Fatalf("expected 50 bps protocol fee, got %s", q.ProtocolFee.AmountBaseUnits)
	}
	if q.NativeFee.AmountBaseUnits != "10000" || q.NativeFee.Decimals != 18 {
		t.Fatalf("expected build-tx value as native fee, got %+v", q.NativeFee)
	}
	if atomic.LoadInt32(&builds) != 1 {
		t.Fatalf("expected one build-tx call at quote time, got %d", builds)
	}
	if q.EstimatedMinutes != 2 {
		t.Fatalf("expected service time in minutes, got %d", q.EstimatedMinutes)
	}
	if !c.Info().RequiresKey {
		t.Fatal("expected aggregator to require an api key")
	}
}

func TestExecuteRequotesForSenderAndApproves(t *testing.T) {
	var quotes, builds int32
	srv := socketServer(t, &quotes, &builds)
	defer srv.Close()

	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "secret", zerolog.Nop())
	q, err := c.GetRoute(context.Background(), usdcRequest(t, 1_000_000))
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}

	b := chaintest.New(42161)
	signer := chaintest.Signer{}
	token := common.HexToAddress(q.Details.SourceToken)
	b.SetTokenBalance(token, signer.Address(), big.NewInt(1_000_000))
	wallet := chain.NewWallet(b, signer, chain.SendOptions{PollInterval: time.Millisecond, ReceiptTimeout: time.Second})

	rec, err := c.ExecuteBridge(context.Background(), providers.TransferRequest{
		Quote:        q,
		MinAmountOut: big.NewInt(995_000),
	}, wallet)
	if err != nil {
		t.Fatalf("ExecuteBridge failed: %v", err)
	}
	if atomic.LoadInt32(&quotes) != 2 || atomic.LoadInt32(&builds) != 2 {
		t.Fatalf("expected one refresh quote and one build for the real sender, got quotes=%d builds=%d", quotes, builds)
	}
	sent := b.SentTransactions()
	if len(sent) != 2 || *sent[0].To() != token || *sent[1].To() != common.HexToAddress(txTarget) {
		t.Fatalf("expected approval then transfer, got %d txs", len(sent))
	}
	if sent[1].Value().Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected build value, got %s", sent[1].Value())
	}
	if rec.MessagingFee != "10000" {
		t.Fatalf("expected value above amount as messaging fee, got %s", rec.MessagingFee)
	}
}

func TestBuildTransferEnforcesMinimumOut(t *testing.T) {
	var quotes, builds int32
	srv := socketServer(t, &quotes, &builds)
	defer srv.Close()

	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "secret", zerolog.Nop())
	q, err := c.GetRoute(context.Background(), usdcRequest(t, 1_000_000))
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	_, err = c.BuildTransfer(context.Background(), providers.TransferRequest{
		Quote:        q,
		Sender:       common.HexToAddress(providers.PlaceholderAccount),
		Recipient:    common.HexToAddress(providers.PlaceholderAccount),
		MinAmountOut: big.NewInt(999_000),
	})
	if !clierr.HasCode(err, clierr.CodeSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if atomic.LoadInt32(&quotes) != 1 || atomic.LoadInt32(&builds) != 1 {
		t.Fatalf("a quote taken for the same accounts must reuse its build, got quotes=%d builds=%d", quotes, builds)
	}
}

func TestBuildCacheExpiresWithQuote(t *testing.T) {
	var quotes, builds int32
	srv := socketServer(t, &quotes, &builds)
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "secret", zerolog.Nop())
	c.builds = cache.NewMemoryWithClock(func() time.Time { return now })

	q, err := c.GetRoute(context.Background(), usdcRequest(t, 1_000_000))
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	req := providers.TransferRequest{
		Quote:     q,
		Sender:    common.HexToAddress(providers.PlaceholderAccount),
		Recipient: common.HexToAddress(providers.PlaceholderAccount),
	}
	if _, err := c.BuildTransfer(context.Background(), req); err != nil {
		t.Fatalf("BuildTransfer failed: %v", err)
	}
	if atomic.LoadInt32(&builds) != 1 {
		t.Fatalf("expected cached build, got %d build calls", builds)
	}

	now = now.Add(quoteTTL + time.Second)
	call, err := c.BuildTransfer(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildTransfer after expiry failed: %v", err)
	}
	if atomic.LoadInt32(&builds) != 2 {
		t.Fatalf("expected expired build to be rebuilt, got %d build calls", builds)
	}
	if call.To != common.HexToAddress(txTarget) || call.Value.Int64() != 10_000 {
		t.Fatalf("unexpected rebuilt call: %+v", call)
	}
	if c.builds.Len() != 1 {
		t.Fatalf("expected only the fresh build to stay cached, got %d entries", c.builds.Len())
	}
}

func TestQuoteFailsWhenBuildRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			_, _ = w.Write([]byte(`{"success":true,"result":{"routes":[{"routeId":"r-1","fromAmount":"1000000","toAmount":"995000"}]}}`))
		default:
			_, _ = w.Write([]byte(`{"success":false,"message":"route expired"}`))
		}
	}))
	defer srv.Close()

	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "", zerolog.Nop())
	_, err := c.GetRoute(context.Background(), usdcRequest(t, 1_000_000))
	if !clierr.HasCode(err, clierr.CodeFeeQuoteFailure) || !strings.Contains(err.Error(), "route expired") {
		t.Fatalf("expected fee quote failure from build-tx, got %v", err)
	}
}

func TestStatusNormalizesStates(t *testing.T) {
	var quotes, builds int32
	srv := socketServer(t, &quotes, &builds)
	defer srv.Close()

	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "secret", zerolog.Nop())
	st, err := c.Status(context.Background(), "0xabc", 42161, 8453)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.SourceTxStatus != TxCompleted || st.DestinationTxStatus != TxPending {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestQuoteFailureSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"unsupported route"}`))
	}))
	defer srv.Close()

	c := NewSocket(httpx.New(time.Second, 0), srv.URL, "", zerolog.Nop())
	_, err := c.GetRoute(context.Background(), usdcRequest(t, 1_000_000))
	if !clierr.HasCode(err, clierr.CodeFeeQuoteFailure) || !strings.Contains(err.Error(), "unsupported route") {
		t.Fatalf("expected fee quote failure with api message, got %v", err)
	}
}
