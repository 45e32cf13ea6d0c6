package routing

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/providers/providertest"
)

func usdcRequest(t *testing.T, amount int64) Request {
	t.Helper()
	src, _ := id.ParseChain("ethereum")
	dst, _ := id.ParseChain("arbitrum")
	tok, err := id.ParseToken("USDC", src)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return Request{Source: src, Destination: dst, Token: tok, Amount: big.NewInt(amount)}
}

func failing(name string) *providertest.Fake {
	return &providertest.Fake{
		ProviderName: name,
		Quote: func(context.Context, providers.RouteRequest) (model.RouteQuote, error) {
			return model.RouteQuote{}, clierr.Wrap(clierr.CodeFeeQuoteFailure, name+": fee quote failed", errors.New("execution reverted"))
		},
	}
}

func TestAggregateIsolatesAdapterFailures(t *testing.T) {
	a := New([]providers.Adapter{
		&providertest.Fake{ProviderName: "alpha", Minutes: 5},
		failing("beta"),
		&providertest.Fake{ProviderName: "gamma", Minutes: 7},
	}, nil, time.Minute, zerolog.Nop())

	res, err := a.Aggregate(context.Background(), usdcRequest(t, 100_000_000))
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(res.Routes) != 2 || res.Routes[0].Provider != "alpha" || res.Routes[1].Provider != "gamma" {
		t.Fatalf("expected the two successful quotes, got %+v", res.Routes)
	}
	if len(res.Providers) != 3 {
		t.Fatalf("expected a status per adapter, got %+v", res.Providers)
	}
	for _, st := range res.Providers {
		if st.Name == "beta" && (st.Status != "error" || st.Error == "") {
			t.Fatalf("expected failed status for beta, got %+v", st)
		}
	}
}

func TestAggregateServesCacheWithinTTL(t *testing.T) {
	fake := &providertest.Fake{ProviderName: "alpha"}
	a := New([]providers.Adapter{fake}, nil, time.Minute, zerolog.Nop())
	req := usdcRequest(t, 100_000_000)

	if _, err := a.Aggregate(context.Background(), req); err != nil {
		t.Fatalf("first Aggregate failed: %v", err)
	}
	res, err := a.Aggregate(context.Background(), req)
	if err != nil {
		t.Fatalf("second Aggregate failed: %v", err)
	}
	if !res.Cached || fake.Calls() != 1 {
		t.Fatalf("expected cache hit without a second quote, cached=%v calls=%d", res.Cached, fake.Calls())
	}

	other := usdcRequest(t, 200_000_000)
	if _, err := a.Aggregate(context.Background(), other); err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if fake.Calls() != 2 {
		t.Fatalf("expected a different amount to miss the cache, calls=%d", fake.Calls())
	}
}

func TestAggregateDoesNotServeExpiredQuotes(t *testing.T) {
	fake := &providertest.Fake{ProviderName: "alpha"}
	a := New([]providers.Adapter{fake}, nil, time.Hour, zerolog.Nop())
	req := usdcRequest(t, 100_000_000)
	if _, err := a.Aggregate(context.Background(), req); err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	a.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	res, err := a.Aggregate(context.Background(), req)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if res.Cached || fake.Calls() != 2 {
		t.Fatalf("expected expired quotes to be re-fetched, cached=%v calls=%d", res.Cached, fake.Calls())
	}
}

func TestAggregateNoSupportedProvider(t *testing.T) {
	a := New([]providers.Adapter{&providertest.Fake{
		ProviderName: "alpha",
		Supported:    func(string, string, string) bool { return false },
	}}, nil, time.Minute, zerolog.Nop())
	_, err := a.Aggregate(context.Background(), usdcRequest(t, 1))
	if !clierr.HasCode(err, clierr.CodeNoSupportedProvider) {
		t.Fatalf("expected no supported provider, got %v", err)
	}
}

func TestAggregateNoValidRouteCarriesCauses(t *testing.T) {
	a := New([]providers.Adapter{failing("alpha"), failing("beta")}, nil, time.Minute, zerolog.Nop())
	_, err := a.Aggregate(context.Background(), usdcRequest(t, 1))
	if !clierr.HasCode(err, clierr.CodeNoValidRoute) {
		t.Fatalf("expected no valid route, got %v", err)
	}
	cliErr, _ := clierr.As(err)
	if cliErr.Details["alpha"] == "" || cliErr.Details["beta"] == "" {
		t.Fatalf("expected per-provider causes, got %v", cliErr.Details)
	}
}

func TestAggregateDiscardsQuotesForOtherRoutes(t *testing.T) {
	liar := &providertest.Fake{ProviderName: "liar"}
	liar.Quote = func(_ context.Context, req providers.RouteRequest) (model.RouteQuote, error) {
		q := liar.DefaultQuote(req)
		q.Token = "USDT"
		return q, nil
	}
	a := New([]providers.Adapter{liar, &providertest.Fake{ProviderName: "honest"}}, nil, time.Minute, zerolog.Nop())
	res, err := a.Aggregate(context.Background(), usdcRequest(t, 1_000))
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(res.Routes) != 1 || res.Routes[0].Provider != "honest" {
		t.Fatalf("expected only the consistent quote, got %+v", res.Routes)
	}
}

func TestAggregateQuotesConcurrently(t *testing.T) {
	const n = 3
	var ready sync.WaitGroup
	ready.Add(n)
	release := make(chan struct{})
	go func() {
		ready.Wait()
		close(release)
	}()

	var adapters []providers.Adapter
	for _, name := range []string{"a", "b", "c"} {
		f := &providertest.Fake{ProviderName: name}
		f.Quote = func(ctx context.Context, req providers.RouteRequest) (model.RouteQuote, error) {
			ready.Done()
			select {
			case <-release:
				return f.DefaultQuote(req), nil
			case <-time.After(2 * time.Second):
				return model.RouteQuote{}, errors.New("quotes were not issued concurrently")
			}
		}
		adapters = append(adapters, f)
	}
	res, err := New(adapters, nil, time.Minute, zerolog.Nop()).Aggregate(context.Background(), usdcRequest(t, 1_000))
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(res.Routes) != n {
		t.Fatalf("expected %d routes, got %d", n, len(res.Routes))
	}
}

func TestAggregateRejectsSameChain(t *testing.T) {
	req := usdcRequest(t, 1)
	req.Destination = req.Source
	_, err := New(nil, nil, 0, zerolog.Nop()).Aggregate(context.Background(), req)
	if !clierr.HasCode(err, clierr.CodeInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
