// Package routing fans a transfer request out to every bridge adapter that
// supports it and memoizes the collected quotes.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/xbridge/internal/cache"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
)

const DefaultTTL = 5 * time.Minute

type Request struct {
	Source      id.Chain
	Destination id.Chain
	Token       id.Token
	Amount      *big.Int
	Sender      string
}

// Key is the cache key source|destination|token|amount.
func (r Request) Key() string {
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	return strings.Join([]string{r.Source.Slug, r.Destination.Slug, strings.ToUpper(r.Token.Symbol), amount}, "|")
}

type Result struct {
	Routes    []model.RouteQuote
	Providers []model.ProviderStatus
	Cached    bool
	Age       time.Duration
}

// outcome is one adapter's answer: a quote or a classified error.
type outcome struct {
	provider string
	quote    model.RouteQuote
	err      error
	latency  time.Duration
}

type Aggregator struct {
	adapters []providers.Adapter
	cache    cache.Backend
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// New builds an Aggregator. A nil cache gets a private in-memory one.
func New(adapters []providers.Adapter, c cache.Backend, ttl time.Duration, log zerolog.Logger) *Aggregator {
	if c == nil {
		c = cache.NewMemory()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{adapters: adapters, cache: c, ttl: ttl, now: time.Now, log: log}
}

func (a *Aggregator) Adapters() []providers.Adapter {
	return append([]providers.Adapter(nil), a.adapters...)
}

// Adapter finds an adapter by provider name.
func (a *Aggregator) Adapter(name string) (providers.Adapter, bool) {
	for _, ad := range a.adapters {
		if strings.EqualFold(ad.Name(), name) {
			return ad, true
		}
	}
	return nil, false
}

func (a *Aggregator) Aggregate(ctx context.Context, req Request) (Result, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeInvalidRequest, "amount must be greater than zero")
	}
	if req.Source.Slug == req.Destination.Slug {
		return Result{}, clierr.New(clierr.CodeInvalidRequest, "source and destination chains must differ")
	}
	key := req.Key()
	if res, ok := a.cached(ctx, key); ok {
		return res, nil
	}

	var candidates []providers.Adapter
	for _, ad := range a.adapters {
		if ad.SupportsRoute(req.Source.Slug, req.Destination.Slug, req.Token.Symbol) {
			candidates = append(candidates, ad)
		}
	}
	if len(candidates) == 0 {
		return Result{}, clierr.New(clierr.CodeNoSupportedProvider, fmt.Sprintf("no provider supports %s from %s to %s", req.Token.Symbol, req.Source.Slug, req.Destination.Slug))
	}

	outcomes := make([]outcome, len(candidates))
	// Goroutines never return an error: one failing adapter must not cancel
	// the others.
	var g errgroup.Group
	for i, ad := range candidates {
		g.Go(func() error {
			start := time.Now()
			q, err := ad.GetRoute(ctx, providers.RouteRequest{
				Source:      req.Source,
				Destination: req.Destination,
				Token:       req.Token,
				Amount:      new(big.Int).Set(req.Amount),
				Sender:      req.Sender,
			})
			outcomes[i] = outcome{provider: ad.Name(), quote: q, err: err, latency: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	var (
		routes   []model.RouteQuote
		statuses []model.ProviderStatus
		failures []outcome
	)
	for i, o := range outcomes {
		status := model.ProviderStatus{Name: o.provider, Status: "ok", LatencyMS: o.latency.Milliseconds()}
		switch {
		case o.err != nil:
			status.Status = "error"
			status.Error = o.err.Error()
			failures = append(failures, o)
			a.log.Warn().Err(o.err).Str("provider", o.provider).Msg("route quote failed")
		case !a.consistent(candidates[i], req, o.quote):
			status.Status = "discarded"
			status.Error = "quote does not match a supported route"
			a.log.Warn().Str("provider", o.provider).Msg("discarded inconsistent quote")
		default:
			routes = append(routes, o.quote)
			a.log.Debug().Str("provider", o.provider).Int64("latency_ms", status.LatencyMS).Msg("route quoted")
		}
		statuses = append(statuses, status)
	}
	if len(routes) == 0 {
		err := clierr.New(clierr.CodeNoValidRoute, fmt.Sprintf("no provider returned a valid route for %s from %s to %s", req.Token.Symbol, req.Source.Slug, req.Destination.Slug))
		for _, f := range failures {
			err.WithDetail(f.provider, f.err.Error())
		}
		return Result{Providers: statuses}, err
	}
	sort.SliceStable(routes, func(i, j int) bool { return routes[i].Provider < routes[j].Provider })

	if payload, err := json.Marshal(cachedRoutes{Routes: routes, Providers: statuses}); err == nil {
		if err := a.cache.Set(ctx, key, payload, a.ttl); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("route cache write failed")
		}
	}
	return Result{Routes: routes, Providers: statuses}, nil
}

// consistent rejects quotes for a triple other than the requested one or one
// the adapter does not claim.
func (a *Aggregator) consistent(ad providers.Adapter, req Request, q model.RouteQuote) bool {
	if !strings.EqualFold(q.Provider, ad.Name()) {
		return false
	}
	if q.SourceChain != req.Source.Slug || q.DestinationChain != req.Destination.Slug || !strings.EqualFold(q.Token, req.Token.Symbol) {
		return false
	}
	return ad.SupportsRoute(q.SourceChain, q.DestinationChain, q.Token)
}

type cachedRoutes struct {
	Routes    []model.RouteQuote     `json:"routes"`
	Providers []model.ProviderStatus `json:"providers"`
}

func (a *Aggregator) cached(ctx context.Context, key string) (Result, bool) {
	entry, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("route cache read failed")
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	var payload cachedRoutes
	if err := json.Unmarshal(entry.Value, &payload); err != nil || len(payload.Routes) == 0 {
		return Result{}, false
	}
	now := a.now()
	for _, q := range payload.Routes {
		if q.Expired(now) {
			return Result{}, false
		}
	}
	a.log.Debug().Str("key", key).Msg("route cache hit")
	return Result{Routes: payload.Routes, Providers: payload.Providers, Cached: true, Age: entry.Age(now)}, true
}
