package app

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xbridge/internal/api"
	"github.com/ggonzalez94/xbridge/internal/cache"
	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/config"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/execution"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/policy"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/providers/aggregator"
	"github.com/ggonzalez94/xbridge/internal/providers/onchain"
	"github.com/ggonzalez94/xbridge/internal/registry"
	"github.com/ggonzalez94/xbridge/internal/relay"
	"github.com/ggonzalez94/xbridge/internal/routing"
	"github.com/ggonzalez94/xbridge/internal/scoring"
	"github.com/ggonzalez94/xbridge/internal/settlement"
)

func (s *runtimeState) chainBackends() chain.Backends {
	if s.backends != nil {
		return s.backends
	}
	if s.runner.backends != nil {
		s.backends = s.runner.backends
		return s.backends
	}
	s.pool = chain.NewPool(s.settings.RPCOverrides, s.log)
	s.closers = append(s.closers, func() error { s.pool.Close(); return nil })
	s.backends = s.pool
	return s.backends
}

func (s *runtimeState) httpClient() *httpx.Client {
	client := httpx.New(s.settings.Timeout, s.settings.Retries)
	if s.settings.RPCRate > 0 {
		client = client.WithRateLimit(s.settings.RPCRate, 1)
	}
	return client
}

func (s *runtimeState) socketClient() *aggregator.Client {
	return aggregator.NewSocket(s.httpClient(), s.settings.SocketBaseURL, s.settings.SocketAPIKey, s.log)
}

// buildAdapters returns the adapters that pass the provider allowlist.
func (s *runtimeState) buildAdapters() ([]providers.Adapter, error) {
	all := s.runner.adapters
	if all == nil {
		backends := s.chainBackends()
		all = []providers.Adapter{
			onchain.NewStargate(backends, s.log),
			onchain.NewHop(backends, s.log),
			onchain.NewAcross(backends, s.httpClient(), s.settings.AcrossBaseURL, s.log),
			s.socketClient(),
		}
	}
	known := make([]string, 0, len(all))
	for _, a := range all {
		known = append(known, a.Name())
	}
	if err := policy.CheckProviders(s.settings.EnabledProviders, known); err != nil {
		return nil, err
	}
	enabled := make([]providers.Adapter, 0, len(all))
	for _, a := range all {
		if policy.Allowed(s.settings.EnabledProviders, a.Name()) {
			enabled = append(enabled, a)
		}
	}
	return enabled, nil
}

func (s *runtimeState) openRouteCache(ctx context.Context) (cache.Backend, error) {
	switch s.settings.CacheBackend {
	case config.CacheSQLite:
		c, err := cache.OpenSQLite(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open route cache", err)
		}
		return c, nil
	case config.CacheRedis:
		dialCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
		c, err := cache.OpenRedis(dialCtx, cache.RedisConfig{
			Addr:     s.settings.RedisAddr,
			Password: s.settings.RedisPassword,
			DB:       s.settings.RedisDB,
		})
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "open route cache", err)
		}
		return c, nil
	default:
		return cache.NewMemory(), nil
	}
}

func (s *runtimeState) ensureAggregator(ctx context.Context) (*routing.Aggregator, error) {
	if s.aggregator != nil {
		return s.aggregator, nil
	}
	adapters, err := s.buildAdapters()
	if err != nil {
		return nil, err
	}
	c, err := s.openRouteCache(ctx)
	if err != nil {
		return nil, err
	}
	s.routeCache = c
	s.closers = append(s.closers, c.Close)
	s.aggregator = routing.New(adapters, c, s.settings.CacheTTL, s.log.With().Str("component", "routing").Logger())
	return s.aggregator, nil
}

func (s *runtimeState) ensureStore() (*execution.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := execution.OpenStore(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open record store", err)
	}
	s.store = store
	s.closers = append(s.closers, store.Close)
	return store, nil
}

func (s *runtimeState) scorer() *scoring.Scorer {
	return scoring.New(s.settings.Prices)
}

// newMonitor wires the settlement monitor with the record store, the
// aggregator status probe and, when configured, the Kafka sink.
func (s *runtimeState) newMonitor(store *execution.Store) (*settlement.Monitor, error) {
	m := settlement.New(s.chainBackends(), settlement.Config{
		PollInterval: s.settings.PollInterval,
		SearchWindow: s.settings.SearchWindow,
		RPCRate:      s.settings.RPCRate,
	}, s.log).
		WithProbe(registry.ProviderSocket, settlement.AggregatorProbe{Client: s.socketClient()}).
		WithSinks(settlement.StoreSink{Store: store})

	if len(s.settings.KafkaBrokers) > 0 {
		sink, err := settlement.NewKafkaSink(s.settings.KafkaBrokers, s.settings.KafkaTopic, s.log)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "configure kafka sink", err)
		}
		s.closers = append(s.closers, sink.Close)
		m.WithSinks(sink)
	}
	return m, nil
}

func (s *runtimeState) newRelayer() (execution.Relayer, error) {
	client, err := relay.New(s.httpClient(), s.settings.RelayBaseURL, s.settings.RelayAPIKey, s.log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type routeRequestInput struct {
	Source      string
	Destination string
	Token       string
	Amount      string
	Sender      string
}

func parseRouteRequest(in routeRequestInput) (routing.Request, error) {
	required := [][2]string{{"source", in.Source}, {"destination", in.Destination}, {"token", in.Token}, {"amount", in.Amount}}
	for _, field := range required {
		if strings.TrimSpace(field[1]) == "" {
			return routing.Request{}, clierr.New(clierr.CodeUsage, field[0]+" is required")
		}
	}
	source, err := id.ParseChain(in.Source)
	if err != nil {
		return routing.Request{}, err
	}
	destination, err := id.ParseChain(in.Destination)
	if err != nil {
		return routing.Request{}, err
	}
	token, err := id.ParseToken(in.Token, source)
	if err != nil {
		return routing.Request{}, err
	}
	amount, err := id.ParseAmount(in.Amount, token.Decimals)
	if err != nil {
		return routing.Request{}, clierr.Wrap(clierr.CodeUsage, "parse amount", err)
	}
	sender := strings.TrimSpace(in.Sender)
	if sender != "" && !common.IsHexAddress(sender) {
		return routing.Request{}, clierr.New(clierr.CodeUsage, "sender must be an EVM address")
	}
	return routing.Request{Source: source, Destination: destination, Token: token, Amount: amount, Sender: sender}, nil
}

// rankedRoutes aggregates and scores quotes, best first.
func (s *runtimeState) rankedRoutes(ctx context.Context, req routing.Request) (routing.Result, []model.ScoredRoute, error) {
	agg, err := s.ensureAggregator(ctx)
	if err != nil {
		return routing.Result{}, nil, err
	}
	quoteCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout+5*time.Second)
	defer cancel()
	res, err := agg.Aggregate(quoteCtx, req)
	if err != nil {
		return res, nil, err
	}
	return res, s.scorer().Score(res.Routes), nil
}

// routeService answers the HTTP API's /routes.
type routeService struct {
	state *runtimeState
}

func (r routeService) Routes(ctx context.Context, q api.RouteQuery) ([]model.ScoredRoute, []model.ProviderStatus, error) {
	req, err := parseRouteRequest(routeRequestInput(q))
	if err != nil {
		return nil, nil, err
	}
	res, ranked, err := r.state.rankedRoutes(ctx, req)
	return ranked, res.Providers, err
}
