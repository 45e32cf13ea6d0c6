package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

// Backend is the JSON-RPC surface the bridge code needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Backends hands out a connected backend per chain.
type Backends interface {
	Backend(ctx context.Context, chain id.Chain) (Backend, error)
}

type DialFunc func(ctx context.Context, url string) (Backend, func(), error)

func dialEthclient(ctx context.Context, url string) (Backend, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// Pool dials chains lazily and keeps one client per chain. Endpoints are tried
// in order and the first that answers with the expected chain id wins.
// Concurrent callers for one chain share a single dial; dials for different
// chains run independently.
type Pool struct {
	mu        sync.Mutex
	overrides map[string][]string
	clients   map[int64]Backend
	closers   []func()
	dials     singleflight.Group
	dial      DialFunc
	log       zerolog.Logger
}

func NewPool(overrides map[string][]string, log zerolog.Logger) *Pool {
	return NewPoolWithDialer(overrides, dialEthclient, log)
}

func NewPoolWithDialer(overrides map[string][]string, dial DialFunc, log zerolog.Logger) *Pool {
	norm := make(map[string][]string, len(overrides))
	for k, v := range overrides {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Pool{
		overrides: norm,
		clients:   map[int64]Backend{},
		dial:      dial,
		log:       log,
	}
}

func (p *Pool) Backend(ctx context.Context, chain id.Chain) (Backend, error) {
	if client, ok := p.cached(chain.EVMChainID); ok {
		return client, nil
	}
	v, err, _ := p.dials.Do(strconv.FormatInt(chain.EVMChainID, 10), func() (interface{}, error) {
		if client, ok := p.cached(chain.EVMChainID); ok {
			return client, nil
		}
		client, closeFn, err := p.connect(ctx, chain)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.clients[chain.EVMChainID] = client
		if closeFn != nil {
			p.closers = append(p.closers, closeFn)
		}
		p.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Backend), nil
}

func (p *Pool) cached(chainID int64) (Backend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	client, ok := p.clients[chainID]
	return client, ok
}

// connect runs without the pool lock held.
func (p *Pool) connect(ctx context.Context, chain id.Chain) (Backend, func(), error) {
	urls, err := registry.ResolveRPCURLs(p.overrides[chain.Slug], chain.EVMChainID)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "resolve rpc endpoint", err)
	}
	var lastErr error
	for _, url := range urls {
		client, closeFn, err := p.dial(ctx, url)
		if err != nil {
			p.log.Warn().Err(err).Str("chain", chain.Slug).Str("rpc", url).Msg("rpc dial failed")
			lastErr = err
			continue
		}
		got, err := client.ChainID(ctx)
		if err == nil && got.Int64() != chain.EVMChainID {
			err = fmt.Errorf("rpc %s serves chain id %s, expected %d", url, got, chain.EVMChainID)
		}
		if err != nil {
			p.log.Warn().Err(err).Str("chain", chain.Slug).Str("rpc", url).Msg("rpc endpoint rejected")
			if closeFn != nil {
				closeFn()
			}
			lastErr = err
			continue
		}
		p.log.Debug().Str("chain", chain.Slug).Str("rpc", url).Msg("rpc connected")
		return client, closeFn, nil
	}
	return nil, nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("connect %s rpc", chain.Slug), lastErr)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fn := range p.closers {
		fn()
	}
	p.closers = nil
	p.clients = map[int64]Backend{}
}
