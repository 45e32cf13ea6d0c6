// Package aggregator adapts a Socket-style bridge aggregation API to the
// provider Adapter contract.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/cache"
	"github.com/ggonzalez94/xbridge/internal/chain"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

const (
	apiKeyHeader    = "API-KEY"
	APIKeyEnvVar    = "XBRIDGE_SOCKET_API_KEY"
	defaultSlippage = 0.5
	quoteTTL        = 5 * time.Minute
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	desc    registry.Descriptor
	now     func() time.Time
	log     zerolog.Logger

	// builds holds build-tx results for a route and account pair until the
	// quote that produced them expires.
	builds *cache.Memory
}

func NewSocket(httpClient *httpx.Client, baseURL, apiKey string, log zerolog.Logger) *Client {
	d, _ := registry.Lookup(registry.ProviderSocket)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.SocketBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		desc:    d,
		now:     time.Now,
		log:     log.With().Str("provider", d.Name).Logger(),
		builds:  cache.NewMemory(),
	}
}

func (c *Client) Name() string { return c.desc.Name }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          c.desc.Name,
		Type:          c.desc.Kind,
		RequiresKey:   true,
		KeyEnvVarName: APIKeyEnvVar,
		Capabilities: []string{
			"bridge.quote",
			"bridge.execute",
			"bridge.status",
		},
		Chains:  c.desc.Chains(),
		Tokens:  c.desc.TokenSymbols(),
		FeeBps:  c.desc.FeeBps,
		Website: c.desc.Website,
	}
}

func (c *Client) SupportsRoute(source, destination, token string) bool {
	return c.desc.SupportsRoute(source, destination, token)
}

func (c *Client) EstimatedTime(source, destination string) int {
	return c.desc.EstimatedMinutes(source, destination)
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Result  T    `json:"result"`
	Message any  `json:"message"`
}

type quoteResult struct {
	Routes []json.RawMessage `json:"routes"`
}

// route is the subset of a route object the adapter reads. The raw object is
// kept verbatim because build-tx expects it back unchanged.
type route struct {
	RouteID         string   `json:"routeId"`
	FromAmount      string   `json:"fromAmount"`
	ToAmount        string   `json:"toAmount"`
	UsedBridgeNames []string `json:"usedBridgeNames"`
	ServiceTime     int64    `json:"serviceTime"`
	Sender          string   `json:"sender"`
	Recipient       string   `json:"recipient"`
}

type buildResult struct {
	TxTarget     string        `json:"txTarget"`
	ChainID      int64         `json:"chainId"`
	TxData       string        `json:"txData"`
	Value        string        `json:"value"`
	ApprovalData *approvalData `json:"approvalData"`
}

type approvalData struct {
	MinimumApprovalAmount string `json:"minimumApprovalAmount"`
	ApprovalTokenAddress  string `json:"approvalTokenAddress"`
	AllowanceTarget       string `json:"allowanceTarget"`
}

type builtTx struct {
	call    chain.TxRequest
	spender string
	out     *big.Int
}

// storedBuild is the cached form of a builtTx.
type storedBuild struct {
	To      string        `json:"to"`
	Data    hexutil.Bytes `json:"data"`
	Value   string        `json:"value"`
	Spender string        `json:"spender,omitempty"`
	Out     string        `json:"out,omitempty"`
}

func buildKey(routeID string, sender, recipient common.Address) string {
	return routeID + "|" + sender.Hex() + "|" + recipient.Hex()
}

func (c *Client) cachedBuild(ctx context.Context, key string) (builtTx, bool) {
	entry, ok, err := c.builds.Get(ctx, key)
	if err != nil || !ok {
		return builtTx{}, false
	}
	var sb storedBuild
	if err := json.Unmarshal(entry.Value, &sb); err != nil {
		return builtTx{}, false
	}
	value, ok := new(big.Int).SetString(sb.Value, 10)
	if !ok {
		return builtTx{}, false
	}
	b := builtTx{
		call:    chain.TxRequest{To: common.HexToAddress(sb.To), Data: sb.Data, Value: value},
		spender: sb.Spender,
	}
	if out, ok := new(big.Int).SetString(sb.Out, 10); ok {
		b.out = out
	}
	return b, true
}

func (c *Client) storeBuild(ctx context.Context, key string, b builtTx) {
	sb := storedBuild{
		To:      b.call.To.Hex(),
		Data:    b.call.Data,
		Value:   b.call.Value.String(),
		Spender: b.spender,
	}
	if b.out != nil {
		sb.Out = b.out.String()
	}
	raw, err := json.Marshal(sb)
	if err != nil {
		return
	}
	c.builds.Prune()
	if err := c.builds.Set(ctx, key, raw, quoteTTL); err != nil {
		c.log.Debug().Err(err).Msg("cache build-tx result")
	}
}

func (c *Client) GetRoute(ctx context.Context, req providers.RouteRequest) (model.RouteQuote, error) {
	source, destination, symbol := req.Source.Slug, req.Destination.Slug, req.Token.Symbol
	srcToken, ok := c.desc.TokenAddress(symbol, source)
	if !ok {
		return model.RouteQuote{}, c.unsupported(symbol, source)
	}
	dstToken, ok := c.desc.TokenAddress(symbol, destination)
	if !ok {
		return model.RouteQuote{}, c.unsupported(symbol, destination)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return model.RouteQuote{}, clierr.New(clierr.CodeInvalidRequest, "amount must be greater than zero")
	}
	sender := providers.PlaceholderAccount
	if common.IsHexAddress(req.Sender) {
		sender = common.HexToAddress(req.Sender).Hex()
	}
	raw, best, err := c.bestRoute(ctx, quoteParams{
		fromChain: uint64(req.Source.EVMChainID),
		toChain:   uint64(req.Destination.EVMChainID),
		fromToken: srcToken,
		toToken:   dstToken,
		amount:    req.Amount,
		sender:    sender,
		recipient: sender,
		slippage:  defaultSlippage,
	})
	if err != nil {
		return model.RouteQuote{}, err
	}
	out, ok := new(big.Int).SetString(best.ToAmount, 10)
	if !ok {
		return model.RouteQuote{}, clierr.New(clierr.CodeFeeQuoteFailure, "socket: route is missing toAmount")
	}
	// The native fee is whatever build-tx asks for above the bridged amount,
	// so the quote and the later execution agree on it.
	built, err := c.buildRoute(ctx, raw, best, uint64(req.Source.EVMChainID))
	if err != nil {
		return model.RouteQuote{}, clierr.Wrap(clierr.CodeFeeQuoteFailure, "socket: quote native fee", err)
	}
	nativeFee := new(big.Int).Set(built.call.Value)
	if req.Token.Native {
		nativeFee.Sub(nativeFee, req.Amount)
	}
	if nativeFee.Sign() < 0 {
		nativeFee.SetInt64(0)
	}
	account := common.HexToAddress(sender)
	c.storeBuild(ctx, buildKey(best.RouteID, account, account), built)

	minutes := c.desc.EstimatedMinutes(source, destination)
	if best.ServiceTime > 0 {
		minutes = int((best.ServiceTime + 59) / 60)
	}

	now := c.now().UTC()
	q := model.RouteQuote{
		Provider:         c.desc.Name,
		SourceChain:      source,
		DestinationChain: destination,
		Token:            symbol,
		Amount:           providers.AmountInfo(req.Amount, req.Token.Decimals, symbol),
		NativeFee:        providers.AmountInfo(nativeFee, 18, req.Source.NativeSymbol),
		ProtocolFee:      providers.AmountInfo(providers.ProtocolFee(req.Amount, c.desc.FeeBps), req.Token.Decimals, symbol),
		EstimatedOut:     providers.AmountInfo(out, req.Token.Decimals, symbol),
		EstimatedMinutes: minutes,
		Details: model.RouteDetails{
			SourceToken:        srcToken,
			DestinationToken:   dstToken,
			SourceChainID:      uint64(req.Source.EVMChainID),
			DestinationChainID: uint64(req.Destination.EVMChainID),
			RouteID:            best.RouteID,
			Raw:                raw,
		},
		QuotedAt:  now,
		ExpiresAt: now.Add(quoteTTL),
	}
	c.log.Debug().
		Str("route_id", best.RouteID).
		Strs("bridges", best.UsedBridgeNames).
		Str("to_amount", best.ToAmount).
		Str("native_fee", nativeFee.String()).
		Msg("quoted route")
	return q, nil
}

type quoteParams struct {
	fromChain, toChain uint64
	fromToken, toToken string
	amount             *big.Int
	sender, recipient  string
	slippage           float64
}

// bestRoute returns the route with the largest output.
func (c *Client) bestRoute(ctx context.Context, p quoteParams) (json.RawMessage, route, error) {
	vals := url.Values{}
	vals.Set("fromChainId", strconv.FormatUint(p.fromChain, 10))
	vals.Set("toChainId", strconv.FormatUint(p.toChain, 10))
	vals.Set("fromTokenAddress", p.fromToken)
	vals.Set("toTokenAddress", p.toToken)
	vals.Set("fromAmount", p.amount.String())
	vals.Set("userAddress", p.sender)
	vals.Set("recipient", p.recipient)
	vals.Set("uniqueRoutesPerBridge", "true")
	vals.Set("singleTxOnly", "true")
	vals.Set("sort", "output")
	vals.Set("defaultBridgeSlippage", strconv.FormatFloat(p.slippage, 'f', -1, 64))

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+vals.Encode(), nil)
	if err != nil {
		return nil, route{}, clierr.Wrap(clierr.CodeInternal, "build socket quote request", err)
	}
	c.authorize(hReq.Header)
	var resp envelope[quoteResult]
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, route{}, c.wrap(err)
	}
	if !resp.Success {
		return nil, route{}, clierr.New(clierr.CodeFeeQuoteFailure, "socket: "+apiMessage(resp.Message, "quote failed"))
	}

	var (
		bestRaw json.RawMessage
		best    route
		bestOut *big.Int
	)
	for _, raw := range resp.Result.Routes {
		var r route
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		out, ok := new(big.Int).SetString(strings.TrimSpace(r.ToAmount), 10)
		if !ok {
			continue
		}
		if bestOut == nil || out.Cmp(bestOut) > 0 {
			bestRaw, best, bestOut = raw, r, out
		}
	}
	if bestOut == nil {
		return nil, route{}, clierr.New(clierr.CodeNoValidRoute, "socket: no routes returned")
	}
	return bestRaw, best, nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set(apiKeyHeader, c.apiKey)
	}
}

func (c *Client) wrap(err error) error {
	if clierr.HasCode(err, clierr.CodeUsage) || clierr.HasCode(err, clierr.CodeUnsupported) {
		return clierr.Wrap(clierr.CodeFeeQuoteFailure, "socket: request rejected", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "socket: request failed", err)
}

func (c *Client) unsupported(symbol, slug string) error {
	return clierr.New(clierr.CodeUnsupportedAsset, fmt.Sprintf("%s: %s is not supported on %s", c.desc.Name, strings.ToUpper(symbol), slug))
}

// build returns the ready-to-sign transaction for req. A quote taken for a
// different account is refreshed for the real sender and recipient first,
// since the API binds the route to both.
func (c *Client) build(ctx context.Context, req providers.TransferRequest) (builtTx, error) {
	q := req.Quote
	key := buildKey(q.Details.RouteID, req.Sender, req.Recipient)
	if cached, ok := c.cachedBuild(ctx, key); ok {
		return cached, nil
	}

	raw := q.Details.Raw
	var r route
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &r)
	}
	if len(raw) == 0 || !strings.EqualFold(r.Sender, req.Sender.Hex()) || !strings.EqualFold(r.Recipient, req.Recipient.Hex()) {
		slippage := req.SlippagePercent
		if slippage <= 0 {
			slippage = defaultSlippage
		}
		var err error
		raw, r, err = c.bestRoute(ctx, quoteParams{
			fromChain: q.Details.SourceChainID,
			toChain:   q.Details.DestinationChainID,
			fromToken: q.Details.SourceToken,
			toToken:   q.Details.DestinationToken,
			amount:    req.Amount(),
			sender:    req.Sender.Hex(),
			recipient: req.Recipient.Hex(),
			slippage:  slippage,
		})
		if err != nil {
			return builtTx{}, err
		}
	}

	built, err := c.buildRoute(ctx, raw, r, q.Details.SourceChainID)
	if err != nil {
		return builtTx{}, err
	}
	c.storeBuild(ctx, key, built)
	return built, nil
}

// buildRoute posts raw to build-tx and decodes the transaction it returns.
func (c *Client) buildRoute(ctx context.Context, raw json.RawMessage, r route, sourceChainID uint64) (builtTx, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"route": raw})
	if err != nil {
		return builtTx{}, clierr.Wrap(clierr.CodeInternal, "encode socket build request", err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers[apiKeyHeader] = c.apiKey
	}
	var resp envelope[buildResult]
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/build-tx", body, headers, &resp); err != nil {
		return builtTx{}, c.wrap(err)
	}
	if !resp.Success {
		return builtTx{}, clierr.New(clierr.CodeUnavailable, "socket: "+apiMessage(resp.Message, "build-tx failed"))
	}
	res := resp.Result
	if !common.IsHexAddress(res.TxTarget) || strings.TrimSpace(res.TxData) == "" {
		return builtTx{}, clierr.New(clierr.CodeUnavailable, "socket: build-tx response is missing the transaction payload")
	}
	if res.ChainID != 0 && uint64(res.ChainID) != sourceChainID {
		return builtTx{}, clierr.New(clierr.CodeUnavailable, "socket: build-tx chain does not match the source chain")
	}
	data, err := hexutil.Decode(ensureHexPrefix(res.TxData))
	if err != nil {
		return builtTx{}, clierr.Wrap(clierr.CodeUnavailable, "socket: decode txData", err)
	}
	value, err := parseValue(res.Value)
	if err != nil {
		return builtTx{}, clierr.Wrap(clierr.CodeUnavailable, "socket: decode value", err)
	}
	out, _ := new(big.Int).SetString(strings.TrimSpace(r.ToAmount), 10)
	built := builtTx{
		call: chain.TxRequest{To: common.HexToAddress(res.TxTarget), Data: data, Value: value},
		out:  out,
	}
	if res.ApprovalData != nil && common.IsHexAddress(res.ApprovalData.AllowanceTarget) {
		built.spender = res.ApprovalData.AllowanceTarget
	}
	return built, nil
}

// QuoteMessagingFee is the transaction value above the transferred amount.
func (c *Client) QuoteMessagingFee(ctx context.Context, req providers.TransferRequest) (*big.Int, error) {
	b, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Set(b.call.Value)
	if req.Native() {
		fee.Sub(fee, req.Amount())
	}
	if fee.Sign() < 0 {
		fee.SetInt64(0)
	}
	return fee, nil
}

func (c *Client) Spender(ctx context.Context, req providers.TransferRequest) (common.Address, bool, error) {
	if req.Native() {
		return common.Address{}, false, nil
	}
	b, err := c.build(ctx, req)
	if err != nil {
		return common.Address{}, false, err
	}
	if b.spender == "" {
		return common.Address{}, false, nil
	}
	return common.HexToAddress(b.spender), true, nil
}

func (c *Client) BuildTransfer(ctx context.Context, req providers.TransferRequest) (chain.TxRequest, error) {
	b, err := c.build(ctx, req)
	if err != nil {
		return chain.TxRequest{}, err
	}
	if req.MinAmountOut != nil && b.out != nil && b.out.Cmp(req.MinAmountOut) < 0 {
		return chain.TxRequest{}, clierr.New(clierr.CodeSlippageExceeded, fmt.Sprintf("socket: route output %s is below the minimum %s", b.out, req.MinAmountOut))
	}
	return b.call, nil
}

func (c *Client) ExecuteBridge(ctx context.Context, req providers.TransferRequest, tx chain.Transactor) (model.BridgeRecord, error) {
	return providers.ExecuteTransfer(ctx, c, req, tx)
}

// Transfer states reported by the bridge-status endpoint.
const (
	TxPending   = "PENDING"
	TxCompleted = "COMPLETED"
	TxFailed    = "FAILED"
)

type BridgeStatus struct {
	SourceTxStatus      string `json:"sourceTxStatus"`
	DestinationTxStatus string `json:"destinationTxStatus"`
	DestinationTxHash   string `json:"destinationTransactionHash"`
}

// Status asks the aggregator how far a submitted transfer has progressed.
func (c *Client) Status(ctx context.Context, txHash string, fromChainID, toChainID uint64) (BridgeStatus, error) {
	vals := url.Values{}
	vals.Set("transactionHash", txHash)
	vals.Set("fromChainId", strconv.FormatUint(fromChainID, 10))
	vals.Set("toChainId", strconv.FormatUint(toChainID, 10))
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bridge-status?"+vals.Encode(), nil)
	if err != nil {
		return BridgeStatus{}, clierr.Wrap(clierr.CodeInternal, "build socket status request", err)
	}
	c.authorize(hReq.Header)
	var resp envelope[BridgeStatus]
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return BridgeStatus{}, clierr.Wrap(clierr.CodeMonitoringUnavailable, "socket: bridge status", err)
	}
	if !resp.Success {
		return BridgeStatus{}, clierr.New(clierr.CodeMonitoringUnavailable, "socket: "+apiMessage(resp.Message, "bridge status failed"))
	}
	resp.Result.SourceTxStatus = strings.ToUpper(strings.TrimSpace(resp.Result.SourceTxStatus))
	resp.Result.DestinationTxStatus = strings.ToUpper(strings.TrimSpace(resp.Result.DestinationTxStatus))
	return resp.Result, nil
}

func apiMessage(v any, fallback string) string {
	switch t := v.(type) {
	case string:
		if msg := strings.TrimSpace(t); msg != "" {
			return msg
		}
	case map[string]any:
		if msg, ok := t["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return fallback
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return "0x" + clean[2:]
	}
	return "0x" + clean
}

// parseValue accepts hex or decimal wei.
func parseValue(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		n, ok := new(big.Int).SetString(clean[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex value %q", v)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}

var _ providers.Adapter = (*Client)(nil)
