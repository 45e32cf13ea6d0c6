package onchain

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
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xbridge/internal/chain"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

var acrossSpokePoolABI = chain.MustParseABI(registry.AcrossSpokePoolABI)

const acrossFillWindow = 4 * time.Hour

// across deposits into the SpokePool. Relayers front the funds on the
// destination and keep the suggested relay fee, so the output amount is set
// below the input by that fee.
type across struct {
	http    *httpx.Client
	baseURL string
}

// acrossTerms are the relayer terms from suggested-fees that depositV3 needs.
type acrossTerms struct {
	ExclusiveRelayer    string `json:"exclusive_relayer,omitempty"`
	ExclusivityDeadline uint32 `json:"exclusivity_deadline,omitempty"`
	FillDeadline        uint32 `json:"fill_deadline,omitempty"`
}

func NewAcross(backends chain.Backends, httpClient *httpx.Client, baseURL string, log zerolog.Logger) *Adapter {
	d, _ := registry.Lookup(registry.ProviderAcross)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.AcrossBaseURL
	}
	return New(d, &across{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}, backends, log)
}

// depositTokens maps native ETH to WETH, which is what the SpokePool accounts in.
func depositTokens(q model.RouteQuote) (input, output string, err error) {
	input, output = q.Details.SourceToken, q.Details.DestinationToken
	if id.IsNativeAddress(input) {
		if input, err = wrapped(q.SourceChain); err != nil {
			return "", "", err
		}
	}
	if id.IsNativeAddress(output) {
		if output, err = wrapped(q.DestinationChain); err != nil {
			return "", "", err
		}
	}
	return input, output, nil
}

func wrapped(slug string) (string, error) {
	addr, ok := registry.WrappedNative(slug)
	if !ok {
		return "", clierr.New(clierr.CodeUnsupportedAsset, "across: no wrapped native token on "+slug)
	}
	return addr, nil
}

func (a *across) Quote(ctx context.Context, _ Route, req providers.RouteRequest, q *model.RouteQuote) error {
	input, output, err := depositTokens(*q)
	if err != nil {
		return err
	}
	vals := url.Values{}
	vals.Set("inputToken", input)
	vals.Set("outputToken", output)
	vals.Set("originChainId", strconv.FormatUint(q.Details.SourceChainID, 10))
	vals.Set("destinationChainId", strconv.FormatUint(q.Details.DestinationChainID, 10))
	vals.Set("amount", req.Amount.String())

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/suggested-fees?"+vals.Encode(), nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build across fees request", err)
	}
	var fees map[string]any
	if _, err := a.http.DoJSON(ctx, hReq, &fees); err != nil {
		return err
	}

	relayFee, ok := new(big.Int).SetString(pickNumberString(fees, "totalRelayFee", "relayFeeTotal"), 10)
	if !ok {
		return fmt.Errorf("across suggested-fees response has no relay fee")
	}
	if relayFee.Cmp(req.Amount) >= 0 {
		return fmt.Errorf("amount does not cover the across relay fee of %s", relayFee)
	}
	ts, _ := strconv.ParseUint(pickNumberString(fees, "timestamp", "quoteTimestamp"), 10, 32)
	if ts == 0 {
		return fmt.Errorf("across suggested-fees response has no quote timestamp")
	}
	terms := acrossTerms{ExclusiveRelayer: stringField(fees, "exclusiveRelayer")}
	if v, err := strconv.ParseUint(pickNumberString(fees, "exclusivityDeadline"), 10, 32); err == nil {
		terms.ExclusivityDeadline = uint32(v)
	}
	if v, err := strconv.ParseUint(pickNumberString(fees, "fillDeadline"), 10, 32); err == nil {
		terms.FillDeadline = uint32(v)
	}
	raw, err := json.Marshal(terms)
	if err != nil {
		return err
	}
	q.Details.RelayerFee = relayFee.String()
	q.Details.QuoteTimestamp = uint32(ts)
	q.Details.Raw = raw
	if secs := pickNumberString(fees, "estimatedFillTimeSec"); secs != "" {
		if v, err := strconv.Atoi(secs); err == nil && v > 0 {
			q.EstimatedMinutes = (v + 59) / 60
		}
	}
	return nil
}

// Across takes its fee out of the bridged amount; no native fee is attached.
func (a *across) MessagingFee(context.Context, Route, model.RouteQuote, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (a *across) Calldata(r Route, req providers.TransferRequest) (chain.TxRequest, error) {
	q := req.Quote
	input, output, err := depositTokens(q)
	if err != nil {
		return chain.TxRequest{}, err
	}
	relayFee, ok := new(big.Int).SetString(q.Details.RelayerFee, 10)
	if !ok {
		return chain.TxRequest{}, fmt.Errorf("quote is missing the across relay fee")
	}
	var terms acrossTerms
	if len(q.Details.Raw) > 0 {
		if err := json.Unmarshal(q.Details.Raw, &terms); err != nil {
			return chain.TxRequest{}, fmt.Errorf("decode across terms: %w", err)
		}
	}
	fillDeadline := terms.FillDeadline
	if fillDeadline == 0 {
		fillDeadline = uint32(req.At().Add(acrossFillWindow).Unix())
	}
	exclusiveRelayer := common.Address{}
	if common.IsHexAddress(terms.ExclusiveRelayer) {
		exclusiveRelayer = common.HexToAddress(terms.ExclusiveRelayer)
	}

	outputAmount := new(big.Int).Sub(req.Amount(), relayFee)
	if req.MinAmountOut.Cmp(outputAmount) < 0 {
		outputAmount.Set(req.MinAmountOut)
	}
	data, err := acrossSpokePoolABI.Pack("depositV3",
		req.Sender,
		req.Recipient,
		common.HexToAddress(input),
		common.HexToAddress(output),
		req.Amount(),
		outputAmount,
		new(big.Int).SetUint64(q.Details.DestinationChainID),
		exclusiveRelayer,
		q.Details.QuoteTimestamp,
		fillDeadline,
		terms.ExclusivityDeadline,
		[]byte{},
	)
	if err != nil {
		return chain.TxRequest{}, err
	}
	return chain.TxRequest{To: common.HexToAddress(r.Source.Entrypoint), Data: data, Value: nativeValue(req)}, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func pickNumberString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if out := numberString(v); out != "" {
				return out
			}
		}
	}
	return ""
}

func numberString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', 0, 64)
	case map[string]any:
		if out := numberString(t["total"]); out != "" {
			return out
		}
		return numberString(t["amount"])
	default:
		return ""
	}
}
