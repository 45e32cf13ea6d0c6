// Package relay submits pre-built transfer calls through a gas-abstraction
// relayer so the sender can pay fees in the transferred token.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

const (
	apiKeyHeader = "X-API-KEY"
	APIKeyEnvVar = "XBRIDGE_RELAY_API_KEY"
)

// MessageSigner signs an EIP-191 personal message.
type MessageSigner interface {
	Address() common.Address
	SignMessage(data []byte) ([]byte, error)
}

// Call is one sponsored call. FeeToken is the ERC-20 the relayer charges.
type Call struct {
	ChainID  int64
	Target   common.Address
	Data     []byte
	Value    *big.Int
	FeeToken common.Address
}

type Client struct {
	http         *httpx.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	log          zerolog.Logger
}

func New(httpClient *httpx.Client, baseURL, apiKey string, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.RelayBaseURL
	}
	if !registry.IsAllowedEndpoint(baseURL) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("relay endpoint must be https: %s", baseURL))
	}
	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       strings.TrimSpace(apiKey),
		pollInterval: 2 * time.Second,
		maxPolls:     60,
		log:          log.With().Str("component", "relay").Logger(),
	}, nil
}

// WithPolling overrides how task status is polled after submission.
func (c *Client) WithPolling(interval time.Duration, maxPolls int) *Client {
	if interval > 0 {
		c.pollInterval = interval
	}
	if maxPolls > 0 {
		c.maxPolls = maxPolls
	}
	return c
}

type submitBody struct {
	ChainID   int64  `json:"chainId"`
	From      string `json:"from"`
	Target    string `json:"target"`
	Data      string `json:"data"`
	Value     string `json:"value"`
	FeeToken  string `json:"feeToken"`
	Signature string `json:"signature"`
}

type taskResponse struct {
	TaskID string `json:"taskId"`
	TxHash string `json:"txHash"`
	Task   struct {
		TaskState string `json:"taskState"`
		TxHash    string `json:"transactionHash"`
		Message   string `json:"lastCheckMessage"`
	} `json:"task"`
}

// Digest is the hash the sender signs to authorize a call.
func Digest(from common.Address, call Call) []byte {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	return crypto.Keccak256(
		common.LeftPadBytes(big.NewInt(call.ChainID).Bytes(), 32),
		from.Bytes(),
		call.Target.Bytes(),
		crypto.Keccak256(call.Data),
		common.LeftPadBytes(value.Bytes(), 32),
		call.FeeToken.Bytes(),
	)
}

// Submit signs the call and hands it to the relayer, returning the hash of
// the transaction the relayer broadcast.
func (c *Client) Submit(ctx context.Context, s MessageSigner, call Call) (common.Hash, error) {
	if s == nil {
		return common.Hash{}, clierr.New(clierr.CodeSigner, "relay submission requires a signer")
	}
	from := s.Address()
	sig, err := s.SignMessage(Digest(from, call))
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign relay request", err)
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	body, err := json.Marshal(submitBody{
		ChainID:   call.ChainID,
		From:      from.Hex(),
		Target:    call.Target.Hex(),
		Data:      hexutil.Encode(call.Data),
		Value:     value.String(),
		FeeToken:  call.FeeToken.Hex(),
		Signature: hexutil.Encode(sig),
	})
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeInternal, "marshal relay request", err)
	}

	var resp taskResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/relays/v2/call", body, c.headers(), &resp); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeExecutionFailure, "relay submission failed", err)
	}
	c.log.Info().Str("task", resp.TaskID).Int64("chain", call.ChainID).Str("target", call.Target.Hex()).Msg("relay accepted call")
	if hash := strings.TrimSpace(resp.TxHash); hash != "" {
		return common.HexToHash(hash), nil
	}
	if strings.TrimSpace(resp.TaskID) == "" {
		return common.Hash{}, clierr.New(clierr.CodeExecutionFailure, "relay returned neither task id nor tx hash")
	}
	return c.waitTask(ctx, resp.TaskID)
}

func (c *Client) waitTask(ctx context.Context, taskID string) (common.Hash, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	endpoint := c.baseURL + "/tasks/status/" + url.PathEscape(taskID)
	for i := 0; i < c.maxPolls; i++ {
		var resp taskResponse
		if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, endpoint, nil, c.headers(), &resp); err != nil {
			c.log.Warn().Err(err).Str("task", taskID).Msg("relay status poll failed")
		} else {
			switch strings.ToLower(resp.Task.TaskState) {
			case "cancelled", "execreverted", "blacklisted", "notfound":
				out := clierr.New(clierr.CodeExecutionFailure, "relay task "+strings.ToLower(resp.Task.TaskState)).WithDetail("task_id", taskID)
				if msg := strings.TrimSpace(resp.Task.Message); msg != "" {
					out = out.WithDetail("revert_reason", msg)
				}
				return common.Hash{}, out
			}
			if hash := strings.TrimSpace(resp.Task.TxHash); hash != "" {
				return common.HexToHash(hash), nil
			}
		}
		select {
		case <-ctx.Done():
			return common.Hash{}, clierr.Wrap(clierr.CodeTimeout, "waiting for relay task", ctx.Err()).WithDetail("task_id", taskID)
		case <-ticker.C:
		}
	}
	return common.Hash{}, clierr.New(clierr.CodeTimeout, "relay task did not produce a transaction").WithDetail("task_id", taskID)
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{apiKeyHeader: c.apiKey}
}
