package model

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"
)

// Fee payment modes for execution.
const (
	FeeModeNative = "native"
	FeeModeToken  = "token"
)

// Intent is the structured transfer request handed over by the natural
// language layer or read from an intent file.
type Intent struct {
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	GasPreference string `json:"gasPreference,omitempty"`
}

// RouteDetails is protocol-specific metadata needed to execute a quote.
type RouteDetails struct {
	SourceToken        string          `json:"source_token"`
	DestinationToken   string          `json:"destination_token"`
	SourceChainID      uint64          `json:"source_protocol_chain_id"`
	DestinationChainID uint64          `json:"destination_protocol_chain_id"`
	SourcePoolID       uint64          `json:"source_pool_id,omitempty"`
	DestinationPoolID  uint64          `json:"destination_pool_id,omitempty"`
	Entrypoint         string          `json:"entrypoint,omitempty"`
	Spender            string          `json:"spender,omitempty"`
	RelayerFee         string          `json:"relayer_fee,omitempty"`
	QuoteTimestamp     uint32          `json:"quote_timestamp,omitempty"`
	RouteID            string          `json:"route_id,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

type RouteQuote struct {
	Provider         string       `json:"provider"`
	SourceChain      string       `json:"source_chain"`
	DestinationChain string       `json:"destination_chain"`
	Token            string       `json:"token"`
	Amount           AmountInfo   `json:"amount"`
	NativeFee        AmountInfo   `json:"native_fee"`
	ProtocolFee      AmountInfo   `json:"protocol_fee"`
	EstimatedOut     AmountInfo   `json:"estimated_out"`
	EstimatedMinutes int          `json:"estimated_minutes"`
	Details          RouteDetails `json:"details"`
	QuotedAt         time.Time    `json:"quoted_at"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

// Expired reports whether the quote must no longer be served at now.
func (q RouteQuote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

type ScoredRoute struct {
	Route            RouteQuote `json:"route"`
	FeeScore         float64    `json:"fee_score"`
	TimeScore        float64    `json:"time_score"`
	ReliabilityScore float64    `json:"reliability_score"`
	LiquidityScore   float64    `json:"liquidity_score"`
	TotalScore       float64    `json:"total_score"`
	TotalFeeInToken  float64    `json:"total_fee_in_token"`
}

// SettlementStatus is the coalesced cross-chain state of one transfer.
type SettlementStatus string

const (
	StatusPending            SettlementStatus = "pending"
	StatusSourceConfirmed    SettlementStatus = "source_confirmed"
	StatusDestinationPending SettlementStatus = "destination_pending"
	StatusCompleted          SettlementStatus = "completed"
	StatusFailed             SettlementStatus = "failed"
	StatusUnknown            SettlementStatus = "unknown"
)

func (s SettlementStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusUnknown:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[SettlementStatus][]SettlementStatus{
	StatusPending:            {StatusSourceConfirmed, StatusFailed, StatusUnknown},
	StatusSourceConfirmed:    {StatusDestinationPending, StatusFailed, StatusUnknown},
	StatusDestinationPending: {StatusCompleted, StatusFailed, StatusUnknown},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to SettlementStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseSettlementStatus(v string) (SettlementStatus, bool) {
	s := SettlementStatus(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusPending, StatusSourceConfirmed, StatusDestinationPending, StatusCompleted, StatusFailed, StatusUnknown:
		return s, true
	default:
		return "", false
	}
}

type StatusChange struct {
	From   SettlementStatus `json:"from"`
	To     SettlementStatus `json:"to"`
	At     time.Time        `json:"at"`
	Detail string           `json:"detail,omitempty"`
}

// BridgeRecord tracks one submitted transfer. Only the settlement monitor
// mutates Status, and only forward.
type BridgeRecord struct {
	ID                string           `json:"id"`
	Provider          string           `json:"provider"`
	SourceChain       string           `json:"source_chain"`
	DestinationChain  string           `json:"destination_chain"`
	Token             string           `json:"token"`
	Amount            AmountInfo       `json:"amount"`
	MinAmountOut      AmountInfo       `json:"min_amount_out"`
	MessagingFee      string           `json:"messaging_fee_wei,omitempty"`
	Sender            string           `json:"sender"`
	Recipient         string           `json:"recipient"`
	SourceTxHash      string           `json:"source_tx_hash"`
	ApprovalTxHash    string           `json:"approval_tx_hash,omitempty"`
	Relayed           bool             `json:"relayed,omitempty"`
	SourceBlock       uint64           `json:"source_block,omitempty"`
	TransferID        string           `json:"transfer_id,omitempty"`
	DestinationTxHash string           `json:"destination_tx_hash,omitempty"`
	Status            SettlementStatus `json:"status"`
	StatusDetail      string           `json:"status_detail,omitempty"`
	SubmittedAt       time.Time        `json:"submitted_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	History           []StatusChange   `json:"history,omitempty"`
}

// Advance moves the record to next if the state machine allows it and returns
// whether anything changed. Terminal records never change.
func (r *BridgeRecord) Advance(next SettlementStatus, detail string, at time.Time) bool {
	if r.Status == next || !CanTransition(r.Status, next) {
		return false
	}
	r.History = append(r.History, StatusChange{From: r.Status, To: next, At: at, Detail: detail})
	r.Status = next
	r.StatusDetail = detail
	r.UpdatedAt = at
	return true
}

// BaseUnits parses AmountBaseUnits, returning zero for empty or invalid values.
func (a AmountInfo) BaseUnits() *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(a.AmountBaseUnits), 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
