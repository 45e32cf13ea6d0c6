package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

// errUntrackable means no destination log can ever identify the transfer.
var errUntrackable = errors.New("completion event cannot identify this transfer")

// cachedLog is the part of a log the matcher needs.
type cachedLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        []byte         `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
}

// findCompletion searches the last SearchWindow destination blocks for ev.
// A log matches when every identifying argument the event carries agrees with
// the record: source chain id, recipient, the destination Target contract and
// the transfer id read from the source receipt. Amount and nonce are not
// compared.
func (m *Monitor) findCompletion(ctx context.Context, backend chain.Backend, chainSlug string, desc registry.Descriptor, ev registry.CompletionEvent, contracts registry.Contracts, rec model.BridgeRecord) (cachedLog, bool, error) {
	parsed, event, err := parseEvent(ev.ABI, ev.Name)
	if err != nil {
		return cachedLog{}, false, err
	}

	var wantSource *big.Int
	switch {
	case ev.SourceChainArg != "":
		v, ok := desc.ProtocolChainID(rec.SourceChain)
		if !ok {
			return cachedLog{}, false, fmt.Errorf("%w: %s has no chain id for %s", errUntrackable, desc.Name, rec.SourceChain)
		}
		wantSource = new(big.Int).SetUint64(v)
	case ev.SourceEvent != "":
		if strings.TrimSpace(rec.TransferID) == "" {
			return cachedLog{}, false, fmt.Errorf("%w: source transaction emitted no %s", errUntrackable, ev.SourceEvent)
		}
	case !ev.AppliesTo(rec.SourceChain):
		return cachedLog{}, false, fmt.Errorf("%w: %s only reports transfers from %s", errUntrackable, ev.Name, ev.ImpliedSource)
	}
	var target common.Address
	if ev.TargetArg != "" {
		if !common.IsHexAddress(contracts.Target) {
			return cachedLog{}, false, fmt.Errorf("%w: %s has no %s on %s", errUntrackable, desc.Name, ev.TargetArg, chainSlug)
		}
		target = common.HexToAddress(contracts.Target)
	}
	receiver := common.HexToAddress(contracts.Receiver)

	if err := m.wait(ctx); err != nil {
		return cachedLog{}, false, err
	}
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return cachedLog{}, false, fmt.Errorf("read destination head: %w", err)
	}
	from := uint64(0)
	if head > m.cfg.SearchWindow {
		from = head - m.cfg.SearchWindow
	}
	logs, err := m.queryLogs(ctx, backend, chainSlug, receiver, event.ID, from, head)
	if err != nil {
		return cachedLog{}, false, err
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		values := map[string]interface{}{}
		if err := abi.ParseTopicsIntoMap(values, indexed, l.Topics[1:]); err != nil {
			m.log.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("skip undecodable completion topics")
			continue
		}
		if err := parsed.UnpackIntoMap(values, event.Name, l.Data); err != nil {
			m.log.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("skip undecodable completion data")
			continue
		}
		if wantSource != nil {
			got, ok := toBig(values[ev.SourceChainArg])
			if !ok || got.Cmp(wantSource) != 0 {
				continue
			}
		}
		if ev.RecipientArg != "" {
			got, ok := values[ev.RecipientArg].(common.Address)
			if !ok || got != common.HexToAddress(rec.Recipient) {
				continue
			}
		}
		if ev.TargetArg != "" {
			got, ok := values[ev.TargetArg].(common.Address)
			if !ok || got != target {
				continue
			}
		}
		if ev.TransferIDArg != "" {
			got, ok := values[ev.TransferIDArg].([32]byte)
			if !ok || common.Hash(got) != common.HexToHash(rec.TransferID) {
				continue
			}
		}
		return l, true, nil
	}
	return cachedLog{}, false, nil
}

// transferID returns the id ev.SourceEvent carries in the source receipt. Only
// logs emitted by the source chain's Receiver contract are considered.
func transferID(ev registry.CompletionEvent, sourceReceiver common.Address, receipt *types.Receipt) (string, bool, error) {
	parsed, event, err := parseEvent(ev.ABI, ev.SourceEvent)
	if err != nil {
		return "", false, err
	}
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != sourceReceiver || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		values := map[string]interface{}{}
		if err := abi.ParseTopicsIntoMap(values, indexed, l.Topics[1:]); err != nil {
			continue
		}
		if err := parsed.UnpackIntoMap(values, event.Name, l.Data); err != nil {
			continue
		}
		if v, ok := values[ev.TransferIDArg].([32]byte); ok {
			return common.Hash(v).Hex(), true, nil
		}
	}
	return "", false, nil
}

func parseEvent(raw, name string) (abi.ABI, abi.Event, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, abi.Event{}, fmt.Errorf("parse %s abi: %w", name, err)
	}
	event, ok := parsed.Events[name]
	if !ok {
		return abi.ABI{}, abi.Event{}, fmt.Errorf("event %s missing from abi", name)
	}
	return parsed, event, nil
}

// queryLogs shares FilterLogs results between trackers polling the same
// receiver at the same head.
func (m *Monitor) queryLogs(ctx context.Context, backend chain.Backend, chainSlug string, receiver common.Address, topic common.Hash, from, to uint64) ([]cachedLog, error) {
	key := fmt.Sprintf("logs|%s|%s|%s|%d|%d", chainSlug, strings.ToLower(receiver.Hex()), topic.Hex(), from, to)
	if entry, ok, err := m.logs.Get(ctx, key); err == nil && ok {
		var cached []cachedLog
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			return cached, nil
		}
	}

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{receiver},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter destination logs: %w", err)
	}
	out := make([]cachedLog, 0, len(raw))
	for _, l := range raw {
		out = append(out, fromLog(l))
	}
	if buf, err := json.Marshal(out); err == nil {
		if err := m.logs.Set(ctx, key, buf, m.cfg.PollInterval); err != nil {
			m.log.Debug().Err(err).Msg("log cache write failed")
		}
	}
	return out, nil
}

func fromLog(l types.Log) cachedLog {
	return cachedLog{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
	}
}

func toBig(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		return n, n != nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	default:
		return nil, false
	}
}
