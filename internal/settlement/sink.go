package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ggonzalez94/xbridge/internal/model"
)

// RecordSaver is the persistence the store sink writes through.
type RecordSaver interface {
	Save(ctx context.Context, rec model.BridgeRecord) error
}

// StoreSink persists the record after every transition.
type StoreSink struct {
	Store RecordSaver
}

func (s StoreSink) Publish(ctx context.Context, rec model.BridgeRecord, _ []model.StatusChange) error {
	return s.Store.Save(ctx, rec)
}

// TransitionEvent is the message published for each status change.
type TransitionEvent struct {
	RecordID          string                 `json:"record_id"`
	Provider          string                 `json:"provider"`
	SourceChain       string                 `json:"source_chain"`
	DestinationChain  string                 `json:"destination_chain"`
	Token             string                 `json:"token"`
	Amount            string                 `json:"amount_base_units"`
	SourceTxHash      string                 `json:"source_tx_hash"`
	DestinationTxHash string                 `json:"destination_tx_hash,omitempty"`
	From              model.SettlementStatus `json:"from"`
	To                model.SettlementStatus `json:"to"`
	Detail            string                 `json:"detail,omitempty"`
	At                time.Time              `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per transition, keyed by record id so a
// record's events stay ordered within a partition.
type KafkaSink struct {
	mu     sync.Mutex
	writer messageWriter
	log    zerolog.Logger
}

func NewKafkaSink(brokers []string, topic string, log zerolog.Logger) (*KafkaSink, error) {
	clean := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if v := strings.TrimSpace(b); v != "" {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 || strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka sink requires brokers and a topic")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(clean...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log.With().Str("sink", "kafka").Str("topic", topic).Logger(),
	}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, rec model.BridgeRecord, changes []model.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		value, err := json.Marshal(TransitionEvent{
			RecordID:          rec.ID,
			Provider:          rec.Provider,
			SourceChain:       rec.SourceChain,
			DestinationChain:  rec.DestinationChain,
			Token:             rec.Token,
			Amount:            rec.Amount.AmountBaseUnits,
			SourceTxHash:      rec.SourceTxHash,
			DestinationTxHash: rec.DestinationTxHash,
			From:              c.From,
			To:                c.To,
			Detail:            c.Detail,
			At:                c.At,
		})
		if err != nil {
			return fmt.Errorf("marshal transition event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(rec.ID), Value: value, Time: c.At})
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return fmt.Errorf("kafka sink closed")
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write transition to kafka: %w", err)
	}
	k.log.Debug().Str("record", rec.ID).Int("events", len(msgs)).Msg("published settlement transitions")
	return nil
}

func (k *KafkaSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}
