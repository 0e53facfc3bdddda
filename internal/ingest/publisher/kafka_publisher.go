package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/shared/kafka"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// catalogKey é a chave única das mensagens de catálogo (uma partição, ordem total)
const catalogKey = "catalog"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher encapsula os writers Kafka de mudanças e de catálogo.
type KafkaPublisher struct {
	changes messageWriter
	catalog messageWriter
	log     *zap.Logger
	now     func() time.Time
}

// NewKafkaPublisher cria um writer por tópico. As mensagens de mudança usam
// o entity_id como chave, então todas as mudanças de uma partida caem na
// mesma partição e chegam ao processor na ordem em que foram geradas.
func NewKafkaPublisher(brokers []string, changesTopic, catalogTopic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		changes: kafka.NewWriter(brokers, changesTopic),
		catalog: kafka.NewWriter(brokers, catalogTopic),
		log:     log,
		now:     time.Now,
	}
}

// PublishChanges serializa as mensagens e envia tudo num único WriteMessages.
func (p *KafkaPublisher) PublishChanges(ctx context.Context, msgs []events.ChangeMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	now := p.now()
	batch := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			p.log.Warn("skipping invalid change", zap.String("type", string(m.Type)), zap.Error(err))
			continue
		}
		value, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", m.Type, err)
		}
		batch = append(batch, kafka.Message{
			Key:   []byte(m.EntityID()),
			Value: value,
			Time:  now,
		})
	}
	if len(batch) == 0 {
		return nil
	}

	if err := p.changes.WriteMessages(ctx, batch...); err != nil {
		p.log.Error("failed to publish changes", zap.Int("count", len(batch)), zap.Error(err))
		return err
	}

	p.log.Debug("published changes", zap.Int("count", len(batch)))
	return nil
}

func (p *KafkaPublisher) PublishCatalog(ctx context.Context, cat events.Catalog) error {
	value, err := json.Marshal(cat)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(catalogKey), Value: value, Time: p.now()}
	if err := p.catalog.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish catalog", zap.Error(err))
		return err
	}
	p.log.Info("published catalog", zap.Int("leagues", len(cat.Leagues)))
	return nil
}

// Close finaliza os writers e libera recursos associados.
func (p *KafkaPublisher) Close() error {
	err1 := p.changes.Close()
	err2 := p.catalog.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
