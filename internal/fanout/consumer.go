package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/krevetka-D/conecta-realtime/internal/config"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// KafkaConsumer relays events produced by other instances to the local
// sessions of the affected room. Events originating from this instance are
// skipped; their local delivery already happened at produce time.
type KafkaConsumer struct {
	consumer   *kafka.Consumer
	topic      string
	instanceID string
	relay      func(roomID string, payload []byte)
}

func NewKafkaConsumer(cfg config.KafkaConfig, instanceID string, relay func(roomID string, payload []byte)) (*KafkaConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                fmt.Sprintf("%s-%s", cfg.GroupID, instanceID),
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &KafkaConsumer{
		consumer:   c,
		topic:      cfg.Topic,
		instanceID: instanceID,
		relay:      relay,
	}, nil
}

func (kc *KafkaConsumer) Run(ctx context.Context) error {
	if err := kc.consumer.Subscribe(kc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", kc.topic, err)
	}

	log.L().Info().Str("topic", kc.topic).Msg("fanout consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ev := kc.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			kc.handle(e.Value)
		case kafka.Error:
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
			log.L().Warn().Err(e).Msg("kafka consumer error")
		default:
			// Ignore rebalance and commit acknowledgements.
		}
	}
}

func (kc *KafkaConsumer) handle(value []byte) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		log.L().Warn().Err(err).Msg("dropping malformed fanout envelope")
		return
	}
	if env.Origin == kc.instanceID {
		return
	}
	kc.relay(env.RoomID, env.Payload)
}

func (kc *KafkaConsumer) Close() error {
	return kc.consumer.Close()
}
