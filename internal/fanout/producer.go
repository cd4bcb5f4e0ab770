package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/krevetka-D/conecta-realtime/internal/config"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// KafkaProducer broadcasts room events to the shared topic. Keying by room
// id keeps each room's events in one partition, preserving order.
type KafkaProducer struct {
	producer   *kafka.Producer
	topic      string
	instanceID string
	doneCh     chan struct{}
}

func NewKafkaProducer(cfg config.KafkaConfig, instanceID string) (*KafkaProducer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaProducer{
		producer:   p,
		topic:      cfg.Topic,
		instanceID: instanceID,
		doneCh:     make(chan struct{}),
	}

	go kp.deliveryReportHandler()

	return kp, nil
}

func (kp *KafkaProducer) deliveryReportHandler() {
	for e := range kp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.L().Warn().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
			}
		}
	}
	close(kp.doneCh)
}

func (kp *KafkaProducer) Broadcast(ctx context.Context, roomID string, payload []byte) error {
	value, err := json.Marshal(Envelope{
		RoomID:  roomID,
		Origin:  kp.instanceID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fanout envelope: %w", err)
	}

	err = kp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(roomID),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}

	return nil
}

func (kp *KafkaProducer) Close() error {
	kp.producer.Flush(5000)
	kp.producer.Close()
	<-kp.doneCh
	return nil
}

var _ Broadcaster = (*KafkaProducer)(nil)
