package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes messages to a topic consumed by the delivery
// gateway. Messages are keyed by case reference so one case stays ordered.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier requires a topic")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (n *KafkaNotifier) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(webhookBody{
		DeliveryID:      id,
		Channel:         msg.Channel,
		Recipient:       msg.Recipient,
		Template:        msg.Template,
		Personalisation: msg.Personalisation,
		Reference:       msg.Reference,
	})
	if err != nil {
		return "", err
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic: n.topic,
		Key:   []byte(msg.Reference),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
