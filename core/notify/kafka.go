// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic is the topic of record notifications
const DefaultKafkaTopic = "record_notification"

// Kafka is a sink which produces notifications to a Kafka topic. Messages are keyed
// by record, so that the changes of one record stay in order.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka returns a Kafka sink for the brokers and topic
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers")
	}
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Name implements Sink
func (k *Kafka) Name() string { return "kafka" }

// Send implements Sink
func (k *Kafka) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Resource + "/" + n.RecordID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "resource", Value: []byte(n.Resource)},
			{Key: "operation", Value: []byte(n.Operation)},
		},
	})
}

// Close flushes and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
