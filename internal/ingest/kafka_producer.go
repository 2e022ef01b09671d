package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes driver location updates and dispatch lifecycle
// events on separate topics.
type KafkaProducer struct {
	locations *kafka.Writer
	events    *kafka.Writer
}

func NewKafkaProducer(brokers []string, locationTopic, eventTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.LeastBytes{}}),
		events:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: eventTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (k *KafkaProducer) PublishLocation(d models.Driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(d)
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(d.ID), Value: b})
}

func (k *KafkaProducer) PublishDispatchEvent(evt models.DispatchEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(evt)
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(evt.RequestID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var err error
	if k.locations != nil {
		err = k.locations.Close()
	}
	if k.events != nil {
		if e := k.events.Close(); err == nil {
			err = e
		}
	}
	return err
}
