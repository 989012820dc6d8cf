// Package kafkasink publishes marker lifecycle events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"droneaid/internal/config"
	"droneaid/internal/logger"
	"droneaid/internal/services/annotation"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// producer is the part of *kafka.Producer the sink uses.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Metrics are the sink counters.
type Metrics struct {
	Sent   int64 `json:"sent"`
	Acked  int64 `json:"acked"`
	Failed int64 `json:"failed"`
}

// Sink is an annotation.MapSink backed by a Kafka producer. Produce is
// asynchronous, so calls return without waiting for the broker.
type Sink struct {
	producer     producer
	topic        string
	logger       *logger.Logger
	deliveryChan chan kafka.Event

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New connects a producer using the Kafka settings of cfg.
func New(cfg *config.Config, logger *logger.Logger) (*Sink, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.KafkaBootstrapServers,
		"security.protocol":  cfg.KafkaSecurityProtocol,
		"sasl.mechanism":     cfg.KafkaSASLMechanism,
		"sasl.username":      cfg.KafkaSASLUsername,
		"sasl.password":      cfg.KafkaSASLPassword,
		"acks":               "all",
		"linger.ms":          10,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	s := newSink(p, cfg.KafkaTopic, logger)
	logger.Info("Kafka marker feed enabled - Topic: %s, Servers: %s", cfg.KafkaTopic, cfg.KafkaBootstrapServers)
	return s, nil
}

func newSink(p producer, topic string, logger *logger.Logger) *Sink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		producer:     p,
		topic:        topic,
		logger:       logger,
		deliveryChan: make(chan kafka.Event, 1000),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.wg.Add(1)
	go s.handleDeliveryReports()
	return s
}

func (s *Sink) handleDeliveryReports() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case e := <-s.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				s.failed.Add(1)
				s.logger.Warning("Marker event delivery failed: %v", m.TopicPartition.Error)
			} else {
				s.acked.Add(1)
			}
		}
	}
}

func (s *Sink) Attach(a annotation.Annotation) { s.publish(annotation.EventAttach, a) }
func (s *Sink) Fade(a annotation.Annotation)   { s.publish(annotation.EventFade, a) }
func (s *Sink) Detach(a annotation.Annotation) { s.publish(annotation.EventDetach, a) }

func (s *Sink) publish(t annotation.EventType, a annotation.Annotation) {
	payload, err := json.Marshal(annotation.NewEvent(t, a))
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("Failed to serialize marker event %s: %v", a.Key, err)
		return
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(a.Key),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(t)},
			{Key: "class_name", Value: []byte(a.Detection.ClassName)},
		},
	}
	if err := s.producer.Produce(msg, s.deliveryChan); err != nil {
		s.failed.Add(1)
		s.logger.Warning("Failed to queue marker event %s: %v", a.Key, err)
		return
	}
	s.sent.Add(1)
}

func (s *Sink) Metrics() Metrics {
	return Metrics{Sent: s.sent.Load(), Acked: s.acked.Load(), Failed: s.failed.Load()}
}

// Close flushes pending events and shuts the producer down.
func (s *Sink) Close(timeout time.Duration) {
	if remaining := s.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		s.logger.Warning("%d marker event(s) still queued after flush timeout", remaining)
	}
	s.cancel()
	s.wg.Wait()
	s.producer.Close()

	m := s.Metrics()
	s.logger.Info("Kafka marker feed closed - Sent: %d | Acked: %d | Failed: %d", m.Sent, m.Acked, m.Failed)
}
