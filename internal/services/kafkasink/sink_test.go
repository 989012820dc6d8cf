package kafkasink

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"droneaid/internal/logger"
	"droneaid/internal/model"
	"droneaid/internal/services/annotation"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	fail     error
	deliver  error
	closed   bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, msg)
	report := *msg
	report.TopicPartition.Error = f.deliver
	deliveryChan <- &report
	return nil
}

func (f *fakeProducer) Flush(timeoutMs int) int { return 0 }

func (f *fakeProducer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeProducer) Messages() []*kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kafka.Message(nil), f.messages...)
}

func testAnnotation() annotation.Annotation {
	return annotation.Annotation{
		Key:       "evt-1",
		Detection: model.Detection{EventID: "evt-1", ClassName: "sos", Confidence: 0.77},
		Position:  annotation.Position{Kind: annotation.Positioned, Lat: 18.4, Lon: -66.1},
		State:     annotation.Visible,
	}
}

func TestSink_PublishesLifecycle(t *testing.T) {
	fp := &fakeProducer{}
	s := newSink(fp, "markers", logger.Nop())

	a := testAnnotation()
	s.Attach(a)
	a.State = annotation.Fading
	s.Fade(a)
	a.State = annotation.Removed
	s.Detach(a)

	msgs := fp.Messages()
	require.Len(t, msgs, 3)

	var ev annotation.Event
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	assert.Equal(t, annotation.EventAttach, ev.Type)
	assert.Equal(t, "sos 77%", ev.Label)
	assert.Equal(t, "GPS 18.40000, -66.10000", ev.PositionLabel)
	assert.Equal(t, "evt-1", string(msgs[0].Key))
	assert.Equal(t, "markers", *msgs[0].TopicPartition.Topic)
	assert.Equal(t, "event_type", msgs[2].Headers[0].Key)
	assert.Equal(t, "marker.detach", string(msgs[2].Headers[0].Value))

	require.Eventually(t, func() bool { return s.Metrics().Acked == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), s.Metrics().Sent)

	s.Close(time.Second)
	fp.mu.Lock()
	assert.True(t, fp.closed)
	fp.mu.Unlock()
}

func TestSink_ProduceError(t *testing.T) {
	fp := &fakeProducer{fail: errors.New("queue full")}
	s := newSink(fp, "markers", logger.Nop())
	defer s.Close(time.Second)

	s.Attach(testAnnotation())
	m := s.Metrics()
	assert.Equal(t, int64(0), m.Sent)
	assert.Equal(t, int64(1), m.Failed)
}

func TestSink_DeliveryFailure(t *testing.T) {
	fp := &fakeProducer{deliver: errors.New("broker down")}
	s := newSink(fp, "markers", logger.Nop())
	defer s.Close(time.Second)

	s.Attach(testAnnotation())
	require.Eventually(t, func() bool { return s.Metrics().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), s.Metrics().Sent)
}
