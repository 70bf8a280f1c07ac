package retrieve

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes stale-community events to a Kafka topic.
// Publishing is best-effort and never blocks the query path: it fires from a
// detached goroutine with its own short timeout and only logs on failure.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier builds a notifier that publishes to topic across brokers.
// The returned notifier owns the writer; call Close when done.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			WriteTimeout: 2 * time.Second,
		},
	}
}

type staleCommunityEvent struct {
	CommunityID string `json:"community_id"`
	DetectedAt  string `json:"detected_at"`
}

// NotifyStale publishes a stale-community event. It never returns an error
// to the caller and never blocks beyond enqueueing onto the async writer.
func (n *KafkaNotifier) NotifyStale(ctx context.Context, communityID string) {
	if n == nil || n.writer == nil {
		return
	}
	payload, err := json.Marshal(staleCommunityEvent{
		CommunityID: communityID,
		DetectedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Warn().Err(err).Str("community_id", communityID).Msg("stale-community event encode failed")
		return
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(communityID), Value: payload}); err != nil {
			log.Warn().Err(err).Str("community_id", communityID).Msg("stale-community event publish failed")
		}
	}()
	_ = ctx
}

// Close releases the underlying Kafka writer's connections.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
