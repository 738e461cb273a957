// Package revenue records settled sessions in every configured destination.
package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// Recorder stores one revenue fact.
type Recorder interface {
	Record(ctx context.Context, rev models.Revenue) error
}

// Multi records into every destination. The first destination is the system of record: its
// error is returned. Later destinations are best effort and only logged.
type Multi struct {
	primary Recorder
	mirrors []Recorder
	logger  *zap.Logger
}

// NewMulti builds a fan-out recorder.
func NewMulti(logger *zap.Logger, primary Recorder, mirrors ...Recorder) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

// Record writes rev to the primary then the mirrors.
func (m *Multi) Record(ctx context.Context, rev models.Revenue) error {
	if err := m.primary.Record(ctx, rev); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Record(ctx, rev); err != nil {
			m.logger.Warn("revenue mirror failed", zap.Int64("session_id", rev.SessionID), zap.Error(err))
		}
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes settled sessions, keyed by session id.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	}
}

// NewKafkaSink wraps a writer.
func NewKafkaSink(writer MessageWriter) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("revenue: nil kafka writer")
	}
	return &KafkaSink{writer: writer}, nil
}

// Record publishes rev as JSON.
func (k *KafkaSink) Record(ctx context.Context, rev models.Revenue) error {
	body, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("encode revenue: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(rev.SessionID, 10)),
		Value: body,
		Time:  rev.CreatedAt,
	})
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
