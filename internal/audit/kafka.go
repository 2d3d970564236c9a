package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/reasoning"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// MaxAttempts defaults to 3.
	MaxAttempts int
	// WriteTimeout bounds each attempt. Defaults to 5s.
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per decision, keyed by emergency id
// so events for the same emergency stay ordered on one partition.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	maxAttempts  int
	writeTimeout time.Duration
	sleep        reasoning.SleepFunc
	logger       *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(w, cfg, logger), nil
}

func newKafkaPublisher(w messageWriter, cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:       w,
		topic:        cfg.Topic,
		maxAttempts:  cfg.MaxAttempts,
		writeTimeout: cfg.WriteTimeout,
		sleep:        reasoning.SleepContext,
		logger:       logger.Named("audit.kafka"),
	}
}

func (p *KafkaPublisher) PublishDecision(ctx context.Context, ev DecisionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.EmergencyID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg.Time = time.Now().UTC()
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		err := p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			p.logger.Debug("decision event published",
				zap.String("topic", p.topic),
				zap.String("run_id", ev.RunID),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		p.logger.Warn("publish decision event failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", backoff),
			zap.Error(err),
		)
		if err := p.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("publish decision event: %w", err)
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish decision event failed after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
