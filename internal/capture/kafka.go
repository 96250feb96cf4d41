package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"requestanalytics/internal/metrics"
	"requestanalytics/internal/pkg/errreport"
	"requestanalytics/internal/requests"
)

// KafkaWriter is the producing half of kafka-go used by KafkaDispatcher.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReader is the consumer-group half of kafka-go used by KafkaConsumer.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds an async writer keyed by session id, so one session's
// requests land on one partition. Delivery failures are logged from the
// completion callback.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger, m *metrics.Metrics) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				m.Written("kafka", "error", len(messages))
				logger.Error("Failed to publish captured requests",
					slog.String("topic", topic),
					slog.Int("count", len(messages)),
					slog.Any("error", err))
				errreport.Capture(err, "kafka_producer", map[string]string{"topic": topic})
				return
			}
			m.Written("kafka", "published", len(messages))
		},
	}
}

// NewKafkaReader builds a consumer-group reader for the capture topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// KafkaDispatcher publishes events to a topic; a KafkaConsumer writes them.
type KafkaDispatcher struct {
	writer KafkaWriter
	logger *slog.Logger
}

func NewKafkaDispatcher(writer KafkaWriter, logger *slog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{writer: writer, logger: logger}
}

func (d *KafkaDispatcher) Name() string {
	return "kafka"
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, event *requests.RequestEvent) (string, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("error encoding request event: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.SessionID), Value: value}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("error publishing request event: %w", err)
	}
	return metrics.OutcomeQueued, nil
}

// Start is a no-op; the writer connects lazily. Implements cartridge.BackgroundWorker.
func (d *KafkaDispatcher) Start() error {
	return nil
}

// Stop flushes pending messages and closes the writer.
func (d *KafkaDispatcher) Stop() {
	if err := d.writer.Close(); err != nil {
		d.logger.Error("Failed to close kafka writer", slog.Any("error", err))
	}
}

// KafkaConsumer reads captured events in batches, inserts them and commits
// offsets only after the insert succeeds, so delivery is at-least-once.
type KafkaConsumer struct {
	reader        KafkaReader
	store         *requests.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	batchSize     int
	flushInterval time.Duration
	retryBackoff  time.Duration
	maxAttempts   int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafkaConsumer(reader KafkaReader, store *requests.Store, logger *slog.Logger, m *metrics.Metrics, batchSize int, flushInterval time.Duration) *KafkaConsumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &KafkaConsumer{
		reader:        reader,
		store:         store,
		logger:        logger,
		metrics:       m,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retryBackoff:  500 * time.Millisecond,
		maxAttempts:   5,
	}
}

func (c *KafkaConsumer) databaseReachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.store.Ping(ctx) == nil
}

// Start launches the consume loop. Implements cartridge.BackgroundWorker.
func (c *KafkaConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
	c.logger.Info("Kafka capture consumer started", slog.Int("batch_size", c.batchSize))
	return nil
}

// Stop ends the loop after the in-flight batch and closes the reader.
func (c *KafkaConsumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close kafka reader", slog.Any("error", err))
	}
	c.logger.Info("Kafka capture consumer stopped")
}

func (c *KafkaConsumer) run(ctx context.Context) {
	for ctx.Err() == nil {
		msgs, events := c.fetchBatch(ctx)
		if len(msgs) == 0 {
			continue
		}
		c.persist(ctx, msgs, events)
	}
}

// fetchBatch collects up to batchSize messages or whatever arrived within one
// flush interval. Undecodable messages are kept for commit but not stored.
func (c *KafkaConsumer) fetchBatch(ctx context.Context) ([]kafka.Message, []requests.RequestEvent) {
	deadline := time.Now().Add(c.flushInterval)
	msgs := make([]kafka.Message, 0, c.batchSize)
	events := make([]requests.RequestEvent, 0, c.batchSize)

	for len(msgs) < c.batchSize {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && fetchCtx.Err() == nil {
				c.logger.Error("Failed to fetch captured request", slog.Any("error", err))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			break
		}
		msgs = append(msgs, msg)

		var event requests.RequestEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("Skipping undecodable captured request",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err))
			continue
		}
		event.ID = 0
		events = append(events, event)
	}
	return msgs, events
}

// persist retries the insert until it succeeds or the consumer stops; offsets
// are committed only after a successful insert. A batch the database keeps
// rejecting while it still answers pings is dropped after maxAttempts so it
// cannot stall the partition.
func (c *KafkaConsumer) persist(ctx context.Context, msgs []kafka.Message, events []requests.RequestEvent) {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		stored, err := c.store.InsertBatch(writeCtx, events)
		cancel()
		if err == nil {
			c.metrics.Written("kafka", "ok", stored)
			c.metrics.Written("kafka", "error", len(events)-stored)
			break
		}

		c.logger.Error("Failed to write consumed requests",
			slog.Int("count", len(events)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if attempt >= c.maxAttempts && c.databaseReachable() {
			c.metrics.Written("kafka", "error", len(events))
			c.logger.Error("Dropping consumed requests the database keeps rejecting",
				slog.Int("count", len(events)),
				slog.Int64("first_offset", msgs[0].Offset))
			errreport.Capture(err, "kafka_consumer", map[string]string{"outcome": "dropped"})
			break
		}
		errreport.Capture(err, "kafka_consumer", nil)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}

	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(commitCtx, msgs...); err != nil {
		c.logger.Error("Failed to commit consumed requests",
			slog.Int("count", len(msgs)),
			slog.Any("error", err))
	}
}
