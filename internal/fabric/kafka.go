// ABOUTME: Kafka-backed Fabric for multi-process deployments using segmentio/kafka-go
// ABOUTME: Every gateway instance consumes the bus topic and fans out to its local members

package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaFabric implements Fabric over a single Kafka topic shared by all
// gateway processes. Publishes are written to the topic keyed by group; each
// process reads with its own consumer group id, so every process observes
// every publish and delivers to whichever members are joined locally. An
// agent connected to process B therefore receives events published by
// process A.
//
// The group key doubles as the partition key, so events published for one
// group land on one partition and arrive in write order.
type KafkaFabric struct {
	local  *MemoryFabric
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool
}

// KafkaConfig configures the Kafka-backed fabric.
type KafkaConfig struct {
	// Brokers is a comma-separated bootstrap broker list.
	Brokers string
	// Topic is the shared bus topic.
	Topic string
	// InstanceID distinguishes this gateway process. Leave empty to
	// generate one; a stable id resumes the same consumer group offset
	// across restarts.
	InstanceID string
}

// NewKafkaFabric connects to the bus topic and starts the consume loop.
func NewKafkaFabric(cfg KafkaConfig, logger *slog.Logger) (*KafkaFabric, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka-fabric")

	brokerList := strings.Split(cfg.Brokers, ",")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // group key -> stable partition
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 5 * time.Millisecond,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokerList,
		Topic:   cfg.Topic,
		// Per-instance consumer group: fan-out, not load balancing.
		GroupID:     "handoff-gateway-" + cfg.InstanceID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f := &KafkaFabric{
		local:  NewMemoryFabric(logger),
		writer: writer,
		reader: reader,
		logger: logger,
		cancel: cancel,
	}

	f.wg.Add(1)
	go f.consumeLoop(ctx)

	logger.Info("kafka fabric started",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"instance_id", cfg.InstanceID,
	)
	return f, nil
}

// Join registers a member on this process. Cross-process visibility comes
// from the consume loop, not from membership.
func (f *KafkaFabric) Join(ctx context.Context, group string) (<-chan Event, string) {
	return f.local.Join(ctx, group)
}

// Leave removes a local member.
func (f *KafkaFabric) Leave(group, memberID string) {
	f.local.Leave(group, memberID)
}

// Publish writes the events to the bus topic. All events of one call share
// the group key, so every consumer observes them in order.
func (f *KafkaFabric) Publish(ctx context.Context, group string, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := Marshal(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(group),
			Value: value,
			Time:  time.Now(),
		})
	}
	if err := f.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing to bus topic: %w", err)
	}
	return nil
}

// consumeLoop reads the bus topic and fans out to local members.
func (f *KafkaFabric) consumeLoop(ctx context.Context) {
	defer f.wg.Done()

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("bus read error", "error", err)
			continue
		}

		event, err := Unmarshal(msg.Value)
		if err != nil {
			// A malformed bus record is dropped, never fatal.
			f.logger.Warn("dropping undecodable bus event", "error", err)
			continue
		}

		group := string(msg.Key)
		if err := f.local.Publish(ctx, group, event); err != nil {
			f.logger.Warn("local fan-out failed", "group", group, "error", err)
		}
	}
}

// Close stops the consume loop and releases the Kafka client resources.
// Safe to call multiple times.
func (f *KafkaFabric) Close() error {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	f.cancel()
	readerErr := f.reader.Close()
	f.wg.Wait()
	writerErr := f.writer.Close()
	localErr := f.local.Close()

	if readerErr != nil {
		return fmt.Errorf("closing reader: %w", readerErr)
	}
	if writerErr != nil {
		return fmt.Errorf("closing writer: %w", writerErr)
	}
	return localErr
}
