// Package messaging provides Kafka-based inter-service communication for the
// luckycoin ledger. It carries signed transactions to the executor and
// execution results and reward events back out.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/luckycoin-meme/luckycoin/pkg/circuit"
	"github.com/luckycoin-meme/luckycoin/pkg/errors"
	"github.com/luckycoin-meme/luckycoin/pkg/retry"
)

// KafkaClient wraps kafka-go with wire-format messages and writer/reader pooling
type KafkaClient struct {
	brokers        []string
	logger         *slog.Logger
	writers        map[string]*kafka.Writer
	readers        map[string]*kafka.Reader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *slog.Logger) *KafkaClient {
	cbConfig := &circuit.Config{
		Name:            "kafka",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger.With("component", "kafka"),
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.KafkaConfig(),
	}
}

// GetProducer gets or creates a Kafka producer for a topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	// Keyed by proof or tx id so one miner's submissions stay ordered
	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// GetConsumer gets or creates a Kafka consumer for a topic and group
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	k.readersMu.RLock()
	if reader, exists := k.readers[key]; exists {
		k.readersMu.RUnlock()
		return reader
	}
	k.readersMu.RUnlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	if reader, exists := k.readers[key]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})

	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// Publish writes one message to a topic
func (k *KafkaClient) Publish(ctx context.Context, topic, key string, msg Message) error {
	data := msg.Marshal()

	return k.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, k.retryConfig, func(ctx context.Context) error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// Keyed pairs a message with its partition key
type Keyed struct {
	Key     string
	Message Message
}

// PublishBatch writes several messages to a topic in one request
func (k *KafkaClient) PublishBatch(ctx context.Context, topic string, msgs []Keyed) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now()
	batch := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		batch[i] = kafka.Message{Key: []byte(m.Key), Value: m.Message.Marshal(), Time: now}
	}

	return k.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, k.retryConfig, func(ctx context.Context) error {
			if err := k.GetProducer(topic).WriteMessages(ctx, batch...); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_batch",
					"failed to publish batch to Kafka").
					WithContext("topic", topic).
					WithContext("messages", len(batch))
			}
			k.logger.Debug("published batch", "topic", topic, "messages", len(batch))
			return nil
		})
	})
}

// Consume reads the next message from reader into msg and returns its key
func (k *KafkaClient) Consume(ctx context.Context, reader *kafka.Reader, msg Message) (string, error) {
	return circuit.ExecuteWithResult(ctx, k.circuitBreaker, func(ctx context.Context) (string, error) {
		return retry.DoWithResult(ctx, k.retryConfig, func(ctx context.Context) (string, error) {
			kafkaMsg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}

			if err := msg.Unmarshal(kafkaMsg.Value); err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeValidation, "decode_message",
					"failed to decode message").
					WithContext("topic", kafkaMsg.Topic).
					WithContext("offset", kafkaMsg.Offset).
					WithContext("message_size", len(kafkaMsg.Value))
			}

			key := string(kafkaMsg.Key)
			k.logger.Debug("consumed message", "topic", kafkaMsg.Topic, "key", key, "size", len(kafkaMsg.Value))
			return key, nil
		})
	})
}

// MessageHandler handles consumed messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, msg Message) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc func(ctx context.Context, key string, msg Message) error

// HandleMessage implements MessageHandler
func (f HandlerFunc) HandleMessage(ctx context.Context, key string, msg Message) error {
	return f(ctx, key, msg)
}

// StartConsumer runs a consumer loop for a topic until ctx is done
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() Message, handler MessageHandler) error {
	reader := k.GetConsumer(topic, groupID)

	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)

	for {
		if ctx.Err() != nil {
			k.logger.Info("consumer stopping", "topic", topic)
			return ctx.Err()
		}

		msg := msgFactory()
		key, err := k.Consume(ctx, reader, msg)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			k.logger.Error("failed to consume message", "topic", topic, "error", err)
			if circuit.IsOpen(err) {
				// back off while the breaker is open
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}

		if err := handler.HandleMessage(ctx, key, msg); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "key", key, "error", err)
		}
	}
}

// Stats returns the client's circuit breaker statistics
func (k *KafkaClient) Stats() circuit.Stats {
	return k.circuitBreaker.GetStats()
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var lastErr error

	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close consumer", "key", key, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	k.readers = make(map[string]*kafka.Reader)
	return lastErr
}
