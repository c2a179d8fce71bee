package analytics

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

const kafkaDialTimeout = 8 * time.Second

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes usage records as JSON, keyed by community id so one
// community's records stay on one partition.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaSink builds a synchronous writer for cfg's comma-separated brokers.
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	addrs := splitBrokers(cfg.Brokers)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("kafka analytics: no brokers configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka analytics: no topic configured")
	}
	mech, err := saslMechanism(cfg)
	if err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			TLS:         tlsConfig(cfg),
			SASL:        mech,
			DialTimeout: kafkaDialTimeout,
		},
	}
	return NewKafkaSinkWithWriter(w), nil
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 10 * time.Second}
}

func (k *KafkaSink) Record(ctx context.Context, rec UsageRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	err = k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(rec.CommunityID),
		Value:   value,
		Headers: []kafka.Header{{Key: "status", Value: []byte(rec.Status)}},
		Time:    rec.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("publish usage record: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// ProbeKafka dials the first reachable broker and reports how many
// partitions the usage topic has. A missing topic reports zero.
func ProbeKafka(ctx context.Context, cfg config.KafkaConfig) (int, error) {
	addrs := splitBrokers(cfg.Brokers)
	if len(addrs) == 0 {
		return 0, fmt.Errorf("no brokers configured")
	}
	mech, err := saslMechanism(cfg)
	if err != nil {
		return 0, err
	}
	dialer := &kafka.Dialer{
		Timeout:       kafkaDialTimeout,
		DualStack:     true,
		TLS:           tlsConfig(cfg),
		SASLMechanism: mech,
	}

	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", addr, err)
			continue
		}
		parts, err := conn.ReadPartitions(cfg.Topic)
		_ = conn.Close()
		if err != nil {
			if strings.Contains(err.Error(), "Unknown Topic") {
				return 0, nil
			}
			return 0, fmt.Errorf("read partitions: %w", err)
		}
		return len(parts), nil
	}
	return 0, lastErr
}

func splitBrokers(brokers string) []string {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return addrs
}

func tlsConfig(cfg config.KafkaConfig) *tls.Config {
	if !cfg.TLS {
		return nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func saslMechanism(cfg config.KafkaConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.SASLMechanism)) {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism: %s", cfg.SASLMechanism)
	}
}
