// Package kafkasource implements a source connector that consumes JSON
// records off an external Kafka topic via a sarama consumer group, one
// Document per message.
package kafkasource

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/errors"
	jsonpool "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("kafkasource", New)
}

// Config configures the kafkasource connector.
type Config struct {
	Brokers         []string
	Topic           string
	ConsumerGroupID string
	IDField         string
	// RunDuration bounds how long Execute consumes before returning, since
	// an external topic has no natural end-of-stream signal. Zero means
	// consume until the context is canceled.
	RunDuration time.Duration
}

// Source consumes JSON messages from a Kafka topic as Documents.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
	client sarama.Client
	group  sarama.ConsumerGroup
}

// New builds a kafkasource Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{ConsumerGroupID: "lucilliform-" + name}
	if v, ok := options["brokers"].(string); ok && v != "" {
		cfg.Brokers = splitCSV(v)
	}
	if v, ok := options["topic"].(string); ok {
		cfg.Topic = v
	}
	if v, ok := options["consumerGroupID"].(string); ok && v != "" {
		cfg.ConsumerGroupID = v
	}
	if v, ok := options["idField"].(string); ok {
		cfg.IDField = v
	}
	if v, ok := options["runDuration"].(string); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ConfigViolation, "invalid kafkasource runDuration")
		}
		cfg.RunDuration = d
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New(errors.ConfigViolation, "kafkasource connector requires brokers and topic options")
	}
	return &Source{
		name:   name,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "connector"), zap.String("connector", name)),
	}, nil
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Name identifies this connector instance.
func (s *Source) Name() string { return s.name }

// PreExecute builds the sarama client and consumer group.
func (s *Source) PreExecute(ctx context.Context, runID string) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewClient(s.cfg.Brokers, cfg)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to create kafka client")
	}
	group, err := sarama.NewConsumerGroupFromClient(s.cfg.ConsumerGroupID, client)
	if err != nil {
		client.Close()
		return errors.Wrap(err, errors.ProcessingFailure, "failed to create kafka consumer group")
	}
	s.client = client
	s.group = group
	return nil
}

// Execute runs the consumer group loop, publishing one Document per
// message until RunDuration elapses or the context is canceled.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.RunDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunDuration)
		defer cancel()
	}

	handler := &claimHandler{ctx: ctx, pub: pub, cfg: s.cfg, logger: s.logger}

	for {
		if err := s.group.Consume(runCtx, []string{s.cfg.Topic}, handler); err != nil {
			if err == sarama.ErrClosedConsumerGroup {
				return nil
			}
			return errors.Wrap(err, errors.ProcessingFailure, "kafka consumer group error")
		}
		if runCtx.Err() != nil {
			return nil
		}
	}
}

// PostExecute is a no-op: offsets are committed per-message during consume.
func (s *Source) PostExecute(ctx context.Context, runID string) error { return nil }

// Close releases the consumer group and client. Idempotent.
func (s *Source) Close() error {
	if s.group != nil {
		_ = s.group.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

type claimHandler struct {
	ctx    context.Context
	pub    *publisher.Publisher
	cfg    Config
	logger *zap.Logger
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.publishMessage(msg); err != nil {
				h.logger.Error("failed to publish kafka message",
					zap.String("topic", msg.Topic), zap.Error(err))
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		case <-h.ctx.Done():
			return nil
		}
	}
}

func (h *claimHandler) publishMessage(msg *sarama.ConsumerMessage) error {
	var record map[string]interface{}
	if err := jsonpool.Unmarshal(msg.Value, &record); err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to decode kafka message")
	}

	id := h.resolveID(record, msg)
	doc, err := connector.DocumentFromRecord(id, record)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to build document from kafka message")
	}
	if err := h.pub.Publish(h.ctx, doc); err != nil {
		return errors.Wrap(err, errors.TransportFailure, "failed to publish kafka record")
	}
	return nil
}

func (h *claimHandler) resolveID(record map[string]interface{}, msg *sarama.ConsumerMessage) string {
	if h.cfg.IDField != "" {
		if v, ok := record[h.cfg.IDField].(string); ok && v != "" {
			return v
		}
	}
	if len(msg.Key) > 0 {
		return string(msg.Key)
	}
	return fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
}
