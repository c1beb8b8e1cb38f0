package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/dedup"
	gojson "github.com/lucilliform/lucilliform/pkg/json"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/metrics"
)

// offsetKey identifies one consumed Source record for commit bookkeeping.
type offsetKey struct {
	partition int32
	offset    int64
}

type offsetBucket struct {
	pending int
	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

// Kafka is the broker-backed Messenger. Source is a partitioned topic
// consumed by a sarama consumer group; Destination and Events are topics
// produced to directly. A per-instance deduplication holding area guards
// against reprocessing redelivered records, and an offset tracker commits
// a Source offset only once its document and every descendant it spawned
// have reached a terminal state.
type Kafka struct {
	cfg        config.KafkaConfig
	pipeline   string
	runID      string
	logger     *zap.Logger

	client        sarama.Client
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	plainConsumer sarama.Consumer

	sourceTopic string
	destTopic   string
	eventsTopic string

	dedupArea *dedup.HoldingArea

	pendingRecords chan *sarama.ConsumerMessage
	readyDocs      chan *document.Document
	destIn         chan *document.Document
	eventsIn       chan event.Event

	mu          sync.Mutex
	offsetByDoc map[string]offsetKey // document id -> owning Source offset
	buckets     map[offsetKey]*offsetBucket

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// NewKafka builds and connects a Kafka messenger for one pipeline's Source,
// Destination, and Events topics, scoped to runID.
func NewKafka(ctx context.Context, cfg config.KafkaConfig, pipeline, runID string) (*Kafka, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V2_8_0_0
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	if cfg.TLSEnabled {
		saramaCfg.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASLUser
		saramaCfg.Net.SASL.Password = cfg.SASLPassword
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransportFailure, "connect to kafka brokers")
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.TransportFailure, "create kafka producer")
	}

	consumerGroup, err := sarama.NewConsumerGroupFromClient(pipeline+"-workers", client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, errors.Wrap(err, errors.TransportFailure, "create kafka consumer group")
	}

	plainConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		consumerGroup.Close()
		producer.Close()
		client.Close()
		return nil, errors.Wrap(err, errors.TransportFailure, "create kafka consumer")
	}

	delay := cfg.DedupDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}

	k := &Kafka{
		cfg:            cfg,
		pipeline:       pipeline,
		runID:          runID,
		logger:         logger.Get().With(zap.String("component", "kafka_messenger"), zap.String("pipeline", pipeline)),
		client:         client,
		producer:       producer,
		consumerGroup:  consumerGroup,
		plainConsumer:  plainConsumer,
		sourceTopic:    pipeline + ".source",
		destTopic:      pipeline + ".destination",
		eventsTopic:    "events." + runID,
		dedupArea:      dedup.New(delay),
		pendingRecords: make(chan *sarama.ConsumerMessage, 1024),
		readyDocs:      make(chan *document.Document, 1024),
		destIn:         make(chan *document.Document, 1024),
		eventsIn:       make(chan event.Event, 1024),
		offsetByDoc:    make(map[string]offsetKey),
		buckets:        make(map[offsetKey]*offsetBucket),
		closed:         make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	if err := consumeTopicPlain(k, runCtx, k.destTopic, k.destIn, decodeDocument); err != nil {
		plainConsumer.Close()
		consumerGroup.Close()
		producer.Close()
		client.Close()
		return nil, err
	}
	if err := consumeTopicPlain(k, runCtx, k.eventsTopic, k.eventsIn, decodeEvent); err != nil {
		plainConsumer.Close()
		consumerGroup.Close()
		producer.Close()
		client.Close()
		return nil, err
	}

	k.wg.Add(2)
	go k.consumeLoop(runCtx)
	go k.settleLoop(runCtx)

	return k, nil
}

// consumeTopicPlain fans every partition of topic into out via a dedicated
// goroutine per partition. Used for Destination and Events, each of which
// has exactly one logical subscriber (the Indexer, the Publisher) in this
// architecture, so a full consumer group is unnecessary.
func consumeTopicPlain[T any](k *Kafka, ctx context.Context, topic string, out chan T, decode func([]byte) (T, error)) error {
	partitions, err := k.plainConsumer.Partitions(topic)
	if err != nil {
		return errors.Wrap(err, errors.TransportFailure, "list partitions for "+topic)
	}
	for _, p := range partitions {
		pc, err := k.plainConsumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			return errors.Wrap(err, errors.TransportFailure, "consume partition for "+topic)
		}
		k.wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer k.wg.Done()
			defer pc.Close()
			for {
				select {
				case msg := <-pc.Messages():
					if msg == nil {
						return
					}
					val, err := decode(msg.Value)
					if err != nil {
						k.logger.Error("failed to decode message", zap.String("topic", topic), zap.Error(err))
						continue
					}
					select {
					case out <- val:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(pc)
	}
	return nil
}

func (k *Kafka) consumeLoop(ctx context.Context) {
	defer k.wg.Done()
	for {
		if err := k.consumerGroup.Consume(ctx, []string{k.sourceTopic}, k); err != nil {
			if ctx.Err() != nil {
				return
			}
			k.logger.Error("consumer group error", zap.Error(err))
			time.Sleep(time.Second)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Setup implements sarama.ConsumerGroupHandler.
func (k *Kafka) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (k *Kafka) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. It hands every raw
// message to the dedup settle loop and remembers the session so a later
// terminal-event observation can mark and commit its offset.
func (k *Kafka) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg := <-claim.Messages():
			if msg == nil {
				return nil
			}
			key := offsetKey{partition: msg.Partition, offset: msg.Offset}
			k.mu.Lock()
			k.buckets[key] = &offsetBucket{pending: 1, session: session, message: msg}
			k.mu.Unlock()

			select {
			case k.pendingRecords <- msg:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// settleLoop applies the dedup holding area's settle delay before a consumed
// record becomes visible to PollDoc.
func (k *Kafka) settleLoop(ctx context.Context) {
	defer k.wg.Done()

	held := make([]*sarama.ConsumerMessage, 0, 64)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	drainReady := func() {
		remaining := held[:0]
		for _, msg := range held {
			dk := dedup.Key{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
			if k.dedupArea.Ready(dk) {
				doc, err := decodeDocument(msg.Value)
				if err != nil {
					k.logger.Error("failed to decode kafka document", zap.Error(err))
					continue
				}
				k.mu.Lock()
				k.offsetByDoc[doc.ID()] = offsetKey{partition: msg.Partition, offset: msg.Offset}
				k.mu.Unlock()
				select {
				case k.readyDocs <- doc:
				case <-ctx.Done():
					return
				}
			} else {
				remaining = append(remaining, msg)
			}
		}
		held = remaining
	}

	for {
		select {
		case msg := <-k.pendingRecords:
			dk := dedup.Key{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
			if !k.dedupArea.Admit(dk) {
				continue // redelivery of a record already seen
			}
			held = append(held, msg)
		case <-ticker.C:
			drainReady()
		case <-ctx.Done():
			return
		}
	}
}

func decodeDocument(data []byte) (*document.Document, error) {
	doc := &document.Document{}
	if err := gojson.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeEvent(data []byte) (event.Event, error) {
	var evt event.Event
	err := gojson.Unmarshal(data, &evt)
	return evt, err
}

func (k *Kafka) PollDoc(ctx context.Context, timeout time.Duration) (*document.Document, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case doc := <-k.readyDocs:
		return doc, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.closed:
		return nil, nil
	}
}

func (k *Kafka) SendForProcessing(ctx context.Context, doc *document.Document) error {
	return k.produce(k.sourceTopic, doc)
}

func (k *Kafka) SendCompleted(ctx context.Context, doc *document.Document) error {
	return k.produce(k.destTopic, doc)
}

func (k *Kafka) PollDestination(ctx context.Context, timeout time.Duration) (*document.Document, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case doc := <-k.destIn:
		return doc, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.closed:
		return nil, nil
	}
}

func (k *Kafka) produce(topic string, doc *document.Document) error {
	data, err := gojson.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.TransportFailure, "serialize document")
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(doc.ID()),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return errors.Wrap(err, errors.TransportFailure, fmt.Sprintf("produce to topic %s", topic))
	}
	metrics.QueueDepth.WithLabelValues(topic).Inc()
	return nil
}

func (k *Kafka) SendEvent(ctx context.Context, evt event.Event) error {
	data, err := gojson.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, errors.TransportFailure, "serialize event")
	}
	msg := &sarama.ProducerMessage{
		Topic: k.eventsTopic,
		Key:   sarama.StringEncoder(evt.DocumentID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return errors.Wrap(err, errors.TransportFailure, "produce event")
	}

	if evt.IsTerminal() {
		k.observeTerminal(evt.DocumentID)
	}
	return nil
}

// RegisterDescendant associates childID with the same offset bucket as
// parentID, so the bucket's pending count accounts for the child's eventual
// terminal event before the bucket's offset is eligible for commit. The
// Worker calls this before emitting a CREATE event for a child (the same
// moment the Publisher's ledger would record the increment), since CREATE
// events alone do not name their parent.
func (k *Kafka) RegisterDescendant(parentID, childID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.offsetByDoc[parentID]
	if !ok {
		return
	}
	k.offsetByDoc[childID] = key
	if b, ok := k.buckets[key]; ok {
		b.pending++
	}
}

func (k *Kafka) observeTerminal(docID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.offsetByDoc[docID]
	if !ok {
		return
	}
	delete(k.offsetByDoc, docID)
	b, ok := k.buckets[key]
	if !ok {
		return
	}
	b.pending--
	if b.pending <= 0 {
		if b.session != nil {
			b.session.MarkMessage(b.message, "")
		}
		delete(k.buckets, key)
		k.dedupArea.Release(dedup.Key{Topic: k.sourceTopic, Partition: key.partition, Offset: key.offset})
	}
}

func (k *Kafka) PollEvent(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case evt := <-k.eventsIn:
		return &evt, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.closed:
		return nil, nil
	}
}

func (k *Kafka) HasEvents() bool {
	return len(k.eventsIn) > 0
}

// CommitPendingOffsets is a no-op: offsets are marked as their owning
// bucket's pending count reaches zero in observeTerminal, and committed by
// the consumer group session on its normal auto-commit interval.
func (k *Kafka) CommitPendingOffsets(ctx context.Context) error {
	return nil
}

func (k *Kafka) Close() error {
	var closeErr error
	k.closeOnce.Do(func() {
		close(k.closed)
		k.cancel()
		k.wg.Wait()
		if err := k.plainConsumer.Close(); err != nil {
			closeErr = err
		}
		if err := k.consumerGroup.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := k.producer.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := k.client.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}
