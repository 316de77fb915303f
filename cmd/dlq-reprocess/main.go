// Команда dlq-reprocess возвращает события из checkout.dlq обратно в топик заказов.
// По умолчанию работает в режиме dry-run и только перечисляет кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// errNotDeadLetter — сообщение в DLQ не похоже ни на один из известных форматов.
var errNotDeadLetter = errors.New("message is not a dead letter")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replay — сообщение, готовое к повторной публикации.
type replay struct {
	topic     string
	key       string
	eventType string
	value     json.RawMessage
}

// offsetSource — часть sarama.Client, нужная для обхода партиций.
type offsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// partitionSource — часть sarama.Consumer.
type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

type eventPublisher interface {
	PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flags := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flags.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flags.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	flags.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	flags.BoolVar(&cfg.execute, "execute", false, "publish replayed messages; default is dry-run")
	flags.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	flags.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)"))
	}
	if cfg.sourceTopic == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if cfg.targetTopic == "" {
		errs = append(errs, errors.New("target-topic is required"))
	}
	if cfg.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	if len(errs) > 0 {
		return config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	var publisher eventPublisher
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer producer.Close()
		publisher = producer
	}

	r := &replayer{cfg: cfg, offsets: client, partitions: consumer, publisher: publisher, now: time.Now}
	return r.run(ctx)
}

type replayer struct {
	cfg        config
	offsets    offsetSource
	partitions partitionSource
	publisher  eventPublisher
	now        func() time.Time
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func (r *replayer) run(ctx context.Context) error {
	if r.cfg.execute && r.publisher == nil {
		return errors.New("publisher is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total replayStats
	for _, partition := range partitions {
		remaining := r.cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats
	topic := r.cfg.sourceTopic

	oldest, err := r.offsets.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.partitions.ConsumePartition(topic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)
			stats.scanned++

			if err := r.handle(msg); err != nil {
				if !errors.Is(err, errNotDeadLetter) {
					return stats, err
				}
				stats.skipped++
				log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset}).Warn("skip unsupported dlq message")
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	rp, err := decodeDeadLetter(msg, r.cfg.targetTopic, r.now())
	if err != nil {
		return err
	}

	entry := log.WithFields(log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": rp.topic,
		"key":          rp.key,
		"event_type":   rp.eventType,
	})
	if !r.cfg.execute {
		entry.Info("dlq replay candidate")
		return nil
	}

	if err := r.publisher.PublishEvent(rp.topic, rp.key, rp.value,
		sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte(rp.eventType)},
	); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	entry.Info("dlq message replayed")
	return nil
}

// decodeDeadLetter понимает оба формата DLQ: сообщение consumer-а, исчерпавшее
// повторы, и событие outbox, которое не удалось опубликовать.
func decodeDeadLetter(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replay, error) {
	var consumed kafka.ConsumerDeadLetter
	if err := json.Unmarshal(msg.Value, &consumed); err == nil && consumed.OriginalValue != "" {
		original := &sarama.ConsumerMessage{Value: []byte(consumed.OriginalValue)}
		envelope, err := kafka.ParseEnvelope(original)
		if err != nil {
			return replay{}, fmt.Errorf("%w: %v", errNotDeadLetter, err)
		}
		topic := strings.TrimSpace(consumed.OriginalTopic)
		if topic == "" {
			topic = targetTopic
		}
		return replay{
			topic:     topic,
			key:       consumed.OriginalKey,
			eventType: envelope.EventType,
			value:     json.RawMessage(consumed.OriginalValue),
		}, nil
	}

	envelope, err := kafka.ParseEnvelope(msg)
	if err != nil {
		return replay{}, fmt.Errorf("%w: %v", errNotDeadLetter, err)
	}
	var dead outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return replay{}, fmt.Errorf("%w: decode outbox dead letter: %v", errNotDeadLetter, err)
	}
	if len(dead.Payload) == 0 || string(dead.Payload) == "null" {
		return replay{}, fmt.Errorf("%w: outbox dead letter without original payload", errNotDeadLetter)
	}

	restored := kafka.Envelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return replay{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replay{
		topic:     targetTopic,
		key:       firstNonEmpty(restored.AggregateID, restored.ID),
		eventType: restored.EventType,
		value:     value,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
