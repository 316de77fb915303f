package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/notification"
)

// delivery — путь доставки событий outbox.
type delivery struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	producer  *kafka.Producer
	consumer  *kafka.Consumer
}

func buildSender(cfg Config, logger *log.Entry) domain.NotificationSender {
	if cfg.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY is not set, confirmation emails are only logged")
		return notification.NewLogSender(logger.WithField("component", "log-sender"))
	}
	return notification.NewResendSender(notification.ResendConfig{
		APIKey: cfg.ResendAPIKey,
		From:   cfg.ResendFrom,
		URL:    cfg.ResendURL,
	}, logger.WithField("component", "resend-sender"))
}

// initDelivery выбирает доставку: без брокеров outbox сразу вызывает отправителя,
// с брокерами события идут в Kafka, а письма шлёт consumer group.
func initDelivery(cfg Config, sender domain.NotificationSender, logger *log.Entry) (*delivery, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return &delivery{publisher: notification.NewOutboxPublisher(sender, logger.WithField("component", "notification-publisher"))}, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    kafka.ConsumerGroupNotifier,
		Topics:     []string{kafka.TopicOrderEvents},
		MaxRetries: cfg.KafkaMaxRetries,
		RetryDelay: cfg.OutboxRetryDelay,
	}, kafka.NotificationHandler(sender), producer)
	if err != nil {
		closeKafka(producer, logger)
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}

	return &delivery{
		publisher: kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
		producer:  producer,
		consumer:  consumer,
	}, nil
}

func (d *delivery) close(logger *log.Entry) {
	if d.consumer != nil {
		if err := d.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	closeKafka(d.producer, logger)
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
