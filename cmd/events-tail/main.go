// Команда events-tail читает события пайплайна из Kafka и пишет их в лог:
// аудит запусков без доступа к хранилищу сервиса.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging/kafka"
)

type config struct {
	brokers    []string
	groupID    string
	topic      string
	maxRetries int
	dlq        bool
	runID      string
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("events tail failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flags := flag.NewFlagSet("events-tail", flag.ContinueOnError)
	flags.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flags.StringVar(&cfg.groupID, "group", "voiceorder-events-tail", "consumer group id")
	flags.StringVar(&cfg.topic, "topic", messaging.TopicPipelineEvents, "pipeline events topic")
	flags.IntVar(&cfg.maxRetries, "max-retries", 3, "handler attempts before a message goes to the DLQ")
	flags.BoolVar(&cfg.dlq, "dlq", false, "forward unreadable messages to "+kafka.TopicDeadLetterQueue)
	flags.StringVar(&cfg.runID, "run", "", "only print events of this run id")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.topic) == "" {
		return config{}, fmt.Errorf("topic is required")
	}
	if cfg.maxRetries <= 0 {
		return config{}, fmt.Errorf("max-retries must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "events-tail")

	var dlq *kafka.Producer
	if cfg.dlq {
		producer, err := kafka.NewProducer(cfg.brokers, logger.WithField("part", "dlq"))
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		dlq = producer
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.brokers,
		GroupID:    cfg.groupID,
		Topics:     []string{cfg.topic},
		MaxRetries: cfg.maxRetries,
		DLQ:        dlq,
		Logger:     logger,
	}, printEvent(logger, cfg.runID))
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return consumer.Stop()
}

// printEvent пишет событие в лог. Сообщение, которое не разбирается, возвращается
// ошибкой и после исчерпания попыток уходит в DLQ.
func printEvent(logger *log.Entry, runID string) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParsePipelineEvent(message)
		if err != nil {
			return err
		}
		if runID != "" && event.RunID != runID {
			return nil
		}
		fields := log.Fields{
			"run_id":    event.RunID,
			"kind":      event.Kind,
			"timestamp": event.Timestamp,
			"offset":    message.Offset,
		}
		if event.Step != "" {
			fields["step"] = event.Step
		}
		for k, v := range event.Metadata {
			fields["meta."+k] = v
		}
		logger.WithFields(fields).Info(string(event.EventType))
		return nil
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
