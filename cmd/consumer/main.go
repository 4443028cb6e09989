package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	flag "github.com/spf13/pflag"

	"github.com/example/journey-matching/internal/app"
	"github.com/example/journey-matching/internal/config"
	"github.com/example/journey-matching/internal/ingest"
	"github.com/example/journey-matching/internal/logging"
	"github.com/example/journey-matching/internal/matcher"
	"github.com/example/journey-matching/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total journey messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	indexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_errors_total",
		Help: "Total journey indexing failures after retries",
	})
	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_match_errors_total",
		Help: "Total matching runs that failed",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, indexErrors, runErrors)
}

func main() {
	var (
		metricsAddr string
		attempts    int
		retryDelay  time.Duration
	)
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.IntVar(&attempts, "index-attempts", 3, "attempts to index a journey before giving up")
	flag.DurationVar(&retryDelay, "index-retry-delay", 200*time.Millisecond, "initial delay between indexing attempts")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaJourneysTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = a.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaJourneysTopic, "brokers", brokers, "group", cfg.KafkaGroup)

	h := &handler{indexer: a, runner: a.Engine, logger: logger, attempts: attempts, delay: retryDelay}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()
		h.handle(ctx, m.Value)
	}
}

// JourneyIndexer makes a journey visible to the candidate retriever.
type JourneyIndexer interface {
	IndexJourney(ctx context.Context, j *models.Journey) error
}

type Runner interface {
	Run(ctx context.Context, journeyID int64) (matcher.Result, error)
}

type handler struct {
	indexer  JourneyIndexer
	runner   Runner
	logger   *slog.Logger
	attempts int
	delay    time.Duration
}

// handle indexes the submitted journey, then runs matching for it. A journey
// that cannot be indexed is still matched: it can find others even if others
// cannot yet find it.
func (h *handler) handle(ctx context.Context, payload []byte) {
	msg, err := ingest.DecodeJourneySubmitted(payload)
	if err != nil {
		msgsInvalid.Inc()
		h.logger.Warn("invalid message", "error", err)
		return
	}
	if err := indexWithRetry(ctx, h.indexer, &msg.Journey, h.attempts, h.delay); err != nil {
		indexErrors.Inc()
		h.logger.Error("journey index failed", "journey_id", msg.JourneyID, "error", err)
	}
	res, err := h.runner.Run(ctx, msg.JourneyID)
	if err != nil {
		runErrors.Inc()
		if errors.Is(err, matcher.ErrJourneyNotFound) {
			h.logger.Warn("journey not found", "journey_id", msg.JourneyID)
			return
		}
		h.logger.Error("matching run failed", "journey_id", msg.JourneyID, "error", err)
		return
	}
	h.logger.Info("journey matched", "journey_id", msg.JourneyID, "matches_found", res.MatchesFound)
}

// indexWithRetry indexes j with retry/backoff.
func indexWithRetry(ctx context.Context, ix JourneyIndexer, j *models.Journey, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ix.IndexJourney(ctx, j); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
