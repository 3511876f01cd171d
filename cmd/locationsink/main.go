// Command locationsink drains the driver-locations topic into the presence
// store. It lets the simulator run with ingest-only websockets while an
// out-of-process pipeline owns the geo index, mirroring the production
// split between the live channel and dispatch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/kevyamon/yely-go/internal/config"
	"github.com/kevyamon/yely-go/internal/logging"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/sim"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationsink_messages_consumed_total",
		Help: "Total location messages consumed from Kafka.",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationsink_messages_invalid_total",
		Help: "Total messages that failed to decode.",
	})
	storeUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationsink_store_updates_total",
		Help: "Total successful presence store updates.",
	})
	storeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationsink_store_errors_total",
		Help: "Total presence store update failures.",
	})
)

func main() {
	var metricsAddr, group string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.StringVar(&group, "group", "yely-locationsink", "kafka consumer group id")
	flag.Parse()

	cfg, err := config.LoadSimConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	store := sim.NewRedisPresence(redisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.RedisPassword})

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		log.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = reader.Close()
		_ = rc.Close()
	}()

	log.Info("locationsink consuming", "topic", cfg.KafkaTopic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("locationsink stopped")
				return
			}
			log.Warn("kafka read failed", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var upd models.LocationUpdate
		if err := json.Unmarshal(m.Value, &upd); err != nil || upd.UserID == "" {
			msgsInvalid.Inc()
			log.Warn("invalid location message", "error", err)
			continue
		}

		if err := upsertWithRetry(ctx, store, upd, 3, 200*time.Millisecond); err != nil {
			storeErrors.Inc()
			log.Warn("presence update failed", "user_id", upd.UserID, "error", err)
			continue
		}
		storeUpdates.Inc()
	}
}

// presenceWriter is the slice of the store the sink needs; tests substitute
// a fake.
type presenceWriter interface {
	Upsert(ctx context.Context, pos sim.DriverPos) error
}

// upsertWithRetry writes one position with bounded retries and doubling
// delay. Failures past the last attempt surface to the caller; the next
// tick from the driver supersedes the lost one anyway.
func upsertWithRetry(ctx context.Context, store presenceWriter, upd models.LocationUpdate, attempts int, delay time.Duration) error {
	pos := sim.DriverPos{DriverID: upd.UserID, Coord: upd.Coord, Updated: upd.At}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.Upsert(ctx, pos); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
