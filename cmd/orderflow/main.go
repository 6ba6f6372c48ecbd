// Command orderflow runs the order processing worker: it consumes order
// intents from the bus, enriches them against the reference services, and
// persists the result.
//
// With -requeue KEY it instead re-publishes the ledger entry for KEY back
// onto the topic and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opscale-io/orderflow/cache"
	"github.com/opscale-io/orderflow/consumer"
	"github.com/opscale-io/orderflow/core"
	"github.com/opscale-io/orderflow/dlock"
	"github.com/opscale-io/orderflow/enrich"
	"github.com/opscale-io/orderflow/ledger"
	"github.com/opscale-io/orderflow/pipeline"
	"github.com/opscale-io/orderflow/refclient"
	"github.com/opscale-io/orderflow/store"
)

func main() {
	requeueKey := flag.String("requeue", "", "re-publish the failure ledger entry for this key and exit")
	flag.Parse()

	if err := run(*requeueKey); err != nil {
		fmt.Fprintf(os.Stderr, "orderflow: %v\n", err)
		os.Exit(1)
	}
}

func run(requeueKey string) error {
	cfg, err := core.NewConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := core.NewProductionLogger("orderflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Trace.Enabled {
		shutdown, err := setupTracing()
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer shutdown()
	}

	redisClient, err := core.NewRedisClient(core.RedisClientOptions{
		Addr:   cfg.Cache.Addr(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer := consumer.NewProducer(cfg.Kafka, logger)
	defer producer.Close()

	failures := ledger.New(redisClient, producer, cfg.Failure.MaxRetries, cfg.Failure.TTL, logger)

	if requeueKey != "" {
		found, err := failures.Requeue(ctx, requeueKey)
		if err != nil {
			return fmt.Errorf("requeueing %s: %w", requeueKey, err)
		}
		if !found {
			return fmt.Errorf("no ledger entry for key %s", requeueKey)
		}
		logger.Info("Requeue complete", map[string]interface{}{"key": requeueKey})
		return nil
	}

	orders, err := store.NewMongoStore(ctx, cfg.Store.URI, cfg.Store.Database, cfg.Store.Collection, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orders.Close(closeCtx); err != nil {
			logger.Error("Failed to close store", map[string]interface{}{"error": err})
		}
	}()

	enricher := enrich.New(
		refclient.NewProductClient(cfg.Services.ProductAPIURL, logger),
		refclient.NewCustomerClient(cfg.Services.CustomerAPIURL, logger),
		cache.New(redisClient, logger),
		enrich.Options{
			ProductTTL:  cfg.Cache.ProductTTL,
			CustomerTTL: cfg.Cache.CustomerTTL,
		},
		logger,
	)

	pipe := pipeline.New(
		orders,
		pipeline.RedisLocker{Lock: dlock.New(redisClient, logger)},
		enricher,
		cfg.Lock.TTL,
		logger,
	)

	logger.Info("Worker starting", map[string]interface{}{
		"topic":       cfg.Kafka.Topic,
		"group":       cfg.Kafka.ConsumerGroup,
		"concurrency": cfg.Kafka.Concurrency,
	})

	err = consumer.New(cfg.Kafka, pipe, failures, logger).Run(ctx)

	logger.Info("Worker stopped", map[string]interface{}{})
	return err
}

// setupTracing installs a stdout span exporter. Spans go to stderr so they
// do not interleave with log output on stdout.
func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "orderflow: shutting down tracer: %v\n", err)
		}
	}, nil
}
