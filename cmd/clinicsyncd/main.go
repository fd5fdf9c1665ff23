// clinicsyncd is the clinic synchronization daemon: it restores provider
// configuration, schedules recurring passes, consumes retry signals, and
// serves the operator API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/YIKHLEF/ClinicBoost-sub004/adapters/factory"
	datastoresqlite "github.com/YIKHLEF/ClinicBoost-sub004/datastore/sqlite"
	"github.com/YIKHLEF/ClinicBoost-sub004/internal/config"
	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
	otelbridge "github.com/YIKHLEF/ClinicBoost-sub004/observe/otel"
	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	providersqlite "github.com/YIKHLEF/ClinicBoost-sub004/provider/sqlite"
	"github.com/YIKHLEF/ClinicBoost-sub004/ratelimit"
	ratelimitredis "github.com/YIKHLEF/ClinicBoost-sub004/ratelimit/redis"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/queue"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/queue/redisstreams"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/retry"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtime/sched"
	"github.com/YIKHLEF/ClinicBoost-sub004/runtimeconfig"
	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", config.Getenv("CLINICSYNC_CONFIG", ""), "path to config file (yaml or json)")
	flag.Parse()

	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if addr := config.Getenv("CLINICSYNC_LISTEN_ADDR", ""); addr != "" {
		cfg.ListenAddr = addr
	}
	if addr := config.Getenv("CLINICSYNC_REDIS_ADDR", ""); addr != "" {
		cfg.RedisAddr = addr
	}
	cfg.OTelEnabled = config.ParseBoolEnv("CLINICSYNC_OTEL", cfg.OTelEnabled)

	sinks := []observe.Sink{observe.NewLogSink(log.Default())}
	if cfg.OTelEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(log.Writer()))
		if err != nil {
			log.Fatalf("otel exporter: %v", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		sinks = append(sinks, otelbridge.NewSink(tp))
	}
	sink := observe.NewMultiSink(sinks...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sink); err != nil && ctx.Err() == nil {
		log.Fatalf("clinicsyncd: %v", err)
	}
}

func run(ctx context.Context, cfg runtimeconfig.Config, sink observe.Sink) error {
	configStore, err := providersqlite.New(cfg.ProviderDB)
	if err != nil {
		return err
	}
	defer configStore.Close()

	records, err := datastoresqlite.New(cfg.RecordsDB)
	if err != nil {
		return err
	}
	defer records.Close()

	adapters := factory.New()

	registry, err := provider.NewRegistry(configStore, adapters, provider.WithSink(sink))
	if err != nil {
		return err
	}
	if err := registry.Restore(ctx); err != nil {
		return err
	}
	if err := registry.Register(ctx, provider.DefaultProviders()...); err != nil {
		return err
	}

	limiterStorage, retryQueue, err := backends(cfg)
	if err != nil {
		return err
	}
	defer retryQueue.Close()

	limiter, err := ratelimit.New(limiterStorage,
		ratelimit.WithMaxRequests(cfg.RateLimit.MaxRequests),
		ratelimit.WithWindow(cfg.RateLimit.Window()),
		ratelimit.WithSink(sink),
	)
	if err != nil {
		return err
	}

	retries, err := retry.NewCoordinator(retryQueue,
		retry.WithPolicy(retry.Policy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BaseDelay:     cfg.Retry.BaseDelay(),
			MaxDelay:      cfg.Retry.MaxDelay(),
			SweepInterval: cfg.Retry.SweepInterval(),
			MaxItems:      cfg.Retry.MaxItems,
		}),
		retry.WithSink(sink),
	)
	if err != nil {
		return err
	}

	resolver := syncengine.NewResolver(syncengine.WithResolverSink(sink))
	engine := syncengine.NewEngine(records, resolver, syncengine.WithEngineSink(sink))

	var service *syncengine.Service
	scheduler := sched.New(func(key string) error {
		_, err := service.SyncProvider(context.Background(), key)
		return err
	}, sched.WithSink(sink))

	service, err = syncengine.NewService(registry, adapters.Resolve, engine, resolver,
		syncengine.WithLimiter(limiter),
		syncengine.WithRetries(retries),
		syncengine.WithScheduler(scheduler),
		syncengine.WithServiceSink(sink),
		syncengine.WithWindowFunc(func(now time.Time) syncengine.Window {
			return syncengine.Window{
				From: now.Add(-time.Duration(cfg.WindowPastDays) * 24 * time.Hour),
				To:   now.Add(time.Duration(cfg.WindowFutureDays) * 24 * time.Hour),
			}
		}),
	)
	if err != nil {
		return err
	}
	registry.SetHooks(service.ScheduleHooks())

	scheduler.Start()
	defer scheduler.Stop()

	go retries.Run(ctx)
	go consumeRetrySignals(ctx, retryQueue, service, sink)

	server := NewServer(cfg.ListenAddr, registry, service, scheduler)
	log.Printf("clinicsyncd listening on %s", cfg.ListenAddr)
	return server.ListenAndServe(ctx)
}

// backends picks in-process or Redis-backed infrastructure. With no Redis
// address configured everything runs in memory, single instance.
func backends(cfg runtimeconfig.Config) (ratelimit.Storage, queue.Queue, error) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryStorage(), queue.NewMemoryQueue(), nil
	}
	storage, err := ratelimitredis.New(cfg.RedisAddr, ratelimitredis.WithPassword(cfg.RedisPassword))
	if err != nil {
		return nil, nil, err
	}
	q, err := redisstreams.New(cfg.RedisAddr, redisstreams.WithPassword(cfg.RedisPassword))
	if err != nil {
		return nil, nil, err
	}
	return storage, q, nil
}

func consumeRetrySignals(ctx context.Context, q queue.Queue, service *syncengine.Service, sink observe.Sink) {
	consumer := "clinicsyncd"
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := q.Claim(ctx, consumer, 5*time.Second, 16)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = sink.Emit(ctx, observe.Event{
				Kind:       observe.KindRetry,
				Level:      observe.LevelWarn,
				ServiceTag: "retry",
				Name:       "claim_error",
				Error:      err.Error(),
			})
			time.Sleep(time.Second)
			continue
		}
		if len(deliveries) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, d := range deliveries {
			if err := service.HandleRetrySignal(ctx, d.Signal); err != nil {
				_, _ = q.DeadLetter(ctx, d, err.Error())
				continue
			}
			_ = q.Ack(ctx, consumer, d.ID)
		}
	}
}
