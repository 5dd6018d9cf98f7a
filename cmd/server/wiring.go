package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"verigate/internal/employment"
	jwttoken "verigate/internal/jwt_token"
	"verigate/internal/lookup/handler"
	lookupmetrics "verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
	"verigate/internal/lookup/providers"
	employmentprovider "verigate/internal/lookup/providers/employment"
	"verigate/internal/lookup/providers/pan"
	"verigate/internal/lookup/providers/uan"
	"verigate/internal/lookup/service"
	"verigate/internal/lookup/store"
	"verigate/internal/lookup/store/negcache"
	"verigate/internal/lookup/store/queue"
	"verigate/internal/lookup/store/result"
	"verigate/internal/lookup/updates"
	"verigate/internal/lookup/worker"
	"verigate/internal/platform/config"
	"verigate/internal/platform/httpserver"
	"verigate/internal/platform/kafka"
	"verigate/internal/platform/metrics"
	"verigate/internal/platform/postgres"
	"verigate/internal/platform/redis"
	authmw "verigate/pkg/platform/middleware/auth"
	"verigate/pkg/platform/tx"
)

const (
	tokenIssuer   = "verigate"
	tokenAudience = "verigate-api"
)

// relay forwards bus events between processes.
type relay interface {
	ports.Publisher
	Run(ctx context.Context) error
}

type app struct {
	router    chi.Router
	relay     relay
	worker    *asynq.Server
	workerMux *asynq.ServeMux
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	checks := map[string]httpserver.HealthCheck{}
	lookupMetrics := lookupmetrics.New()

	var (
		results ports.ResultStore
		jobs    ports.JobQueue
		runner  tx.Runner = tx.NoopRunner{}
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := store.Migrate(ctx, db); err != nil {
			a.close()
			return nil, err
		}
		results = result.NewPostgres(db)
		jobs = queue.NewPostgres(db)
		runner = tx.SQLRunner{DB: db}
		checks["postgres"] = func(ctx context.Context) error { return postgres.Health(ctx, db) }
	} else {
		log.Warn("DATABASE_URL not set, lookups are kept in memory")
		results = result.NewInMemory()
		jobs = queue.NewInMemory()
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
		checks["redis"] = rdb.Health
		results, err = negcache.New(results, rdb.Client,
			negcache.WithLogger(log),
			negcache.WithMetrics(lookupMetrics),
		)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	bus := updates.NewBus(updates.WithLogger(log), updates.WithMetrics(lookupMetrics))
	var publisher ports.Publisher = bus
	switch cfg.BusTransport {
	case config.TransportRedis:
		a.relay, err = updates.NewRedisRelay(rdb.Client, bus,
			updates.WithRelayLogger(log),
			updates.WithRelayMetrics(lookupMetrics),
		)
	case config.TransportKafka:
		a.relay, err = kafkaRelay(ctx, cfg.Kafka, bus, log, lookupMetrics, checks, a)
	}
	if err != nil {
		a.close()
		return nil, err
	}
	if a.relay != nil {
		publisher = a.relay
	}

	dispatcher, err := updates.NewDispatcher(loggingProfileWriter{log: log}, jobs,
		updates.WithDispatcherLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}
	dispatcher.Attach(bus)

	uanClient := uan.New(providers.NewHTTPClient(uan.ProviderID, cfg.Providers.UANBaseURL, cfg.Providers.APIKey, cfg.Providers.Timeout), lookupMetrics)
	registry, err := newRegistry(cfg.Providers, uanClient, lookupMetrics, log)
	if err != nil {
		a.close()
		return nil, err
	}

	coordinatorOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(lookupMetrics),
		service.WithPublisher(publisher),
	}
	completer, err := service.NewCompleter(results, jobs, publisher,
		service.WithCompleterLogger(log),
		service.WithCompleterMetrics(lookupMetrics),
		service.WithTxRunner(runner),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	if rdb != nil {
		redisOpt, err := asynq.ParseRedisURI(rdb.URL())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse redis url for tasks: %w", err)
		}
		taskClient := asynq.NewClient(redisOpt)
		a.closers = append(a.closers, taskClient.Close)
		scheduler, err := worker.NewScheduler(taskClient, cfg.Poll.Interval, cfg.Poll.MaxAttempts)
		if err != nil {
			a.close()
			return nil, err
		}
		coordinatorOpts = append(coordinatorOpts, service.WithScheduler(scheduler))

		processor, err := worker.NewProcessor(uanClient, completer,
			worker.WithLogger(log),
			worker.WithPendingChecker(jobs),
		)
		if err != nil {
			a.close()
			return nil, err
		}
		a.worker, a.workerMux = worker.NewServer(redisOpt, processor, cfg.Poll.Interval, cfg.Poll.Concurrency, log)
	} else {
		log.Warn("REDIS_URL not set, deferred lookups complete only by provider callback")
	}

	coordinator, err := service.New(results, jobs, registry, coordinatorOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	verifier, err := employment.New(coordinator, employment.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}

	h, err := handler.New(handler.Deps{
		Coordinator: coordinator,
		Completer:   completer,
		Verifier:    verifier,
		Results:     results,
		Queue:       jobs,
		Bus:         bus,
	}, handler.WithLogger(log), handler.WithCallbackSecret(cfg.Server.CallbackSecret))
	if err != nil {
		a.close()
		return nil, err
	}

	tokens := jwttoken.NewService(cfg.Server.JWTSigningKey, tokenIssuer, tokenAudience)
	router := httpserver.NewRouter(log, metrics.New(), checks)
	h.RegisterCallbacks(router)
	router.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(tokens, log))
		h.Register(r)
	})
	a.router = router
	a.closers = append(a.closers, func() error { bus.Close(); return nil })
	return a, nil
}

func kafkaRelay(ctx context.Context, cfg config.KafkaConfig, bus *updates.Bus, log *slog.Logger, m *lookupmetrics.Metrics, checks map[string]httpserver.HealthCheck, a *app) (relay, error) {
	client, err := kafka.New(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { client.Close(); return nil })
	if err := kafka.EnsureTopic(ctx, client, cfg.Topic, 1); err != nil {
		return nil, err
	}
	checks["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, client) }
	return updates.NewKafkaRelay(client, bus, cfg.Topic,
		updates.WithRelayLogger(log),
		updates.WithRelayMetrics(m),
	)
}

func newRegistry(cfg config.Providers, uanClient *uan.Client, m *lookupmetrics.Metrics, log *slog.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	panPipeline := pan.NewPipeline(
		providers.NewHTTPClient(pan.ProviderID, cfg.PANBaseURL, cfg.APIKey, cfg.Timeout),
		pan.WithLogger(log),
	)
	history := employmentprovider.New(
		providers.NewHTTPClient(employmentprovider.ProviderID, cfg.EmploymentBaseURL, cfg.APIKey, cfg.Timeout),
		m,
	)
	for _, p := range []providers.Provider{pan.NewExecutor(panPipeline, m), uanClient, history} {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// loggingProfileWriter stands in for the candidate profile store, which
// lives in another system.
type loggingProfileWriter struct {
	log *slog.Logger
}

func (w loggingProfileWriter) RecordVerified(ctx context.Context, record models.LookupRecord) error {
	w.log.InfoContext(ctx, "document verified",
		"candidate_id", record.CandidateID,
		"lookup_type", record.LookupType,
		"record_id", record.ID,
	)
	return nil
}
