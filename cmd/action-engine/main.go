// cmd/action-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"action-engine/internal/actions"
	"action-engine/internal/allowlist"
	"action-engine/internal/audit"
	"action-engine/internal/common/aws"
	"action-engine/internal/common/camunda"
	"action-engine/internal/common/config"
	"action-engine/internal/common/database"
	"action-engine/internal/common/logger"
	"action-engine/internal/common/observability"
	"action-engine/internal/dispatch"
	"action-engine/internal/ledger"
	"action-engine/internal/notify"
	"action-engine/internal/payments"
	"action-engine/internal/ratelimit"
	"action-engine/pkg/registry"

	ac "action-engine/internal/workers/admin/admin-config"
	aa "action-engine/internal/workers/actions/approve-action"
	ca "action-engine/internal/workers/actions/cancel-action"
	cr "action-engine/internal/workers/actions/create-action"
	ea "action-engine/internal/workers/actions/execute-action"
	qa "action-engine/internal/workers/actions/query-actions"
	ms "action-engine/internal/workers/subscription/manage-subscription"
	vs "action-engine/internal/workers/subscription/validate-subscription"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	configPath := pflag.String("config", "", "Path to a YAML config file (default: configs/config.yaml lookup)")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting action engine...",
		zap.String("environment", cfg.App.Environment),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("cache", cfg.Storage.CacheBackend),
	)

	obs := observability.New(cfg.Observability.ServiceName,
		observability.WithTracing(cfg.Observability.TracingEnabled, cfg.Observability.SampleRatio))
	camunda.SetJobRecorder(obs)

	ctx := context.Background()

	// --- Stores ---
	var (
		ledgerStore ledger.Store  = ledger.NewMemoryStore()
		actionStore actions.Store = actions.NewMemoryStore()
		pg          *database.PostgresClient
	)
	if cfg.Storage.Backend == config.BackendPostgres {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		schema := append(append([]string{}, ledger.Schema...), actions.Schema...)
		if err := pg.Migrate(ctx, schema); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		ledgerStore = ledger.NewPostgresStore(pg.DB)
		actionStore = actions.NewPostgresStore(pg.DB)
		zapLog.Info("PostgreSQL connected successfully")
	}

	var (
		allowList allowlist.Registry   = allowlist.NewMemoryRegistry()
		tracker   ratelimit.Tracker    = ratelimit.NewMemoryTracker()
		limits    ratelimit.LimitTable = ratelimit.NewMemoryLimits()
		policy    actions.Policy       = actions.NewMemoryPolicy()
		rdb       *database.RedisClient
	)
	if cfg.Storage.CacheBackend == config.BackendRedis {
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()

		allowList = allowlist.NewRedisRegistry(rdb.Client, rdb.Prefix())
		tracker = ratelimit.NewRedisTracker(rdb.Client, rdb.Prefix())
		limits = ratelimit.NewRedisLimits(rdb.Client, rdb.Prefix())
		policy = actions.NewRedisPolicy(rdb.Client, rdb.Prefix())
		zapLog.Info("Redis connected successfully")
	}

	// --- External collaborators ---
	var funds ledger.FundsTransfer
	switch cfg.Payments.Backend {
	case config.BackendHTTP:
		funds = payments.NewGateway(cfg.Payments.BaseURL, cfg.Payments.APIKey, config.GetDuration(cfg.Payments.TimeoutMs), log)
	default:
		funds = payments.NewAccounts(cfg.Payments.InitialBalances, cfg.Ledger.Treasury)
		zapLog.Warn("using in-memory payment accounts")
	}

	var executor dispatch.Executor = dispatch.SimulatedExecutor{}
	if cfg.Dispatch.ExecutorURL != "" {
		executor = dispatch.NewHTTPExecutor(cfg.Dispatch.ExecutorURL, cfg.Dispatch.ExecutorAPIKey,
			config.GetDuration(cfg.Dispatch.ExecutorTimeoutMs))
	} else {
		zapLog.Warn("no executor_url configured, actions are simulated")
	}

	notifier := buildNotifier(ctx, cfg, log, zapLog)
	actionSinks := []actions.EventSink{notifier}
	ledgerSinks := []ledger.EventSink{notifier}

	var es *database.ElasticsearchClient
	if cfg.Audit.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}

		indexer := audit.NewIndexer(es.Client, cfg.Audit.Index, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("audit index setup failed", zap.Error(err))
		}
		actionSinks = append(actionSinks, indexer)
		ledgerSinks = append(ledgerSinks, indexer)
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Audit.Index))
	}

	// --- Core ---
	led := ledger.New(ledgerStore, funds, ledger.Config{
		Treasury:            cfg.Ledger.Treasury,
		Cycle:               time.Duration(cfg.Ledger.CycleDays) * 24 * time.Hour,
		ReferralDiscountBps: cfg.Ledger.ReferralDiscountBps,
		ReferralRewardBps:   cfg.Ledger.ReferralRewardBps,
		ProratedRefunds:     cfg.Ledger.ProratedRefunds,
		LockShards:          cfg.Engine.LockShards,
	}, log, ledger.WithEventSinks(ledgerSinks...))

	limiter := ratelimit.New(tracker, config.GetDuration(cfg.Engine.CooldownMs), cfg.Engine.DailyLimits,
		ratelimit.WithLimitTable(limits))

	dispatcher := dispatch.New(allowList, executor, dispatch.Config{
		Timeout:         config.GetDuration(cfg.Dispatch.TimeoutMs),
		DefaultGasLimit: cfg.Dispatch.DefaultGasLimit,
	}, log, dispatch.WithTracer(obs.Tracer()))

	engine := actions.NewEngine(actionStore, led, limiter, allowList, dispatcher, actions.Config{
		ExpiryWindow:   config.GetDuration(cfg.Engine.ExpiryWindowMs),
		AutoApprove:    cfg.Engine.AutoApprove,
		RequestSources: cfg.Engine.RequestSources,
		Operators:      cfg.Engine.Operators,
		LockShards:     cfg.Engine.LockShards,
	}, log,
		actions.WithEventSinks(actionSinks...),
		actions.WithAlerter(notifier),
		actions.WithTracer(obs.Tracer()),
		actions.WithPolicy(policy),
	)

	if cfg.Engine.SeedPath != "" {
		seed, err := registry.LoadSeed(cfg.Engine.SeedPath)
		if err != nil {
			zapLog.Fatal("seed load failed", zap.String("path", cfg.Engine.SeedPath), zap.Error(err))
		}
		res, err := registry.Apply(ctx, seed, led, allowList, engine)
		if err != nil {
			zapLog.Fatal("seed apply failed", zap.Error(err))
		}
		zapLog.Info("Seed applied",
			zap.Int("tiersCreated", res.TiersCreated),
			zap.Int("tiersSkipped", res.TiersSkipped),
			zap.Int("addressesAllowed", res.AddressesAllowed),
		)
	}

	// --- Init Zeebe Client with retry ---
	zeebe, err := camunda.Connect(ctx, camunda.ClientConfigFrom(cfg.Camunda))
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully", zap.String("gateway", cfg.Camunda.BrokerAddress))

	// --- Workers ---
	timeoutFor := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}

	handlers := []struct {
		taskType string
		handler  worker.JobHandler
	}{
		{cr.TaskType, cr.NewHandler(&cr.Config{Timeout: timeoutFor(cr.TaskType)}, engine, log).Handle},
		{aa.TaskType, aa.NewHandler(&aa.Config{Timeout: timeoutFor(aa.TaskType)}, engine, log).Handle},
		{ea.TaskType, ea.NewHandler(&ea.Config{Timeout: timeoutFor(ea.TaskType)}, engine, log).Handle},
		{ca.TaskType, ca.NewHandler(&ca.Config{Timeout: timeoutFor(ca.TaskType)}, engine, log).Handle},
		{qa.TaskType, qa.NewHandler(&qa.Config{Timeout: timeoutFor(qa.TaskType)}, engine, log).Handle},
		{ms.TaskType, ms.NewHandler(&ms.Config{Timeout: timeoutFor(ms.TaskType)}, led, log).Handle},
		{vs.TaskType, newValidateHandler(cfg, led, rdb, timeoutFor(vs.TaskType), log).Handle},
		{ac.TaskType, ac.NewHandler(&ac.Config{
			Timeout:   timeoutFor(ac.TaskType),
			Operators: cfg.Engine.Operators,
		}, led, allowList, engine, log).Handle},
	}

	var jobWorkers []worker.JobWorker
	for _, h := range handlers {
		if jw := zeebe.StartWorker(h.taskType, config.GetWorkerConfig(cfg, h.taskType), h.handler, log); jw != nil {
			jobWorkers = append(jobWorkers, jw)
		}
	}
	zapLog.Info("Workers registered", zap.Int("active", len(jobWorkers)), zap.Int("total", len(handlers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failures := map[string]string{}
		if pg != nil {
			if err := pg.Ping(checkCtx); err != nil {
				failures["postgres"] = err.Error()
			}
		}
		if rdb != nil {
			if err := rdb.Ping(checkCtx); err != nil {
				failures["redis"] = err.Error()
			}
		}
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			failures["zeebe"] = err.Error()
		}
		if len(failures) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, "not ready", failures)
			return
		}
		writeStatus(w, http.StatusOK, "ready", nil)
	})
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, jw := range jobWorkers {
		jw.Close()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing telemetry", zap.Error(err))
	}

	zapLog.Info("Action engine stopped gracefully")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func buildNotifier(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) *notify.Notifier {
	var (
		publisher notify.Publisher
		sender    notify.EmailSender
	)
	region := cfg.Notifications.AWS.Region

	if cfg.Notifications.SNS.Enabled {
		client, err := aws.NewSNSClient(ctx, region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		publisher = client
	}
	if cfg.Notifications.SES.Enabled {
		client, err := aws.NewSESClient(ctx, region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		sender = client
	}

	return notify.New(notify.Config{
		TopicARN:       cfg.Notifications.SNS.TopicARN,
		FromEmail:      cfg.Notifications.SES.FromEmail,
		OperatorEmails: cfg.Notifications.SES.OperatorEmails,
	}, publisher, sender, log)
}

func newValidateHandler(cfg *config.Config, led vs.QueryLedger, rdb *database.RedisClient, timeout time.Duration, log logger.Logger) *vs.Handler {
	vcfg := vs.LoadConfig()
	vcfg.Timeout = timeout
	if rdb == nil {
		return vs.NewHandler(vcfg, led, nil, log)
	}
	vcfg.CachePrefix = rdb.Prefix()
	return vs.NewHandler(vcfg, led, rdb.Client, log)
}

func writeStatus(w http.ResponseWriter, code int, status string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if len(details) > 0 {
		body["checks"] = details
	}
	json.NewEncoder(w).Encode(body)
}
