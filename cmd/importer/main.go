package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/snackman/pizza-content-sub000/internal/config"
	"github.com/snackman/pizza-content-sub000/internal/dedup"
	"github.com/snackman/pizza-content-sub000/internal/importer"
	"github.com/snackman/pizza-content-sub000/internal/liveness"
	"github.com/snackman/pizza-content-sub000/internal/publisher"
	"github.com/snackman/pizza-content-sub000/internal/ratelimit"
	"github.com/snackman/pizza-content-sub000/internal/scheduler"
	"github.com/snackman/pizza-content-sub000/internal/source"
	"github.com/snackman/pizza-content-sub000/internal/source/giphy"
	"github.com/snackman/pizza-content-sub000/internal/source/reddit"
	"github.com/snackman/pizza-content-sub000/internal/storage/postgres"
	"github.com/snackman/pizza-content-sub000/internal/tagger"
)

const requestTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single import pass and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	var pub importer.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	contentStore := postgres.NewContentStore(db)
	sourceStore := postgres.NewSourceStore(db)
	logStore := postgres.NewImportLogStore(db)
	txManager := postgres.NewTransactionManager(db)

	adapters, err := buildAdapters(cfg, logger)
	if err != nil {
		logger.Error("failed to build source adapters", "error", err)
		os.Exit(1)
	}
	if len(adapters) == 0 {
		logger.Error("no sources configured")
		os.Exit(1)
	}

	var sweeper *liveness.Sweeper
	if cfg.Liveness.Enabled {
		checker := liveness.NewChecker(liveness.Config{
			Timeout:       cfg.Liveness.Timeout,
			MinContentLen: cfg.Liveness.MinContentLen,
		}, logger)
		sweeper = liveness.NewSweeper(checker, contentStore,
			cfg.Liveness.BatchSize, cfg.Liveness.Concurrency, logger)
	}

	pass := &importPass{
		adapters:  adapters,
		content:   contentStore,
		sources:   sourceStore,
		logs:      logStore,
		txManager: txManager,
		tagger:    tagger.NewDefault(),
		publisher: pub,
		sweeper:   sweeper,
		opts: importer.Options{
			DryRun:  cfg.Import.DryRun,
			Verbose: cfg.Import.Verbose,
		},
		logger: logger,
	}

	sched := scheduler.NewScheduler(pass, cfg.Import.Interval, cfg.Import.RunTimeout, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting content importer",
		"sources", len(adapters),
		"interval", cfg.Import.Interval,
		"dry_run", cfg.Import.DryRun,
	)

	if *once {
		if err := sched.RunOnce(ctx); err != nil {
			logger.Error("import pass failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

type boundAdapter struct {
	source  importer.Source
	limiter *ratelimit.Limiter
}

// buildAdapters constructs one adapter per configured source. Sources of the
// same platform share one rate limiter unless a per-source budget override
// is set; all reddit sources share one token manager.
func buildAdapters(cfg *config.Config, logger *slog.Logger) ([]boundAdapter, error) {
	newLimiter := func(rpm int) *ratelimit.Limiter {
		if rpm <= 0 {
			rpm = cfg.RateLimit.RequestsPerMinute
		}
		return ratelimit.New(ratelimit.Config{
			RequestsPerWindow: rpm,
			MaxRetries:        cfg.RateLimit.MaxRetries,
			BaseDelay:         cfg.RateLimit.BaseDelay,
			MaxDelay:          cfg.RateLimit.MaxDelay,
		}, logger)
	}
	platformLimiters := make(map[string]*ratelimit.Limiter)
	limiterFor := func(sc config.SourceConfig) *ratelimit.Limiter {
		if sc.RequestsPerMinute > 0 {
			return newLimiter(sc.RequestsPerMinute)
		}
		l, ok := platformLimiters[sc.Platform]
		if !ok {
			l = newLimiter(0)
			platformLimiters[sc.Platform] = l
		}
		return l
	}

	redditTokens := source.NewTokenManager(reddit.AppOnlyRefresh(reddit.AuthConfig{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		Timeout:      requestTimeout,
	}))

	var adapters []boundAdapter
	for _, sc := range cfg.Sources {
		var src importer.Source
		switch sc.Platform {
		case reddit.Platform:
			src = reddit.New(reddit.Config{
				Subreddit:   sc.SourceIdentifier,
				DisplayName: sc.DisplayName,
				UserAgent:   cfg.Reddit.UserAgent,
				Timeout:     requestTimeout,
			}, redditTokens, logger)
		case giphy.Platform:
			src = giphy.New(giphy.Config{
				Query:       strings.ReplaceAll(sc.SourceIdentifier, "-", " "),
				DisplayName: sc.DisplayName,
				APIKey:      cfg.Giphy.APIKey,
				Timeout:     requestTimeout,
			}, logger)
		default:
			return nil, fmt.Errorf("unknown platform %q", sc.Platform)
		}
		adapters = append(adapters, boundAdapter{source: src, limiter: limiterFor(sc)})
	}
	return adapters, nil
}

// importPass runs every configured source sequentially, then the liveness
// sweep. A fresh dedup cache is loaded per pass so it also catches
// duplicates across sources.
type importPass struct {
	adapters  []boundAdapter
	content   *postgres.ContentStore
	sources   *postgres.SourceStore
	logs      *postgres.ImportLogStore
	txManager *postgres.TransactionManager
	tagger    *tagger.AutoTagger
	publisher importer.Publisher
	sweeper   *liveness.Sweeper
	opts      importer.Options
	logger    *slog.Logger
}

func (p *importPass) RunPass(ctx context.Context) error {
	dd := dedup.New(p.content, p.logger)

	var errs []error
	for _, bound := range p.adapters {
		imp := importer.New(
			bound.source,
			p.content,
			p.sources,
			p.logs,
			dd,
			p.tagger,
			bound.limiter,
			p.publisher,
			p.txManager,
			p.logger,
			p.opts,
		)
		if _, err := imp.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w",
				bound.source.Platform(), bound.source.Identifier(), err))
		}
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
	}

	if p.sweeper != nil {
		if _, err := p.sweeper.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("liveness sweep: %w", err))
		}
	}

	return errors.Join(errs...)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
