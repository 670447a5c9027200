package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/i18n"
	"github.com/suPer8Hu/gopherchat/internal/logging"
	"github.com/suPer8Hu/gopherchat/internal/retry"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/gopherchat/internal/store/redisstore"
	"github.com/suPer8Hu/gopherchat/internal/topics"
)

// app is the wired engine shared by the subcommands.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	loc    *i18n.Localizer
	models *ai.Registry
	repo   *chat.Repo
	store  *chat.Store
	svc    *chat.Service

	saveCancel context.CancelFunc
	saveDone   sync.WaitGroup
	closers    []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger, loc: i18n.New(cfg.Locale)}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })

	a.models, err = ai.LoadRegistry(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a.repo = chat.NewRepo(gdb)
	if err := a.repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.store = chat.NewStore(a.defaultModel(), chat.ReasoningEffort(cfg.ReasoningEffort))
	if err := chat.Rehydrate(ctx, a.store, a.repo, a.loc.Interrupted()); err != nil {
		logger.Warn("restore conversation failed", zap.Error(err))
	}
	if _, ok := a.models.Get(a.store.CurrentModel()); !ok {
		a.store.SetCurrentModel(a.defaultModel())
	}

	tokens := tokenSource(cfg)
	client := ai.NewClient(cfg.APIBaseURL, tokens, logger.Named("ai"))
	dir := topics.New(cfg.APIBaseURL, tokens,
		topics.WithCache(a.topicCache(ctx)),
		topics.WithTTL(cfg.TopicCacheTTL),
		topics.WithLogger(logger.Named("topics")),
	)

	opts := []chat.Option{
		chat.WithTopicDirectory(dir),
		chat.WithRetryPolicy(retry.Policy{MaxAttempts: cfg.RetryAttempts, Delay: retry.Linear(cfg.RetryBaseDelay)}),
		chat.WithLocalizer(a.loc),
		chat.WithLogger(logger.Named("chat")),
		chat.WithLoginRequired(func(err error) {
			logger.Warn("login required: refresh API_TOKEN or TOKEN_FILE", zap.Error(err))
		}),
	}
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warn("turn events disabled", zap.Error(err))
		} else {
			opts = append(opts, chat.WithTurnPublisher(pub))
			a.closers = append(a.closers, pub.Close)
		}
	}
	a.svc = chat.NewService(a.store, client, a.models, opts...)

	saveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.saveCancel = cancel
	a.saveDone.Add(1)
	go func() {
		defer a.saveDone.Done()
		chat.Autosave(saveCtx, a.store, a.repo, cfg.AutosaveDelay, logger.Named("autosave"))
	}()
	return a, nil
}

// Close flushes the conversation to disk and releases connections.
func (a *app) Close() {
	a.svc.Stop()
	a.svc.Wait()
	a.saveCancel()
	a.saveDone.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func (a *app) defaultModel() string {
	if _, ok := a.models.Get(a.cfg.DefaultModel); ok {
		return a.cfg.DefaultModel
	}
	if list := a.models.List(); len(list) > 0 {
		a.log.Warn("default model unknown, using first registered", zap.String("model", a.cfg.DefaultModel))
		return list[0].ID
	}
	return a.cfg.DefaultModel
}

// topicCache uses Redis when configured and reachable, else process memory.
func (a *app) topicCache(ctx context.Context) topics.Cache {
	if a.cfg.RedisAddr == "" {
		return topics.NewMemoryCache()
	}
	rs := redisstore.New(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rs.Ping(pctx); err != nil {
		a.log.Warn("redis unavailable, caching topics in memory", zap.String("addr", a.cfg.RedisAddr), zap.Error(err))
		_ = rs.Close()
		return topics.NewMemoryCache()
	}
	a.closers = append(a.closers, rs.Close)
	return rs
}

func tokenSource(cfg config.Config) auth.TokenSource {
	switch {
	case cfg.APIToken != "":
		return auth.Static(cfg.APIToken)
	case cfg.TokenFile != "":
		return auth.CookieFile(cfg.TokenFile)
	}
	return auth.TokenFunc(func(context.Context) (string, error) {
		return "", errors.Join(auth.ErrLoginRequired, errors.New("set API_TOKEN or TOKEN_FILE"))
	})
}
