package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/analytics"
	"github.com/lucasfdcampos/cnae-search/internal/cache"
	"github.com/lucasfdcampos/cnae-search/internal/catalog"
	"github.com/lucasfdcampos/cnae-search/internal/classifier"
	"github.com/lucasfdcampos/cnae-search/internal/config"
	"github.com/lucasfdcampos/cnae-search/internal/diversify"
	"github.com/lucasfdcampos/cnae-search/internal/index"
	"github.com/lucasfdcampos/cnae-search/internal/smartsearch"
	"github.com/lucasfdcampos/cnae-search/internal/store"
)

// app is the wired dependency graph shared by every command.
type app struct {
	redis   *cache.Client
	mongo   *store.Client
	index   *index.Client
	tracker *analytics.Tracker
	svc     *smartsearch.Service
	logger  *zap.Logger
}

// newApp connects the optional backends and builds the search service. Redis and
// MongoDB are skipped with a warning when unreachable.
func newApp(cfg config.Config, logger *zap.Logger, offline bool) *app {
	a := &app{logger: logger}

	// ─── Redis ────────────────────────────────────────────────────────────────
	var slots cache.Store = cache.NewMemory()
	if !offline {
		rc := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx5s, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rc.Ping(ctx5s); err != nil {
			logger.Warn("Redis not available, using in-memory cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rc.Close()
		} else {
			a.redis = rc
			slots = rc
			logger.Info("Redis connected", zap.String("addr", cfg.RedisAddr))
		}
		cancel()
	}

	// ─── MongoDB ──────────────────────────────────────────────────────────────
	if !offline {
		ctx10s, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mc, err := store.New(ctx10s, cfg.MongoURI)
		cancel()
		if err != nil {
			logger.Warn("MongoDB not available, analytics and catalog mirror disabled", zap.Error(err))
		} else {
			a.mongo = mc
			logger.Info("MongoDB connected")
		}
	}

	// ─── Search pipeline ──────────────────────────────────────────────────────
	catOpts := []catalog.Option{catalog.WithLogger(logger.Named("catalog"))}
	var sink analytics.Sink
	trackOpts := []analytics.Option{analytics.WithLogger(logger.Named("analytics"))}
	if a.mongo != nil {
		catOpts = append(catOpts, catalog.WithMirror(a.mongo))
		sink = a.mongo
		trackOpts = append(trackOpts, analytics.WithReports(a.mongo))
	}

	a.index = index.New(index.WithTimeout(cfg.IndexTimeout), index.WithLogger(logger.Named("index")))
	a.tracker = analytics.New(sink, trackOpts...)
	a.svc = smartsearch.New(smartsearch.Config{
		Catalog: catalog.New(cfg.RegistryURL, slots, catOpts...),
		Index:   a.index,
		Classifier: classifier.NewGroq(cfg.GroqAPIKey,
			classifier.WithModel(cfg.GroqModel),
			classifier.WithLogger(logger.Named("classifier"))),
		Variants: diversify.NewVariantCache(slots,
			diversify.WithTTL(cfg.VariantTTL),
			diversify.WithLogger(logger.Named("variants"))),
		Tracker: a.tracker,
		Logger:  logger.Named("search"),
	})
	return a
}

// close flushes analytics and releases every connection.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracker.Close(ctx); err != nil {
		a.logger.Warn("analytics flush interrupted", zap.Error(err))
	}
	a.index.Close()
	if a.mongo != nil {
		_ = a.mongo.Disconnect(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
