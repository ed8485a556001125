package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-response/internal/agent"
	"github.com/danielpatrickdp/adaptive-response/internal/buffer"
	"github.com/danielpatrickdp/adaptive-response/internal/config"
	"github.com/danielpatrickdp/adaptive-response/internal/guard"
	"github.com/danielpatrickdp/adaptive-response/internal/kv"
	"github.com/danielpatrickdp/adaptive-response/internal/logging"
	"github.com/danielpatrickdp/adaptive-response/internal/metrics"
	"github.com/danielpatrickdp/adaptive-response/internal/registry"
	"github.com/danielpatrickdp/adaptive-response/internal/reward"
	"github.com/danielpatrickdp/adaptive-response/internal/textgen"
	"github.com/danielpatrickdp/adaptive-response/internal/training"
)

// #region main

func main() {
	cfg := config.Load()
	log := logging.New()
	rootLog := logging.Component(log, "agentd")

	store, err := registry.NewStore(cfg.RegistryDB)
	if err != nil {
		rootLog.WithError(err).Fatal("open model registry")
	}
	defer store.Close()

	regCfg := registry.Config{Tolerance: 0.02, Seed: cfg.Seed}
	models, err := registry.NewManager(regCfg, store, logging.Component(log, "registry"))
	if err != nil {
		rootLog.WithError(err).Fatal("init model manager")
	}

	var archive *buffer.Archive
	if cfg.ArchiveDB != "" {
		archive, err = buffer.NewArchive(cfg.ArchiveDB)
		if err != nil {
			rootLog.WithError(err).Fatal("open experience archive")
		}
		defer archive.Close()
	}

	profiles, sink, closeRedis := wireRedis(cfg, log)
	defer closeRedis()

	generator, encoder := wireTextgen(cfg)

	buf := buffer.New(buffer.DefaultConfig())
	rewards := reward.NewSystem(reward.DefaultConfig(), logging.Component(log, "reward"))
	gd := guard.New(guard.DefaultConfig(), nil)

	trainCfg := training.DefaultConfig()
	trainCfg.Seed = cfg.Seed
	trainer := training.NewManager(trainCfg, buf, models, sink, logging.Component(log, "training"))

	agentCfg := agent.DefaultConfig()
	agentCfg.FeedbackWindow = cfg.FeedbackWindow
	agentCfg.SweepInterval = cfg.SweepInterval
	agentCfg.Seed = cfg.Seed
	ctrl := agent.NewController(agentCfg, agent.Deps{
		Models:    models,
		Guard:     gd,
		Rewards:   rewards,
		Buffer:    buf,
		Archive:   archive,
		Profiles:  profiles,
		Generator: generator,
		Encoder:   encoder,
		Trainer:   trainer,
		Sink:      sink,
		Log:       logging.Component(log, "agent"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go trainer.Run(ctx)
	go ctrl.Run(ctx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: newRouter(ctrl, models)}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	rootLog.WithField("addr", cfg.ListenAddr).Info("agent daemon listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rootLog.WithError(err).Fatal("serve")
	}
}

// #endregion main

// #region wiring

// wireRedis builds the profile store and event sink. With REDIS_ADDR set,
// profiles live in redis and events publish to the configured channel; the
// log sink still receives every event. Without it, everything stays
// in-process.
func wireRedis(cfg config.Config, log *logrus.Logger) (*agent.ProfileStore, metrics.Sink, func()) {
	logSink := metrics.LogSink{Log: logging.Component(log, "events")}

	if cfg.RedisAddr == "" {
		store, _ := kv.NewStore(kv.StoreTypeMemory)
		return agent.NewProfileStore(store), logSink, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	store, err := kv.NewStore(kv.StoreTypeRedis, kv.WithRedisClient(client))
	if err != nil {
		logging.Component(log, "agentd").WithError(err).Fatal("init redis store")
	}
	sink := metrics.Multi{
		logSink,
		metrics.RedisSink{
			Client:  client,
			Channel: cfg.EventChannel,
			Log:     logging.Component(log, "events"),
		},
	}
	return agent.NewProfileStore(store), sink, func() { _ = client.Close() }
}

// wireTextgen selects the hosted generator when an API key is configured
// and the deterministic fake otherwise, so local runs stay hermetic.
func wireTextgen(cfg config.Config) (textgen.Generator, textgen.Encoder) {
	if cfg.OpenAIKey == "" {
		f := &textgen.Fake{}
		return f, f
	}
	c := textgen.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.ChatModel, cfg.EmbedModel)
	return c, c
}

// #endregion wiring
