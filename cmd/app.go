package cmd

import (
	"context"
	"errors"
	"fmt"

	"payfast-reconciler/config"
	"payfast-reconciler/internal/events"
	"payfast-reconciler/internal/services"
	"payfast-reconciler/internal/services/payfast"
	"payfast-reconciler/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the process-wide components shared by every sub-command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	redis      *redis.Client
	gateway    *payfast.Client
	reconciler *services.Reconciler
	payments   *services.PaymentService
	sink       events.Sink

	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := utils.NewLogger(cfg.PayFast.EnabledDebugLogging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.shutdownTracing, err = initTracing(ctx, "payfast-reconciler", cfg.Server.Environment)
	if err != nil {
		return nil, err
	}

	var sequencer services.Sequencer = services.NewAtomicSequencer()
	if cfg.Redis.URL != "" {
		a.redis, err = utils.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		sequencer = services.NewRedisSequencer(a.redis, cfg.Redis.SequenceKey)
	}

	a.gateway, err = payfast.New(&cfg.PayFast, logger)
	if err != nil {
		return nil, fmt.Errorf("init payfast client: %w", err)
	}

	a.reconciler = services.NewReconciler(a.gateway, logger, services.WithDebugLogging(cfg.PayFast.EnabledDebugLogging))
	a.payments = services.NewPaymentService(a.gateway, a.reconciler, sequencer, services.PaymentServiceConfig{
		IntentOptions: cfg.Intent,
		Salt:          cfg.PayFast.Salt,
		Debug:         cfg.PayFast.EnabledDebugLogging,
	}, logger)

	a.sink, err = newSink(cfg, logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func newSink(cfg *config.Config, logger *zap.Logger) (events.Sink, error) {
	var sinks events.Fanout
	if cfg.PubNub.PublishKey != "" {
		sinks = append(sinks, events.VerifiedOnly{Sink: events.NewPubNubSink(cfg.PubNub, logger)})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.NewKafkaSink(producer, cfg.Kafka.Topic, logger))
	}
	if len(sinks) == 0 {
		logger.Warn("no event sink configured, webhook events are dropped after verification")
		return events.Nop{}, nil
	}
	return sinks, nil
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
