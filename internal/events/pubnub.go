package events

import (
	"context"
	"fmt"

	"payfast-reconciler/models"

	pubnub "github.com/pubnub/go/v7"
	"go.uber.org/zap"
)

type PubNubConfig struct {
	PublishKey   string `mapstructure:"publish_key"`
	SubscribeKey string `mapstructure:"subscribe_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UserID       string `mapstructure:"user_id"`
	// ChannelPrefix is joined with the merchant transaction id, e.g.
	// "payment-T123".
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type publishFunc func(channel string, message any) error

// PubNubSink pushes each event to a per-transaction channel so a waiting
// checkout page learns the outcome without polling.
type PubNubSink struct {
	prefix  string
	publish publishFunc
	logger  *zap.Logger
}

func NewPubNubSink(cfg PubNubConfig, logger *zap.Logger) *PubNubSink {
	userID := cfg.UserID
	if userID == "" {
		userID = "payfast-reconciler"
	}
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	pn := pubnub.NewPubNub(pnCfg)

	return newPubNubSink(cfg.ChannelPrefix, func(channel string, message any) error {
		_, _, err := pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		return err
	}, logger)
}

func newPubNubSink(prefix string, publish publishFunc, logger *zap.Logger) *PubNubSink {
	if prefix == "" {
		prefix = "payment"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubNubSink{prefix: prefix, publish: publish, logger: logger.Named("pubnub")}
}

func (s *PubNubSink) Channel(id string) string {
	return fmt.Sprintf("%s-%s", s.prefix, id)
}

func (s *PubNubSink) Publish(ctx context.Context, event models.PayFastEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	channel := s.Channel(event.ID)
	if err := s.publish(channel, map[string]any{
		"type": event.Type,
		"id":   event.ID,
		"data": event.Data.Object,
	}); err != nil {
		return fmt.Errorf("pubnub publish %s: %w", channel, err)
	}

	s.logger.Debug("event published", zap.String("channel", channel), zap.String("type", event.Type))
	return nil
}

func (s *PubNubSink) Close() error { return nil }
