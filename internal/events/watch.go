package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Watch subscribes to every subject under the configured prefix and calls
// fn for each decoded event until ctx is done. fn runs on the NATS
// delivery goroutine; messages that fail to decode are logged and
// skipped.
func Watch(ctx context.Context, cfg *Config, logger *logging.Logger, fn func(subject string, ev foreign.Event), opts ...nats.Option) error {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid nats config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("events")

	nc, err := dial(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer nc.Close()

	subject := cfg.SubjectPrefix + ".>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev foreign.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn(ctx, "skipping undecodable event",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(msg.Subject, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := nc.FlushTimeout(cfg.FlushTimeout.Duration()); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}
	logger.Debug(ctx, "watching events", zap.String("subject", subject))

	<-ctx.Done()
	return nil
}
