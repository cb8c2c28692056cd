package logging

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const serviceName = "lmnp-workflow"

func Module() fx.Option {
	return fx.Options(
		fx.Provide(func(lc fx.Lifecycle) (*zap.Logger, error) {
			logger, err := New(serviceName)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{OnStop: func(context.Context) error {
				_ = logger.Sync()
				return nil
			}})
			return logger, nil
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
}

// New builds the service logger. APP_LOG_DEV=true switches to the console encoder.
func New(service string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if os.Getenv("APP_LOG_DEV") == "true" {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", service))
	return attachMetricSink(logger, service), nil
}
