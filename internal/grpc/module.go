package grpc

import (
	"context"
	"net"
	"time"

	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

const healthInterval = 15 * time.Second

var Module = fx.Options(
	fx.Provide(
		NewHealthServer,
		NewServer,
		NewListener,
	),
	fx.Invoke(lifecycleHook),
)

type hookParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Server    *grpc.Server
	Health    *health.Server
	Listener  net.Listener
	Pinger    workflow.Pinger
}

func lifecycleHook(p hookParams) {
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Log.Info("grpc server starting", zap.String("addr", p.Listener.Addr().String()))
			UpdateHealth(ctx, p.Health, p.Pinger)
			go func() {
				if err := p.Server.Serve(p.Listener); err != nil {
					p.Log.Error("grpc server error", zap.Error(err))
				}
			}()
			go watchHealth(done, p.Log, p.Health, p.Pinger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Log.Info("grpc server stopping")
			close(done)
			p.Health.Shutdown()
			p.Server.GracefulStop()
			return nil
		},
	})
}

func watchHealth(done <-chan struct{}, log *zap.Logger, hs *health.Server, pinger workflow.Pinger) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	last := UpdateHealth(context.Background(), hs, pinger)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			status := UpdateHealth(context.Background(), hs, pinger)
			if status != last {
				log.Warn("grpc health changed", zap.String("status", status.String()))
				last = status
			}
		}
	}
}
