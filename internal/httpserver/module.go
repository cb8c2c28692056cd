package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ronappleton/lmnp-workflow/internal/config"
	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	engine   *workflow.Engine
	pinger   workflow.Pinger
	validate *validator.Validate
	handler  http.Handler
	srv      *http.Server
}

func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewServer),
		fx.Invoke(RegisterHooks),
	)
}

func NewServer(cfg config.Config, logger *zap.Logger, engine *workflow.Engine, pinger workflow.Pinger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("http"),
		engine:   engine,
		pinger:   pinger,
		validate: validator.New(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/steps", s.handleListSteps)

	mux.HandleFunc("POST /v1/lots/{lot_id}/workflow", s.handleInitialize)
	mux.HandleFunc("DELETE /v1/lots/{lot_id}/workflow", s.handleResetWorkflow)
	mux.HandleFunc("GET /v1/lots/{lot_id}/workflow/current", s.handleCurrentStep)
	mux.HandleFunc("GET /v1/lots/{lot_id}/workflow/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/lots/{lot_id}/workflow/timeline", s.handleTimeline)
	mux.HandleFunc("GET /v1/lots/{lot_id}/workflow/followups", s.handleFollowUps)

	mux.HandleFunc("POST /v1/lots/{lot_id}/steps/{code}/complete", s.handleComplete)
	mux.HandleFunc("POST /v1/lots/{lot_id}/steps/{code}/skip", s.handleSkip)
	mux.HandleFunc("POST /v1/lots/{lot_id}/steps/{code}/reset", s.handleResetStep)
	mux.HandleFunc("POST /v1/lots/{lot_id}/steps/{code}/resend", s.handleResend)
	mux.HandleFunc("POST /v1/lots/{lot_id}/steps/{code}/automatic", s.handleAutomatic)

	s.handler = otelhttp.NewHandler(ActorMiddleware(cfg.Auth.JWTSecret)(mux), "lmnp-workflow")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func RegisterHooks(lc fx.Lifecycle, server *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			server.logger.Info("http server starting", zap.String("addr", server.srv.Addr))
			go func() {
				if err := server.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					server.logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			server.logger.Info("http server stopping")
			return server.srv.Shutdown(shutdownCtx)
		},
	})
}
