// Package server exposes the rating engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quentel/ratecore/internal/config"
	"github.com/quentel/ratecore/internal/pipeline"
	ratingdomain "github.com/quentel/ratecore/internal/rating/domain"
	"github.com/quentel/ratecore/internal/txn"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Server routes rating requests to the driver and pipeline.
type Server struct {
	log      *zap.Logger
	cfg      config.Config
	driver   ratingdomain.Driver
	pipeline *pipeline.Pipeline
	arena    *txn.Arena
	genID    *snowflake.Node
}

type Param struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Driver   ratingdomain.Driver
	Pipeline *pipeline.Pipeline
	Arena    *txn.Arena
	GenID    *snowflake.Node
}

func New(p Param) *Server {
	return &Server{
		log:      p.Log.Named("server"),
		cfg:      p.Cfg,
		driver:   p.Driver,
		pipeline: p.Pipeline,
		arena:    p.Arena,
		genID:    p.GenID,
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RegisterRoutes mounts the rating API.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/rate", s.rate)
	v1.POST("/batches", s.submitBatch)
	v1.POST("/authorize", s.authorize)
	v1.GET("/counters/:group/:id", s.counterBalance)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Module wires the HTTP server.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(New),
	fx.Invoke(func(s *Server, r *gin.Engine) { s.RegisterRoutes(r) }),
	fx.Invoke(run),
)
