package leafserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/leaf-server/pkg/infra/pool"
	"github.com/kart-io/leaf-server/pkg/lifetime"
	httpopts "github.com/kart-io/leaf-server/pkg/options/server/http"
	"github.com/kart-io/leaf-server/pkg/serviceinfo"
)

// StatusSource is what the admin endpoints report on.
type StatusSource interface {
	HealthState() lifetime.HealthState
	Stats() lifetime.Snapshot
	Threshold() int64
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Stats     lifetime.Snapshot `json:"stats"`
	Threshold int64             `json:"threshold"`
	Health    string            `json:"health"`
	Pool      *PoolStatus       `json:"pool,omitempty"`
}

// PoolStatus reports the request worker pool.
type PoolStatus struct {
	Name    string     `json:"name"`
	Workers int        `json:"workers"`
	Running int        `json:"running"`
	Waiting int        `json:"waiting"`
	Tasks   pool.Stats `json:"tasks"`
}

func poolStatus(p *pool.Pool) *PoolStatus {
	if p == nil {
		return nil
	}
	return &PoolStatus{
		Name:    p.Name(),
		Workers: p.Cap(),
		Running: p.Running(),
		Waiting: p.Waiting(),
		Tasks:   p.Stats(),
	}
}

// AdminOption configures an Admin.
type AdminOption func(*adminOptions)

type adminOptions struct {
	pool *pool.Pool
}

// WithWorkerPool adds the request worker pool to GET /stats.
func WithWorkerPool(p *pool.Pool) AdminOption {
	return func(o *adminOptions) {
		o.pool = p
	}
}

// Admin serves /healthz, /info, /stats and /metrics.
type Admin struct {
	opts   *httpopts.Options
	engine *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewAdmin builds the admin HTTP server.
func NewAdmin(opts *httpopts.Options, status StatusSource, info *serviceinfo.Provider, gatherer prometheus.Gatherer, adminOpts ...AdminOption) *Admin {
	if opts == nil {
		opts = httpopts.NewOptions()
	}
	ao := &adminOptions{}
	for _, opt := range adminOpts {
		opt(ao)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		state := status.HealthState()
		code := http.StatusOK
		if state != lifetime.HealthServing {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": state.String()})
	})
	engine.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, info.Info())
	})
	engine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, StatsResponse{
			Stats:     status.Stats(),
			Threshold: status.Threshold(),
			Health:    status.HealthState().String(),
			Pool:      poolStatus(ao.pool),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Admin{opts: opts, engine: engine}
}

// Handler returns the HTTP handler.
func (a *Admin) Handler() http.Handler {
	return a.engine
}

// Addr returns the bound address, nil before Start.
func (a *Admin) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Start listens on the configured address and serves in the background.
func (a *Admin) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.opts.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      a.engine,
		ReadTimeout:  a.opts.ReadTimeout,
		WriteTimeout: a.opts.WriteTimeout,
		IdleTimeout:  a.opts.IdleTimeout,
	}
	a.mu.Lock()
	a.server = srv
	a.listener = lis
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infow("Admin HTTP server started", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	default:
		return nil
	}
}

// Stop shuts the server down, waiting for open requests until ctx is done.
func (a *Admin) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
