package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suspectuso/usdt-tracker/internal/reconcile"
	"github.com/suspectuso/usdt-tracker/internal/storage"
)

// Reconciler runs one reconciliation pass on demand
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// Server is the HTTP facade for integrators
type Server struct {
	storage    *storage.Storage
	engine     Reconciler
	pendingTTL time.Duration
	log        *slog.Logger

	router *gin.Engine
	server *http.Server
}

// NewServer builds the router. engine may be nil, in which case /process-payments is not served.
func NewServer(store *storage.Storage, engine Reconciler, pendingTTL time.Duration, log *slog.Logger) *Server {
	s := &Server{
		storage:    store,
		engine:     engine,
		pendingTTL: pendingTTL,
		log:        log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(s.log), AccessLog(s.log))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/")
	authed.Use(Auth(s.storage, s.log))
	{
		authed.POST("/create-payment", s.handleCreatePayment)
		authed.GET("/check-payment/:id", s.handleCheckPayment)
		authed.POST("/get-payment-wallet", s.handleGetPaymentWallet)
		authed.POST("/check-user-payments", s.handleCheckUserPayments)
		authed.GET("/balance/:user_id", s.handleBalance)

		if s.engine != nil {
			authed.POST("/process-payments", SystemOnly(), s.handleProcessPayments)
		}
	}

	return r
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until ctx is done
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api server shutdown", "error", err)
		}
	}()

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
